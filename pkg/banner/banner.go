package banner

import (
	"fmt"

	"parley/pkg/config"
)

const banner = `
██████╗  █████╗ ██████╗ ██╗     ███████╗██╗   ██╗
██╔══██╗██╔══██╗██╔══██╗██║     ██╔════╝╚██╗ ██╔╝
██████╔╝███████║██████╔╝██║     █████╗   ╚████╔╝
██╔═══╝ ██╔══██║██╔══██╗██║     ██╔══╝    ╚██╔╝
██║     ██║  ██║██║  ██║███████╗███████╗   ██║
╚═╝     ╚═╝  ╚═╝╚═╝  ╚═╝╚══════╝╚══════╝   ╚═╝
`

// Print writes the startup banner using the effective config, which
// carries the merged flag/env/file view plus its provenance.
func Print(eff config.EffectiveConfigResult, version, serverID string) {
	addr := eff.Addr
	if addr == "" && eff.Config != nil {
		addr = eff.Config.Addr()
	}
	dbPath := eff.DBPath
	if dbPath == "" && eff.Config != nil {
		dbPath = eff.Config.Server.DBPath
	}
	src := eff.Source
	if src == "" {
		src = "flags"
	}

	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Listen:    %s\n", addr)
	fmt.Printf("DB Path:   %s\n", dbPath)
	fmt.Printf("Server ID: %s\n", serverID)
	if version != "" {
		fmt.Printf("Version:   %s\n", version)
	}
	fmt.Printf("Config:    %s\n", src)

	relayAddr := ""
	if eff.Config != nil {
		relayAddr = eff.Config.Relay.Address
	}
	if relayAddr != "" {
		fmt.Printf("Relay:     %s (poll %s)\n", relayAddr, eff.Config.Relay.PollInterval())
	} else {
		fmt.Println("Relay:     standalone (no peer configured)")
	}

	adminAddr := ""
	if eff.Config != nil {
		adminAddr = eff.Config.Admin.Address
	}
	if adminAddr != "" {
		fmt.Printf("Admin:     http://%s (/healthz /readyz /admin/stats /metrics)\n", adminAddr)
	} else {
		fmt.Println("Admin:     disabled (set admin.address to enable)")
	}

	fmt.Println("\n== Production? =================================================")
	if eff.Config != nil && eff.Config.Relay.Secret != "" {
		fmt.Println("- Relay secret: configured")
	} else if relayAddr != "" {
		fmt.Println("- Relay secret: MISSING (peer will reject unauthenticated reads)")
	}
	if eff.Config != nil && eff.Config.Server.ID != "" {
		fmt.Println("- Server ID: pinned")
	} else {
		fmt.Println("- Server ID: generated per run (pin with --id for federation)")
	}
	if dbPath != "" {
		fmt.Printf("- DB Path: %s\n", dbPath)
	} else {
		fmt.Println("- DB Path: not set (use --db or PARLEY_SERVER_DB_PATH)")
	}
	maintEnabled := eff.Config != nil && eff.Config.Maintenance.Enabled
	if maintEnabled {
		fmt.Printf("- Maintenance: enabled (cron=%s)\n", eff.Config.Maintenance.Cron)
	} else {
		fmt.Println("- Maintenance: disabled")
	}

	fmt.Println("\n== Logs: =================================================")
}
