package config

import (
	"flag"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Flags holds parsed command-line flag values and which were set.
type Flags struct {
	Addr   string
	DB     string
	Config string
	ID     string
	Relay  string
	Set    map[string]bool
}

// EffectiveConfigResult is the merged view of flags, env and config file.
type EffectiveConfigResult struct {
	Config *Config
	Addr   string
	DBPath string
	Source string // "flags", "env" or "config"
}

// ParseConfigFlags parses command-line flags and records which were set.
func ParseConfigFlags() Flags {
	addrPtr := flag.String("addr", ":2007", "chat protocol listen address")
	dbPtr := flag.String("db", "./.parley-db", "pebble DB path")
	cfgPtr := flag.String("config", "./config.yaml", "path to config file")
	idPtr := flag.String("id", "", "server identity UUID for the relay")
	relayPtr := flag.String("relay", "", "relay peer host:port (empty = standalone)")
	flag.Parse()
	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return Flags{Addr: *addrPtr, DB: *dbPtr, Config: *cfgPtr, ID: *idPtr, Relay: *relayPtr, Set: set}
}

// Load parses the YAML config file at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ResolveConfigPath picks the config file path: an explicit flag wins,
// then PARLEY_CONFIG, then the flag default.
func ResolveConfigPath(flagPath string, flagSet bool) string {
	if flagSet {
		return flagPath
	}
	if v := os.Getenv("PARLEY_CONFIG"); v != "" {
		return v
	}
	return flagPath
}

// applyEnv overlays PARLEY_* environment variables onto cfg, reporting
// whether any were present.
func applyEnv(cfg *Config) bool {
	used := false
	setStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
			used = true
		}
	}
	setStr("PARLEY_SERVER_ADDRESS", &cfg.Server.Address)
	setStr("PARLEY_SERVER_DB_PATH", &cfg.Server.DBPath)
	setStr("PARLEY_SERVER_ID", &cfg.Server.ID)
	setStr("PARLEY_RELAY_ADDR", &cfg.Relay.Address)
	setStr("PARLEY_RELAY_SECRET", &cfg.Relay.Secret)
	setStr("PARLEY_ADMIN_ADDR", &cfg.Admin.Address)
	setStr("PARLEY_LOG_LEVEL", &cfg.Logging.Level)
	if v := os.Getenv("PARLEY_SERVER_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
			used = true
		}
	}
	if v := os.Getenv("PARLEY_RELAY_POLL_MS"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Relay.PollMS = p
			used = true
		}
	}
	return used
}

// LoadEffective merges config file, env and flags (flags win, then env,
// then file) into the values the server actually runs with.
func LoadEffective(flags Flags) (EffectiveConfigResult, error) {
	cfgPath := ResolveConfigPath(flags.Config, flags.Set["config"])

	cfg := &Config{}
	source := "flags"
	if loaded, err := Load(cfgPath); err == nil {
		cfg = loaded
		source = "config"
	} else if !os.IsNotExist(err) {
		return EffectiveConfigResult{}, err
	}

	if applyEnv(cfg) {
		source = "env"
	}

	if flags.Set["id"] {
		cfg.Server.ID = flags.ID
	}
	if flags.Set["relay"] {
		cfg.Relay.Address = flags.Relay
	}

	addr := cfg.Addr()
	if flags.Set["addr"] || (cfg.Server.Address == "" && cfg.Server.Port == 0) {
		addr = flags.Addr
	}
	dbPath := cfg.Server.DBPath
	if flags.Set["db"] || dbPath == "" {
		dbPath = flags.DB
	}

	return EffectiveConfigResult{Config: cfg, Addr: addr, DBPath: dbPath, Source: source}, nil
}
