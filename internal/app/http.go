package app

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"parley/pkg/store"
)

// adminRouter serves liveness, readiness, stats and metrics. The chat
// protocol itself never travels over HTTP; this surface exists for
// operators and probes only.
func (a *App) adminRouter() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", healthzHandler).Methods(http.MethodGet)
	r.HandleFunc("/readyz", a.readyzHandler).Methods(http.MethodGet)
	r.HandleFunc("/admin/stats", a.statsHandler).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return r
}

func healthzHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (a *App) readyzHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if !store.Ready() || a.ln == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"not ready"}`))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (a *App) statsHandler(w http.ResponseWriter, _ *http.Request) {
	users, convs, msgs := store.Counts()
	disk, _ := store.DiskEstimate()
	stats := struct {
		ServerID      string `json:"server_id"`
		Users         int    `json:"users"`
		Conversations int    `json:"conversations"`
		Messages      int    `json:"messages"`
		Sessions      int    `json:"sessions"`
		RelayCursor   string `json:"relay_cursor"`
		DiskBytes     uint64 `json:"disk_bytes"`
	}{
		ServerID:      a.serverID.String(),
		Users:         users,
		Conversations: convs,
		Messages:      msgs,
		Sessions:      a.server.Broadcast().Size(),
		RelayCursor:   store.RelayCursor().String(),
		DiskBytes:     disk,
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(stats)
}
