// Command health-nethttp is a lean sidecar probe: it reports its own
// liveness and, when given a target, relays the parley admin /readyz
// verdict so load balancers can front the chat port with an HTTP check.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"time"
)

func probeHandler(target, ver string, client *http.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if target == "" {
			w.WriteHeader(http.StatusOK)
			fmt.Fprintf(w, "{\"status\":\"ok\",\"version\":%q}", ver)
			return
		}
		resp, err := client.Get(target + "/readyz")
		if err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintf(w, "{\"status\":\"unreachable\",\"version\":%q}", ver)
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintf(w, "{\"status\":\"not ready\",\"version\":%q}", ver)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "{\"status\":\"ok\",\"upstream\":\"ready\",\"version\":%q}", ver)
	}
}

func main() {
	addr := flag.String("addr", ":8082", "listen address for net/http health probe")
	ver := flag.String("version", "dev", "version string to return")
	target := flag.String("target", "", "parley admin base URL to probe (e.g. http://127.0.0.1:9090)")
	flag.Parse()

	h := probeHandler(*target, *ver, &http.Client{Timeout: 2 * time.Second})
	mux := http.NewServeMux()
	mux.HandleFunc("/health", h)
	mux.HandleFunc("/healthz", h)

	srv := &http.Server{
		Addr:         *addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	fmt.Printf("net/http health probe listening on %s\n", *addr)
	if err := srv.ListenAndServe(); err != nil {
		fmt.Printf("net/http server exit: %v\n", err)
	}
}
