package metrics

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
)

// Handler expose un instantané JSON des compteurs.
func Handler(c *Counters) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(c.Snapshot()); err != nil {
			log.Printf("écriture métriques impossible: %v", err)
		}
	})
}

// StartServer démarre un serveur /metrics + /healthz pour les binaires
// sans API HTTP (projecteur, rappels, inspecteur DLQ).
func StartServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(Default))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("serveur métriques arrêté: %v", err)
		}
	}()

	return server
}

// Shutdown arrête proprement un serveur de métriques.
func Shutdown(ctx context.Context, server *http.Server) {
	if server == nil {
		return
	}
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("arrêt serveur métriques impossible: %v", err)
	}
}
