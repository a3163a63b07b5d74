/*
Ce programme, `console-api`, expose la console de vente et de maintenance des
purificateurs en HTTP/JSON.

Il charge la configuration (fichier YAML nommé par CONSOLE_CONFIG puis variables
d'environnement), assemble le stockage (PostgreSQL ou mémoire), le verrou de
renouvellement (Redis ou local) et le bus d'événements (Kafka ou journal), puis
sert les routes de chiffrage, de commande et de gestion des contrats.

L'arrêt sur SIGINT/SIGTERM laisse 5 secondes aux requêtes en cours.
*/
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"purifier-console/internal/app"
	"purifier-console/internal/config"
	"purifier-console/internal/httpapi"
	"purifier-console/internal/metrics"
)

func main() {
	configPath := flag.String("config", "", "fichier de configuration YAML (défaut: $CONSOLE_CONFIG)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("configuration invalide: %v", err)
	}

	// Les montants sortent en nombres JSON plutôt qu'en chaînes.
	decimal.MarshalJSONWithoutQuotes = true
	gin.SetMode(gin.ReleaseMode)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	console, err := app.Build(ctx, cfg, "console-api")
	if err != nil {
		log.Fatalf("démarrage impossible: %v", err)
	}
	defer console.Close()

	handler := httpapi.NewHandler(console.Service, metrics.Default, console.Logger)
	server := &http.Server{
		Addr:              ":" + cfg.HTTP.Port,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	var metricsServer *http.Server
	if cfg.HTTP.MetricsPort != "" {
		metricsServer = metrics.StartServer(":" + cfg.HTTP.MetricsPort)
		defer metrics.Shutdown(context.Background(), metricsServer)
	}

	go metrics.Default.Report(ctx, 30*time.Second, func(snapshot map[string]any) {
		console.Logger.Info("Métriques système périodiques", snapshot)
	})

	errChan := make(chan error, 1)
	go func() {
		log.Printf("🟢 Console disponible sur :%s", cfg.HTTP.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	sigchan := make(chan os.Signal, 1)
	signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigchan:
		log.Printf("🔴 arrêt demandé (%s)", sig)
	case err := <-errChan:
		log.Printf("❌ serveur HTTP interrompu: %v", err)
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)
}
