/*
Ce programme, `reminder`, relance périodiquement les contrats arrivant à échéance.

À chaque intervalle il parcourt les contrats du stockage configuré et publie un
événement ContractReminder sur `contracts.reminders` pour chaque contrat non
expiré dont l'échéance tombe dans l'horizon. L'arrêt (Ctrl+C) attend la fin
du passage en cours puis vide le tampon du producteur.
*/
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"purifier-console/internal/app"
	"purifier-console/internal/config"
	"purifier-console/internal/logging"
	"purifier-console/internal/metrics"
)

// reminderSender est la partie du service utilisée par la boucle.
type reminderSender interface {
	SendReminders(ctx context.Context, horizonDays int) (int, error)
}

func main() {
	configPath := flag.String("config", "", "fichier de configuration YAML (défaut: $CONSOLE_CONFIG)")
	once := flag.Bool("once", false, "un seul passage puis arrêt")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("configuration invalide: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	console, err := app.Build(ctx, cfg, "reminder")
	if err != nil {
		log.Fatalf("démarrage impossible: %v", err)
	}
	defer console.Close()

	if cfg.HTTP.MetricsPort != "" {
		metricsServer := metrics.StartServer(":" + cfg.HTTP.MetricsPort)
		defer metrics.Shutdown(context.Background(), metricsServer)
	}

	log.Printf("🟢 Relances démarrées (intervalle %s, horizon %d jours)", cfg.Reminder.Interval, cfg.Reminder.Horizon)

	runPass(ctx, console.Service, console.Logger, cfg.Reminder.Horizon)
	if *once {
		return
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(cfg.Reminder.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-sigChan:
			log.Println("🔴 Arrêt des relances")
			log.Println("⏳ Envoi des messages restants...")
			return
		case <-ticker.C:
			runPass(ctx, console.Service, console.Logger, cfg.Reminder.Horizon)
		}
	}
}

// runPass exécute un passage et renvoie le nombre de rappels publiés.
func runPass(ctx context.Context, sender reminderSender, logger *logging.Logger, horizon int) int {
	start := time.Now()
	sent, err := sender.SendReminders(ctx, horizon)
	if err != nil {
		logger.Error("Passage de relance interrompu", err, map[string]any{"sent": sent})
		log.Printf("❌ relances interrompues après %d envois: %v", sent, err)
		return sent
	}
	logger.Info("Passage de relance terminé", map[string]any{
		"sent":     sent,
		"horizon":  horizon,
		"duration": time.Since(start).String(),
	})
	log.Printf("✅ %d rappel(s) publié(s)", sent)
	return sent
}
