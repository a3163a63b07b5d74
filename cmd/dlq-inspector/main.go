/*
Ce programme, `dlq-inspector`, affiche les messages écartés dans `console.dlq`
avec leur origine, leur motif et un aperçu du contenu.
*/
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"purifier-console/internal/bus"
	"purifier-console/internal/config"
	"purifier-console/internal/logging"
	"purifier-console/internal/metrics"
)

const previewLimit = 256

// dlqRecord est la vue journalisée d'un message en DLQ.
type dlqRecord struct {
	Key       string
	Origin    string
	Reason    string
	Published string
	Preview   string
	Size      int
}

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("configuration invalide: %v", err)
	}

	logger, err := logging.Open(getEnv("DLQ_INSPECTOR_LOG", "-"), "dlq-inspector")
	if err != nil {
		log.Fatalf("journal impossible: %v", err)
	}
	defer logger.Close()

	messageBus, err := bus.NewBus(bus.Config{
		BootstrapServers: cfg.Kafka.BootstrapServers,
		ClientID:         cfg.Kafka.ClientID + "-dlq-inspector",
		Logger:           logger,
	})
	if err != nil {
		log.Fatalf("échec création bus: %v", err)
	}
	defer messageBus.Close()

	consumer, err := messageBus.NewConsumer("console-dlq-inspector", "earliest")
	if err != nil {
		log.Fatalf("échec création consumer: %v", err)
	}
	defer consumer.Close()

	if err := consumer.SubscribeTopics([]string{cfg.Kafka.Topics.DLQ}, nil); err != nil {
		log.Fatalf("abonnement impossible: %v", err)
	}

	if port := getEnv("DLQ_METRICS_PORT", ""); port != "" {
		metricsServer := metrics.StartServer(":" + port)
		defer metrics.Shutdown(context.Background(), metricsServer)
	}

	sigchan := make(chan os.Signal, 1)
	signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)

	log.Println("🟢 Inspection DLQ démarrée")

	for {
		select {
		case <-sigchan:
			log.Println("🔴 Arrêt du DLQ inspector")
			return
		default:
			msg, err := consumer.ReadMessage(500 * time.Millisecond)
			if err != nil {
				if bus.IsTimeout(err) {
					continue
				}
				log.Printf("lecture DLQ impossible: %v", err)
				continue
			}

			rec := inspect(msg.Key, msg.Value, bus.HeaderMap(msg))
			log.Printf("📥 DLQ key=%s origin=%s reason=%s size=%d", rec.Key, rec.Origin, rec.Reason, rec.Size)
			logger.Warn("Message en DLQ", map[string]any{
				"key":       rec.Key,
				"origin":    rec.Origin,
				"reason":    rec.Reason,
				"published": rec.Published,
				"preview":   rec.Preview,
			})
			metrics.Default.IncConsumed()
		}
	}
}

func inspect(key, value []byte, headers map[string]string) dlqRecord {
	preview := string(value)
	if len(preview) > previewLimit {
		preview = preview[:previewLimit] + "…"
	}
	rec := dlqRecord{
		Key:       string(key),
		Origin:    headers["dlq-origin"],
		Reason:    headers["reason"],
		Published: headers["published"],
		Preview:   preview,
		Size:      len(value),
	}
	if rec.Origin == "" {
		rec.Origin = "inconnue"
	}
	if rec.Reason == "" {
		rec.Reason = "non précisé"
	}
	return rec
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
