/*
Ce programme, `replayer`, reconstruit les projections client à partir de
l'historique complet de `contracts.events`.

Il lit le topic depuis le début avec un groupe de consommateurs éphémère,
s'arrête après une période sans message et écrit le résultat en JSON.
*/
package main

import (
	"encoding/json"
	"flag"
	"io"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"purifier-console/internal/bus"
	"purifier-console/internal/config"
	"purifier-console/internal/events"
	"purifier-console/internal/storage"
)

// replayReport est le contenu du fichier produit.
type replayReport struct {
	GeneratedAt string                        `json:"generated_at"`
	Applied     int                           `json:"applied"`
	Skipped     int                           `json:"skipped"`
	Summaries   []events.CustomerSummaryEvent `json:"summaries"`
}

func main() {
	output := flag.String("output", getEnv("REPLAYER_OUTPUT", "replay-projections.json"), "fichier de sortie JSON pour les projections reconstruites")
	flag.Parse()

	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("configuration invalide: %v", err)
	}

	messageBus, err := bus.NewBus(bus.Config{
		BootstrapServers: cfg.Kafka.BootstrapServers,
		ClientID:         cfg.Kafka.ClientID + "-replayer",
		DLQTopic:         cfg.Kafka.Topics.DLQ,
	})
	if err != nil {
		log.Fatalf("échec création bus: %v", err)
	}
	defer messageBus.Close()

	groupID := "console-replayer-" + uuid.NewString()
	consumer, err := messageBus.NewConsumer(groupID, "earliest")
	if err != nil {
		log.Fatalf("échec création consumer: %v", err)
	}
	defer consumer.Close()

	if err := consumer.SubscribeTopics([]string{cfg.Kafka.Topics.Contracts}, nil); err != nil {
		log.Fatalf("abonnement impossible: %v", err)
	}

	store := storage.NewProjectionStore()
	report := replayReport{}
	timeoutCount := 0

	log.Println("🟢 Replayer événementiel démarré")

	for {
		msg, err := consumer.ReadMessage(500 * time.Millisecond)
		if err != nil {
			if bus.IsTimeout(err) {
				timeoutCount++
				if timeoutCount > 10 {
					break
				}
				continue
			}
			log.Printf("lecture Kafka impossible: %v", err)
			continue
		}
		timeoutCount = 0

		if replay(store, msg.Value) {
			report.Applied++
		} else {
			report.Skipped++
		}
	}

	now := time.Now().UTC()
	report.GeneratedAt = now.Format(time.RFC3339Nano)
	report.Summaries = store.ListSummaries(now)

	file, err := os.Create(*output)
	if err != nil {
		log.Fatalf("échec création fichier sortie: %v", err)
	}
	defer file.Close()

	if err := writeReport(file, report); err != nil {
		log.Fatalf("écriture JSON impossible: %v", err)
	}

	log.Printf("✅ %d événements rejoués, projections écrites dans %s", report.Applied, *output)
}

// replay applique un message ; faux si illisible ou déjà vu.
func replay(store *storage.ProjectionStore, payload []byte) bool {
	evt, err := events.DecodeContractEvent(payload)
	if err != nil {
		log.Printf("désérialisation impossible: %v", err)
		return false
	}
	return store.ApplyEvent(evt)
}

func writeReport(w io.Writer, report replayReport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
