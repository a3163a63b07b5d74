/*
Ce programme, `projector`, maintient la vue par client des contrats.

Il consomme `contracts.events` et `contracts.reminders`, applique chaque événement à un ProjectionStore
(les versions déjà vues sont ignorées) puis publie l'agrégat du client sur
`contracts.summaries`. Un message illisible part en DLQ.
*/
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"purifier-console/internal/bus"
	"purifier-console/internal/config"
	"purifier-console/internal/events"
	"purifier-console/internal/logging"
	"purifier-console/internal/metrics"
	"purifier-console/internal/storage"
)

// projector relie le bus au magasin de projections.
type projector struct {
	publisher bus.Publisher
	dlq       func(ctx context.Context, key string, payload []byte, reason string) error
	store     *storage.ProjectionStore
	logger    *logging.Logger
	summaries string
	now       func() time.Time
}

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("configuration invalide: %v", err)
	}

	logger, err := logging.Open(getEnv("PROJECTOR_LOG", "-"), "projector")
	if err != nil {
		log.Fatalf("journal impossible: %v", err)
	}
	defer logger.Close()

	messageBus, err := bus.NewBus(bus.Config{
		BootstrapServers: cfg.Kafka.BootstrapServers,
		ClientID:         cfg.Kafka.ClientID + "-projector",
		DLQTopic:         cfg.Kafka.Topics.DLQ,
		Logger:           logger,
	})
	if err != nil {
		log.Fatalf("échec création bus: %v", err)
	}
	defer messageBus.Close()

	p := &projector{
		publisher: messageBus,
		dlq:       messageBus.SendToDLQ,
		store:     storage.NewProjectionStore(),
		logger:    logger,
		summaries: cfg.Kafka.Topics.Summaries,
		now:       time.Now,
	}

	log.Println("🟢 Projecteur de contrats démarré")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if port := getEnv("PROJECTOR_METRICS_PORT", cfg.HTTP.MetricsPort); port != "" {
		metricsServer := metrics.StartServer(":" + port)
		defer metrics.Shutdown(context.Background(), metricsServer)
	}

	workerCount := getEnvInt("PROJECTOR_WORKERS", 1)
	if workerCount < 1 {
		workerCount = 1
	}

	var wg sync.WaitGroup
	consumers := make([]*kafka.Consumer, 0, workerCount)

	for i := 0; i < workerCount; i++ {
		consumer, err := messageBus.NewConsumer(cfg.Kafka.GroupID, "earliest")
		if err != nil {
			log.Fatalf("échec création consumer: %v", err)
		}
		if err := consumer.SubscribeTopics([]string{cfg.Kafka.Topics.Contracts, cfg.Kafka.Topics.Reminders}, nil); err != nil {
			log.Fatalf("abonnement impossible: %v", err)
		}
		consumers = append(consumers, consumer)

		wg.Add(1)
		go func(id int, c *kafka.Consumer) {
			defer wg.Done()
			p.consumeLoop(ctx, c, id)
		}(i, consumer)
	}

	sigchan := make(chan os.Signal, 1)
	signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigchan:
		log.Printf("🔴 Arrêt du projecteur (signal %s)", sig)
	case <-ctx.Done():
	}

	cancel()
	wg.Wait()
	for _, c := range consumers {
		c.Close()
	}
}

func (p *projector) consumeLoop(ctx context.Context, consumer *kafka.Consumer, workerID int) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			msg, err := consumer.ReadMessage(500 * time.Millisecond)
			if err != nil {
				if bus.IsTimeout(err) {
					continue
				}
				log.Printf("[worker %d] lecture Kafka échouée: %v", workerID, err)
				continue
			}
			p.handle(ctx, msg.Key, msg.Value)
		}
	}
}

// handle applique un message et publie l'agrégat du client concerné.
// Renvoie false si le message a été écarté.
func (p *projector) handle(ctx context.Context, key, value []byte) bool {
	evt, err := events.DecodeContractEvent(value)
	if err != nil || evt.Contract.ID == "" {
		reason := "projector_invalid_event"
		if err != nil {
			reason = "projector_deser_failed"
		}
		p.logger.Error("Événement contrat illisible", err, map[string]any{"key": string(key)})
		payload := append([]byte(nil), value...)
		_ = p.dlq(context.Background(), string(key), payload, reason)
		return false
	}

	metrics.Default.IncConsumed()
	if !p.store.ApplyEvent(evt) {
		return false
	}

	summary, ok := p.store.Summary(evt.Contract.CustomerRef, p.now())
	if !ok {
		return false
	}

	ctxPublish, cancel := context.WithTimeout(ctx, 5*time.Second)
	err = bus.PublishEvent(ctxPublish, p.publisher, p.summaries, []byte(summary.CustomerRef), summary, map[string]string{
		"source_event": string(evt.Type),
		"version":      strconv.Itoa(evt.Contract.Version),
	})
	cancel()
	if err != nil {
		p.logger.Error("Publication agrégat impossible", err, map[string]any{"customer": summary.CustomerRef})
	}
	return true
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}
