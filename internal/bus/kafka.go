package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/sony/gobreaker"

	"purifier-console/internal/events"
	"purifier-console/internal/logging"
	"purifier-console/internal/metrics"
)

// Config regroupe les paramètres d'accès à Kafka.
type Config struct {
	BootstrapServers string
	ClientID         string
	DLQTopic         string
	DeliveryTimeout  time.Duration
	CircuitBreaker   gobreaker.Settings
	Logger           *logging.Logger
}

// Bus encapsule le producteur Kafka, la DLQ et le circuit breaker.
type Bus struct {
	producer     *kafka.Producer
	deliveryChan chan kafka.Event
	breaker      *gobreaker.CircuitBreaker
	cfg          Config
}

// NewBus construit un Bus prêt à publier.
func NewBus(cfg Config) (*Bus, error) {
	if cfg.BootstrapServers == "" {
		return nil, errors.New("bootstrap servers manquants")
	}

	if cfg.DeliveryTimeout == 0 {
		cfg.DeliveryTimeout = 15 * time.Second
	}
	if cfg.DLQTopic == "" {
		cfg.DLQTopic = events.TopicDLQ
	}

	if cfg.CircuitBreaker.Name == "" {
		cfg.CircuitBreaker = gobreaker.Settings{
			Name:        "console_producer_breaker",
			MaxRequests: 5,
			Interval:    30 * time.Second,
			Timeout:     10 * time.Second,
		}
	}

	producer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers":  cfg.BootstrapServers,
		"client.id":          cfg.ClientID,
		"enable.idempotence": true,
	})
	if err != nil {
		return nil, fmt.Errorf("création du producteur: %w", err)
	}

	b := &Bus{
		producer:     producer,
		deliveryChan: make(chan kafka.Event, 128),
		breaker:      gobreaker.NewCircuitBreaker(cfg.CircuitBreaker),
		cfg:          cfg,
	}

	go b.handleDeliveryReports()

	return b, nil
}

// Publish envoie un message sur un topic donné à travers le circuit breaker.
func (b *Bus) Publish(ctx context.Context, topic string, key []byte, value []byte, headers map[string]string) error {
	start := time.Now()

	_, err := b.breaker.Execute(func() (any, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		msg := &kafka.Message{
			TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
			Value:          value,
			Key:            key,
			Timestamp:      start,
		}
		for hk, hv := range headers {
			msg.Headers = append(msg.Headers, kafka.Header{Key: hk, Value: []byte(hv)})
		}

		return nil, b.producer.Produce(msg, b.deliveryChan)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) {
			metrics.Default.IncBreakerOpen()
		}
		return fmt.Errorf("publication sur %s: %w", topic, err)
	}

	metrics.Default.IncProduced()
	metrics.Default.ObserveLatency(topic, time.Since(start))
	return nil
}

// SendToDLQ publie un message illisible dans la dead letter queue.
func (b *Bus) SendToDLQ(ctx context.Context, key string, payload []byte, reason string) error {
	headers := map[string]string{
		"reason":     reason,
		"published":  time.Now().UTC().Format(time.RFC3339Nano),
		"dlq-origin": b.cfg.ClientID,
	}
	err := b.Publish(ctx, b.cfg.DLQTopic, []byte(key), payload, headers)
	if err == nil {
		metrics.Default.IncDLQ()
	}
	return err
}

func (b *Bus) handleDeliveryReports() {
	for evt := range b.deliveryChan {
		switch m := evt.(type) {
		case *kafka.Message:
			if m.TopicPartition.Error != nil {
				b.cfg.Logger.Error("Livraison Kafka échouée", m.TopicPartition.Error, map[string]any{
					"topic": *m.TopicPartition.Topic,
					"key":   string(m.Key),
				})
			}
		default:
			b.cfg.Logger.Warn("Événement Kafka inattendu", map[string]any{"event": evt.String()})
		}
	}
}

// Close attend l'envoi des messages restants et ferme le producteur.
func (b *Bus) Close() {
	if b == nil || b.producer == nil {
		return
	}
	b.producer.Flush(int(b.cfg.DeliveryTimeout.Milliseconds()))
	b.producer.Close()
	close(b.deliveryChan)
}

// NewConsumer crée un consommateur prêt à s'abonner.
func (b *Bus) NewConsumer(groupID string, autoOffset string) (*kafka.Consumer, error) {
	cfg, err := b.consumerConfig(groupID, autoOffset)
	if err != nil {
		return nil, err
	}

	consumer, err := kafka.NewConsumer(cfg)
	if err != nil {
		return nil, fmt.Errorf("création du consommateur: %w", err)
	}

	return consumer, nil
}

func (b *Bus) consumerConfig(groupID string, autoOffset string) (*kafka.ConfigMap, error) {
	if autoOffset == "" {
		autoOffset = "earliest"
	}

	cfg := &kafka.ConfigMap{
		"bootstrap.servers": b.cfg.BootstrapServers,
		"group.id":          groupID,
		"auto.offset.reset": autoOffset,
	}
	if b.cfg.ClientID != "" {
		if err := cfg.SetKey("client.id", b.cfg.ClientID+"-consumer"); err != nil {
			return nil, fmt.Errorf("configuration du consommateur: %w", err)
		}
	}
	return cfg, nil
}

// IsTimeout indique une lecture sans message, ce qui est normal.
func IsTimeout(err error) bool {
	var kErr kafka.Error
	return errors.As(err, &kErr) && kErr.Code() == kafka.ErrTimedOut
}

// HeaderMap aplatit les en-têtes d'un message Kafka.
func HeaderMap(msg *kafka.Message) map[string]string {
	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	return headers
}
