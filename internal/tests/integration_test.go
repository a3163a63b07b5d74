package tests

import (
	"bytes"
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"purifier-console/internal/bus"
	"purifier-console/internal/config"
	"purifier-console/internal/events"
	"purifier-console/internal/logging"
	"purifier-console/internal/service"
	"purifier-console/internal/storage"
)

// TestContractEventsReachKafka vérifie qu'une commande avec formule AMC
// publie ContractCreated sur le topic contrats d'un broker réel.
func TestContractEventsReachKafka(t *testing.T) {
	if testing.Short() {
		t.Skip("tests d'intégration ignorés en mode short")
	}
	bootstrap := os.Getenv("TEST_KAFKA_BOOTSTRAP")
	if bootstrap == "" {
		t.Skip("TEST_KAFKA_BOOTSTRAP non défini")
	}

	logger := logging.New(&bytes.Buffer{}, "integration")
	messageBus, err := bus.NewBus(bus.Config{
		BootstrapServers: bootstrap,
		ClientID:         "integration-producer",
		Logger:           logger,
	})
	require.NoError(t, err)
	defer messageBus.Close()

	// Un topic par exécution pour ne lire que nos propres messages.
	topics := config.Default().Kafka.Topics
	topics.Contracts = "contracts.events.it-" + uuid.NewString()[:8]

	ctx := context.Background()
	store := storage.NewMemoryStore()
	require.NoError(t, storage.SeedDemoCatalog(ctx, store))

	svc, err := service.New(service.Deps{
		Store:     store,
		Publisher: messageBus,
		Logger:    logger,
		Topics:    topics,
	})
	require.NoError(t, err)

	placement, err := svc.PlaceOrder(ctx, "integration-customer", []service.LineRequest{
		{ProductID: "ro-classic", Quantity: 1, PlanID: "amc-silver"},
	})
	require.NoError(t, err)
	require.Len(t, placement.Contracts, 1)

	consumer, err := messageBus.NewConsumer("integration-consumer-"+uuid.NewString(), "earliest")
	require.NoError(t, err)
	defer consumer.Close()

	require.NoError(t, consumer.SubscribeTopics([]string{topics.Contracts}, nil))

	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		msg, err := consumer.ReadMessage(2 * time.Second)
		if err != nil {
			if bus.IsTimeout(err) {
				continue
			}
			t.Logf("lecture: %v", err)
			continue
		}

		received, err := events.DecodeContractEvent(msg.Value)
		require.NoError(t, err)
		require.Equal(t, events.ContractCreated, received.Type)
		require.Equal(t, placement.Contracts[0].ID, received.Contract.ID)
		require.Equal(t, "integration-customer", string(msg.Key))
		require.Equal(t, "ContractCreated", bus.HeaderMap(msg)["event_type"])
		return
	}
	t.Fatal("aucun événement contrat reçu")
}
