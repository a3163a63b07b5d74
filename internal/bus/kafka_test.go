package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsumerConfig(t *testing.T) {
	b := &Bus{cfg: Config{BootstrapServers: "localhost:9092", ClientID: "console"}}

	cfg, err := b.consumerConfig("console-projector", "")
	require.NoError(t, err)

	clientID, err := cfg.Get("client.id", nil)
	require.NoError(t, err)
	assert.Equal(t, "console-consumer", clientID)
	offset, err := cfg.Get("auto.offset.reset", nil)
	require.NoError(t, err)
	assert.Equal(t, "earliest", offset)

	anonymous := &Bus{cfg: Config{BootstrapServers: "localhost:9092"}}
	cfg, err = anonymous.consumerConfig("g", "latest")
	require.NoError(t, err)
	clientID, err = cfg.Get("client.id", "absent")
	require.NoError(t, err)
	assert.Equal(t, "absent", clientID)
}
