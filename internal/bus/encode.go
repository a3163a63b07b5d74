package bus

import (
	"context"
	"fmt"
)

// Encoder est implémenté par tous les événements du paquet events.
type Encoder interface {
	Encode() ([]byte, error)
}

// PublishEvent sérialise evt puis le publie.
func PublishEvent(ctx context.Context, p Publisher, topic string, key []byte, evt Encoder, headers map[string]string) error {
	payload, err := evt.Encode()
	if err != nil {
		return fmt.Errorf("sérialisation pour %s: %w", topic, err)
	}
	return p.Publish(ctx, topic, key, payload, headers)
}
