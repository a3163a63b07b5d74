package bus

import (
	"context"
	"sync"

	"purifier-console/internal/logging"
)

// Publisher est la surface de publication utilisée par le service.
// *Bus la satisfait ; LogPublisher sert quand Kafka est désactivé.
type Publisher interface {
	Publish(ctx context.Context, topic string, key []byte, value []byte, headers map[string]string) error
}

// LogPublisher journalise les messages au lieu de les envoyer.
type LogPublisher struct {
	Logger *logging.Logger

	mu    sync.Mutex
	count int
}

// Publish écrit le message dans le journal applicatif.
func (p *LogPublisher) Publish(ctx context.Context, topic string, key []byte, value []byte, headers map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	p.count++
	p.mu.Unlock()

	p.Logger.Info("Message non publié (bus désactivé)", map[string]any{
		"topic":   topic,
		"key":     string(key),
		"size":    len(value),
		"headers": headers,
	})
	return nil
}

// Count renvoie le nombre de messages reçus.
func (p *LogPublisher) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}
