// Package lock sérialise les renouvellements concurrents d'un même contrat.
//
// Le verrou évite de calculer deux renouvellements pour le même instantané ;
// la vérification de version du stockage reste la garantie finale.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLocked signale qu'un autre processus détient déjà le verrou.
var ErrLocked = errors.New("ressource verrouillée")

// Release libère un verrou acquis.
type Release func(ctx context.Context) error

// Locker acquiert un verrou exclusif à durée limitée.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Release, error)
}

// releaseScript ne supprime la clé que si elle porte encore notre jeton.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker s'appuie sur SET NX PX.
type RedisLocker struct {
	client redis.Cmdable
	prefix string
}

// NewRedisLocker crée un locker ; prefix espace les clés (ex. "console:lock:").
func NewRedisLocker(client redis.Cmdable, prefix string) *RedisLocker {
	return &RedisLocker{client: client, prefix: prefix}
}

// Acquire pose le verrou ou renvoie ErrLocked.
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Release, error) {
	token := uuid.NewString()
	full := l.prefix + key

	ok, err := l.client.SetNX(ctx, full, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLocked
	}

	return func(ctx context.Context) error {
		return releaseScript.Run(ctx, l.client, []string{full}, token).Err()
	}, nil
}

// LocalLocker est l'équivalent en mémoire, pour un seul processus.
type LocalLocker struct {
	mu    sync.Mutex
	held  map[string]time.Time
	clock func() time.Time
}

// NewLocalLocker crée un locker en mémoire.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]time.Time), clock: time.Now}
}

// Acquire pose le verrou ou renvoie ErrLocked ; un verrou expiré est repris.
func (l *LocalLocker) Acquire(_ context.Context, key string, ttl time.Duration) (Release, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	if expiry, ok := l.held[key]; ok && now.Before(expiry) {
		return nil, ErrLocked
	}
	expiry := now.Add(ttl)
	l.held[key] = expiry

	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.held[key].Equal(expiry) {
			delete(l.held, key)
		}
		return nil
	}, nil
}
