// Package app assemble les dépendances d'un binaire de la console à partir
// de la configuration : journaux, stockage, verrou, bus et service.
package app

import (
	"context"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"

	"purifier-console/internal/bus"
	"purifier-console/internal/config"
	"purifier-console/internal/lock"
	"purifier-console/internal/logging"
	"purifier-console/internal/metrics"
	"purifier-console/internal/service"
	"purifier-console/internal/storage"
)

// App détient les ressources ouvertes ; Close les libère dans l'ordre inverse.
type App struct {
	Config  config.Config
	Logger  *logging.Logger
	Audit   *logging.AuditLog
	Store   service.Store
	Service *service.Service
	Bus     *bus.Bus

	closers []func()
}

// Build ouvre les ressources décrites par cfg. Sans DSN le stockage est en
// mémoire et reçoit le catalogue de démonstration ; sans adresse Redis le
// verrou est local ; Kafka désactivé, les événements sont journalisés.
func Build(ctx context.Context, cfg config.Config, serviceName string) (*App, error) {
	a := &App{Config: cfg}

	logger, err := logging.Open(cfg.Logging.AppLog, serviceName)
	if err != nil {
		return nil, err
	}
	a.Logger = logger
	a.closers = append(a.closers, logger.Close)

	audit, err := logging.OpenAuditLog(cfg.Logging.AuditLog)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Audit = audit
	a.closers = append(a.closers, audit.Close)

	if err := a.openStore(ctx); err != nil {
		a.Close()
		return nil, err
	}

	locker, err := a.openLocker(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	publisher, err := a.openPublisher(serviceName)
	if err != nil {
		a.Close()
		return nil, err
	}

	svc, err := service.New(service.Deps{
		Store:     a.Store,
		Publisher: publisher,
		Locker:    locker,
		Logger:    logger,
		Audit:     audit,
		Metrics:   metrics.Default,
		Topics:    cfg.Kafka.Topics,
		LockTTL:   cfg.Redis.LockTTL,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Service = svc
	return a, nil
}

func (a *App) openStore(ctx context.Context) error {
	if a.Config.Postgres.DSN == "" {
		mem := storage.NewMemoryStore()
		if err := storage.SeedDemoCatalog(ctx, mem); err != nil {
			return fmt.Errorf("catalogue de démonstration: %w", err)
		}
		a.Store = mem
		log.Println("⚠️ stockage en mémoire (catalogue de démonstration)")
		return nil
	}

	pg, err := storage.OpenPostgres(a.Config.Postgres.DSN)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func() { _ = pg.Close() })
	if err := pg.Migrate(ctx); err != nil {
		return fmt.Errorf("migration: %w", err)
	}
	a.Store = pg
	log.Println("✅ stockage PostgreSQL prêt")
	return nil
}

func (a *App) openLocker(ctx context.Context) (lock.Locker, error) {
	if a.Config.Redis.Addr == "" {
		return lock.NewLocalLocker(), nil
	}
	client := redis.NewClient(&redis.Options{Addr: a.Config.Redis.Addr})
	a.closers = append(a.closers, func() { _ = client.Close() })
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis %s: %w", a.Config.Redis.Addr, err)
	}
	log.Printf("✅ verrou Redis sur %s", a.Config.Redis.Addr)
	return lock.NewRedisLocker(client, "console:lock:"), nil
}

func (a *App) openPublisher(serviceName string) (bus.Publisher, error) {
	if !a.Config.Kafka.Enabled {
		return &bus.LogPublisher{Logger: a.Logger}, nil
	}
	b, err := bus.NewBus(bus.Config{
		BootstrapServers: a.Config.Kafka.BootstrapServers,
		ClientID:         a.Config.Kafka.ClientID + "-" + serviceName,
		DLQTopic:         a.Config.Kafka.Topics.DLQ,
		Logger:           a.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("échec création bus: %w", err)
	}
	a.Bus = b
	a.closers = append(a.closers, b.Close)
	return b, nil
}

// Close libère les ressources ouvertes.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
