// Package service orchestre les entrées/sorties autour du moteur pur :
// lecture du catalogue, verrou de renouvellement, stockage versionné,
// publication des événements et piste d'audit.
//
// Toute la logique métier (prix, statut, renouvellement) reste dans les
// paquets pricing, order et contract ; le service fournit seulement
// l'horloge et les dépendances.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"purifier-console/internal/bus"
	"purifier-console/internal/config"
	"purifier-console/internal/contract"
	"purifier-console/internal/lock"
	"purifier-console/internal/logging"
	"purifier-console/internal/metrics"
	"purifier-console/internal/pricing"
	"purifier-console/internal/validation"
)

const (
	defaultLockTTL    = 10 * time.Second
	publishTimeout    = 5 * time.Second
	renewalLockPrefix = "contract:"
)

// Catalog expose les références produit, offre et formule.
type Catalog interface {
	Product(ctx context.Context, id string) (pricing.Product, error)
	Offer(ctx context.Context, id string) (pricing.Offer, error)
	Plan(ctx context.Context, id string) (contract.Plan, error)
}

// ContractStore conserve les contrats courants et leur historique.
type ContractStore interface {
	CreateContract(ctx context.Context, c contract.Contract) (contract.Contract, error)
	// CreateContracts enregistre tout le lot ou rien.
	CreateContracts(ctx context.Context, batch []contract.Contract) ([]contract.Contract, error)
	Contract(ctx context.Context, id string) (contract.Contract, error)
	Contracts(ctx context.Context) ([]contract.Contract, error)
	ApplyRenewal(ctx context.Context, expectedVersion int, r contract.Renewal) (contract.Contract, error)
}

// Store regroupe catalogue et contrats ; MemoryStore et PostgresStore le satisfont.
type Store interface {
	Catalog
	ContractStore
}

// Deps rassemble les collaborateurs du service. Seul Store est obligatoire.
type Deps struct {
	Store     Store
	Publisher bus.Publisher
	Locker    lock.Locker
	Logger    *logging.Logger
	Audit     *logging.AuditLog
	Metrics   *metrics.Counters
	Topics    config.Topics
	LockTTL   time.Duration
	Clock     func() time.Time
	NewID     func() string
}

// Service est la façade applicative de la console.
type Service struct {
	store     Store
	publisher bus.Publisher
	locker    lock.Locker
	logger    *logging.Logger
	audit     *logging.AuditLog
	metrics   *metrics.Counters
	topics    config.Topics
	lockTTL   time.Duration
	now       func() time.Time
	newID     func() string
}

// New construit le service et complète les dépendances facultatives.
func New(deps Deps) (*Service, error) {
	if deps.Store == nil {
		return nil, errors.New("service: store requis")
	}
	s := &Service{
		store:     deps.Store,
		publisher: deps.Publisher,
		locker:    deps.Locker,
		logger:    deps.Logger,
		audit:     deps.Audit,
		metrics:   deps.Metrics,
		topics:    deps.Topics,
		lockTTL:   deps.LockTTL,
		now:       deps.Clock,
		newID:     deps.NewID,
	}
	if s.metrics == nil {
		s.metrics = metrics.Default
	}
	if s.topics == (config.Topics{}) {
		s.topics = config.Default().Kafka.Topics
	}
	if s.lockTTL <= 0 {
		s.lockTTL = defaultLockTTL
	}
	if s.locker == nil {
		s.locker = lock.NewLocalLocker()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	return s, nil
}

// Now renvoie l'instant courant selon l'horloge du service.
func (s *Service) Now() time.Time {
	return s.now()
}

// publish sérialise et publie un événement. Un échec est journalisé mais ne
// remet pas en cause l'état déjà enregistré.
func (s *Service) publish(ctx context.Context, topic string, key []byte, evt bus.Encoder, headers map[string]string) error {
	if s.publisher == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if err := bus.PublishEvent(ctx, s.publisher, topic, key, evt, headers); err != nil {
		s.logger.Error("Publication impossible", err, map[string]any{
			"topic": topic,
			"key":   string(key),
		})
		return err
	}
	return nil
}

// reject comptabilise les erreurs de saisie avant de les remonter.
func (s *Service) reject(op string, err error) error {
	if errors.Is(err, validation.ErrInvalid) {
		s.metrics.IncValidationFailures()
		meta := map[string]any{"operation": op}
		if field, ok := validation.FieldOf(err); ok {
			meta["field"] = field
		}
		s.logger.Warn("Saisie rejetée", meta)
	}
	return err
}
