package storage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"purifier-console/internal/contract"
	"purifier-console/internal/pricing"
)

type productRecord struct {
	ID              string          `gorm:"primaryKey"`
	Name            string          `gorm:"not null"`
	BasePrice       decimal.Decimal `gorm:"type:numeric;not null"`
	DiscountPercent decimal.Decimal `gorm:"type:numeric;not null;default:0"`
	OfferID         string          `gorm:"index"`
	AMCPlanIDs      string
}

func (productRecord) TableName() string { return "products" }

type offerRecord struct {
	ID                string              `gorm:"primaryKey"`
	Name              string
	DiscountType      string              `gorm:"not null"`
	DiscountValue     decimal.Decimal     `gorm:"type:numeric;not null"`
	MinOrderAmount    decimal.NullDecimal `gorm:"type:numeric"`
	MaxDiscountAmount decimal.NullDecimal `gorm:"type:numeric"`
	IsActive          bool                `gorm:"not null;default:true"`
}

func (offerRecord) TableName() string { return "offers" }

type planRecord struct {
	ID             string `gorm:"primaryKey"`
	Name           string `gorm:"not null"`
	Type           string
	Kind           string          `gorm:"not null"`
	Price          decimal.Decimal `gorm:"type:numeric;not null"`
	DurationMonths int             `gorm:"not null"`
	ServicesTotal  int
	PartsIncluded  bool
}

func (planRecord) TableName() string { return "plans" }

type contractRecord struct {
	ID                 string `gorm:"primaryKey"`
	Kind               string `gorm:"not null;uniqueIndex:idx_contract_subject"`
	CustomerRef        string `gorm:"not null;uniqueIndex:idx_contract_subject"`
	ProductRef         string `gorm:"uniqueIndex:idx_contract_subject"`
	PlanName           string `gorm:"not null"`
	PlanType           string
	StartDate          time.Time       `gorm:"not null"`
	EndDate            time.Time       `gorm:"not null;index"`
	Amount             decimal.Decimal `gorm:"type:numeric;not null"`
	AmountPaid         decimal.Decimal `gorm:"type:numeric;not null"`
	PaymentStatus      string
	PaymentMode        string
	ServicesUsed       int
	ServicesTotal      int
	PartsIncluded      bool
	AssignedTechnician string
	Version            int             `gorm:"not null"`
	History            []historyRecord `gorm:"foreignKey:ContractID"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (contractRecord) TableName() string { return "contracts" }

type historyRecord struct {
	ID         string `gorm:"primaryKey"`
	ContractID string `gorm:"not null;index"`
	Seq        int    `gorm:"not null"`
	PlanName   string
	PlanType   string
	StartDate  time.Time
	EndDate    time.Time
	Amount     decimal.Decimal `gorm:"type:numeric"`
	Status     string
	ArchivedAt time.Time
}

func (historyRecord) TableName() string { return "contract_history" }

// PostgresStore persiste catalogue et contrats avec GORM.
type PostgresStore struct {
	db *gorm.DB
}

// OpenPostgres ouvre la connexion et configure le pool.
func OpenPostgres(dsn string) (*PostgresStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger: logger.New(
			log.New(os.Stdout, "\r\n", log.LstdFlags),
			logger.Config{
				SlowThreshold:             time.Second,
				LogLevel:                  logger.Warn,
				IgnoreRecordNotFoundError: true,
			},
		),
	})
	if err != nil {
		return nil, fmt.Errorf("connexion postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("accès sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return NewPostgresStore(db), nil
}

// NewPostgresStore enveloppe une connexion GORM existante.
func NewPostgresStore(db *gorm.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate crée ou met à jour les tables.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&productRecord{}, &offerRecord{}, &planRecord{}, &contractRecord{}, &historyRecord{})
}

// Close ferme le pool de connexions.
func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// PutProduct insère ou remplace un produit.
func (s *PostgresStore) PutProduct(ctx context.Context, p pricing.Product) error {
	rec := productRecord{
		ID:              p.ID,
		Name:            p.Name,
		BasePrice:       p.BasePrice,
		DiscountPercent: p.DiscountPercent,
		OfferID:         p.OfferID,
		AMCPlanIDs:      strings.Join(p.AMCPlanIDs, ","),
	}
	return s.db.WithContext(ctx).Save(&rec).Error
}

// PutOffer insère ou remplace une offre.
func (s *PostgresStore) PutOffer(ctx context.Context, o pricing.Offer) error {
	if err := o.Validate(); err != nil {
		return err
	}
	rec := offerRecord{
		ID:                o.ID,
		Name:              o.Name,
		DiscountType:      string(o.Discount.Type()),
		DiscountValue:     o.Discount.Value(),
		MinOrderAmount:    o.MinOrderAmount,
		MaxDiscountAmount: o.MaxDiscountAmount,
		IsActive:          o.IsActive,
	}
	return s.db.WithContext(ctx).Save(&rec).Error
}

// PutPlan insère ou remplace une formule.
func (s *PostgresStore) PutPlan(ctx context.Context, p contract.Plan) error {
	rec := planRecord{
		ID:             p.ID,
		Name:           p.Name,
		Type:           p.Type,
		Kind:           string(p.Kind),
		Price:          p.Price,
		DurationMonths: p.DurationMonths,
		ServicesTotal:  p.ServicesTotal,
		PartsIncluded:  p.PartsIncluded,
	}
	return s.db.WithContext(ctx).Save(&rec).Error
}

// Product récupère un produit.
func (s *PostgresStore) Product(ctx context.Context, id string) (pricing.Product, error) {
	var rec productRecord
	if err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		return pricing.Product{}, notFound("produit", id, err)
	}
	p := pricing.Product{
		ID:              rec.ID,
		Name:            rec.Name,
		BasePrice:       rec.BasePrice,
		DiscountPercent: rec.DiscountPercent,
		OfferID:         rec.OfferID,
	}
	if rec.AMCPlanIDs != "" {
		p.AMCPlanIDs = strings.Split(rec.AMCPlanIDs, ",")
	}
	return p, nil
}

// Offer récupère une offre.
func (s *PostgresStore) Offer(ctx context.Context, id string) (pricing.Offer, error) {
	var rec offerRecord
	if err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		return pricing.Offer{}, notFound("offre", id, err)
	}
	d, err := pricing.NewDiscount(pricing.DiscountType(rec.DiscountType), rec.DiscountValue)
	if err != nil {
		return pricing.Offer{}, fmt.Errorf("offre %s: %w", id, err)
	}
	return pricing.Offer{
		ID:                rec.ID,
		Name:              rec.Name,
		Discount:          d,
		MinOrderAmount:    rec.MinOrderAmount,
		MaxDiscountAmount: rec.MaxDiscountAmount,
		IsActive:          rec.IsActive,
	}, nil
}

// Plan récupère une formule.
func (s *PostgresStore) Plan(ctx context.Context, id string) (contract.Plan, error) {
	var rec planRecord
	if err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		return contract.Plan{}, notFound("formule", id, err)
	}
	return contract.Plan{
		ID:             rec.ID,
		Name:           rec.Name,
		Type:           rec.Type,
		Kind:           contract.Kind(rec.Kind),
		Price:          rec.Price,
		DurationMonths: rec.DurationMonths,
		ServicesTotal:  rec.ServicesTotal,
		PartsIncluded:  rec.PartsIncluded,
	}, nil
}

// CreateContract enregistre un premier contrat en version 1.
func (s *PostgresStore) CreateContract(ctx context.Context, c contract.Contract) (contract.Contract, error) {
	stored, err := s.CreateContracts(ctx, []contract.Contract{c})
	if err != nil {
		return contract.Contract{}, err
	}
	return stored[0], nil
}

// CreateContracts insère un lot de contrats en version 1 dans une seule
// transaction.
func (s *PostgresStore) CreateContracts(ctx context.Context, batch []contract.Contract) ([]contract.Contract, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, c := range batch {
			c.Version = 1
			rec := toContractRecord(c)
			rec.History = nil
			if err := tx.Create(&rec).Error; err != nil {
				if errors.Is(err, gorm.ErrDuplicatedKey) {
					return fmt.Errorf("contrat %s pour %s/%s: %w", c.ID, c.CustomerRef, c.ProductRef, ErrDuplicate)
				}
				return fmt.Errorf("création contrat %s: %w", c.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]contract.Contract, 0, len(batch))
	for _, c := range batch {
		stored, err := s.Contract(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, stored)
	}
	return out, nil
}

// Contract renvoie le contrat courant avec son historique ordonné.
func (s *PostgresStore) Contract(ctx context.Context, id string) (contract.Contract, error) {
	var rec contractRecord
	err := s.db.WithContext(ctx).
		Preload("History", func(db *gorm.DB) *gorm.DB { return db.Order("seq") }).
		First(&rec, "id = ?", id).Error
	if err != nil {
		return contract.Contract{}, notFound("contrat", id, err)
	}
	return fromContractRecord(rec), nil
}

// Contracts renvoie tous les contrats triés par client puis identifiant.
func (s *PostgresStore) Contracts(ctx context.Context) ([]contract.Contract, error) {
	var recs []contractRecord
	err := s.db.WithContext(ctx).
		Preload("History", func(db *gorm.DB) *gorm.DB { return db.Order("seq") }).
		Order("customer_ref").Order("id").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("liste des contrats: %w", err)
	}
	out := make([]contract.Contract, 0, len(recs))
	for _, rec := range recs {
		out = append(out, fromContractRecord(rec))
	}
	return out, nil
}

// ApplyRenewal met à jour le contrat et insère l'entrée d'historique dans
// une même transaction, conditionnée par la version attendue.
func (s *PostgresStore) ApplyRenewal(ctx context.Context, expectedVersion int, r contract.Renewal) (contract.Contract, error) {
	c := r.Contract
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&contractRecord{}).
			Where("id = ? AND version = ?", c.ID, expectedVersion).
			Updates(map[string]any{
				"plan_name":      c.PlanName,
				"plan_type":      c.PlanType,
				"start_date":     c.StartDate,
				"end_date":       c.EndDate,
				"amount":         c.Amount,
				"amount_paid":    c.AmountPaid,
				"payment_status": string(c.PaymentStatus),
				"payment_mode":   c.PaymentMode,
				"services_used":  c.ServicesUsed,
				"services_total": c.ServicesTotal,
				"parts_included": c.PartsIncluded,
				"version":        expectedVersion + 1,
				"updated_at":     c.UpdatedAt,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&contractRecord{}).Where("id = ?", c.ID).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return fmt.Errorf("contrat %s: %w", c.ID, ErrNotFound)
			}
			return fmt.Errorf("contrat %s (attendue %d): %w", c.ID, expectedVersion, ErrVersionConflict)
		}

		entry := toHistoryRecord(c.ID, len(c.History), r.Entry)
		return tx.Create(&entry).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return contract.Contract{}, fmt.Errorf("historique %s: %w", r.Entry.ID, ErrVersionConflict)
		}
		return contract.Contract{}, err
	}
	return s.Contract(ctx, c.ID)
}

func notFound(kind, id string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return fmt.Errorf("%s %s: %w", kind, id, err)
}

func toContractRecord(c contract.Contract) contractRecord {
	rec := contractRecord{
		ID:                 c.ID,
		Kind:               string(c.Kind),
		CustomerRef:        c.CustomerRef,
		ProductRef:         c.ProductRef,
		PlanName:           c.PlanName,
		PlanType:           c.PlanType,
		StartDate:          c.StartDate,
		EndDate:            c.EndDate,
		Amount:             c.Amount,
		AmountPaid:         c.AmountPaid,
		PaymentStatus:      string(c.PaymentStatus),
		PaymentMode:        c.PaymentMode,
		ServicesUsed:       c.ServicesUsed,
		ServicesTotal:      c.ServicesTotal,
		PartsIncluded:      c.PartsIncluded,
		AssignedTechnician: c.AssignedTechnician,
		Version:            c.Version,
		CreatedAt:          c.CreatedAt,
		UpdatedAt:          c.UpdatedAt,
	}
	for i, h := range c.History {
		rec.History = append(rec.History, toHistoryRecord(c.ID, i+1, h))
	}
	return rec
}

func toHistoryRecord(contractID string, seq int, h contract.HistoryEntry) historyRecord {
	return historyRecord{
		ID:         h.ID,
		ContractID: contractID,
		Seq:        seq,
		PlanName:   h.PlanName,
		PlanType:   h.PlanType,
		StartDate:  h.StartDate,
		EndDate:    h.EndDate,
		Amount:     h.Amount,
		Status:     string(h.Status),
		ArchivedAt: h.ArchivedAt,
	}
}

func fromContractRecord(rec contractRecord) contract.Contract {
	c := contract.Contract{
		ID:                 rec.ID,
		Kind:               contract.Kind(rec.Kind),
		CustomerRef:        rec.CustomerRef,
		ProductRef:         rec.ProductRef,
		PlanName:           rec.PlanName,
		PlanType:           rec.PlanType,
		StartDate:          rec.StartDate,
		EndDate:            rec.EndDate,
		Amount:             rec.Amount,
		AmountPaid:         rec.AmountPaid,
		PaymentStatus:      contract.PaymentStatus(rec.PaymentStatus),
		PaymentMode:        rec.PaymentMode,
		ServicesUsed:       rec.ServicesUsed,
		ServicesTotal:      rec.ServicesTotal,
		PartsIncluded:      rec.PartsIncluded,
		AssignedTechnician: rec.AssignedTechnician,
		Version:            rec.Version,
		CreatedAt:          rec.CreatedAt,
		UpdatedAt:          rec.UpdatedAt,
		History:            make([]contract.HistoryEntry, 0, len(rec.History)),
	}
	for _, h := range rec.History {
		c.History = append(c.History, contract.HistoryEntry{
			ID:         h.ID,
			PlanName:   h.PlanName,
			PlanType:   h.PlanType,
			StartDate:  h.StartDate,
			EndDate:    h.EndDate,
			Amount:     h.Amount,
			Status:     contract.Status(h.Status),
			ArchivedAt: h.ArchivedAt,
		})
	}
	return c
}
