package models

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var (
	ErrNotFound            = errors.New("record not found")
	ErrDuplicateSubmission = errors.New("consent already submitted today for this mobile number")
)

//go:embed migrations/*.sql
var migrations embed.FS

type Repository interface {
	CreateConsent(ctx context.Context, consent *Consent) error
	LatestByMobile(ctx context.Context, mobile string) (*Consent, error)
	HasConsentOn(ctx context.Context, mobile string, day time.Time) (bool, error)
	DeleteConsent(ctx context.Context, id uuid.UUID) (*Consent, error)
	Ping(ctx context.Context) error
	Close() error
}

type PostgresRepository struct {
	db *gorm.DB
}

// NewPostgresRepository connects and applies pending migrations.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database handle: %w", err)
	}
	if err := Migrate(sqlDB); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return NewRepository(db), nil
}

// NewRepository wraps an open gorm handle.
func NewRepository(db *gorm.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Migrate runs the embedded goose migrations.
func Migrate(db *sql.DB) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.Up(db, "migrations")
}

func (r *PostgresRepository) CreateConsent(ctx context.Context, consent *Consent) error {
	for i := range consent.Children {
		consent.Children[i].Position = i + 1
	}
	err := r.db.WithContext(ctx).Create(consent).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateSubmission
	}
	return err
}

func (r *PostgresRepository) LatestByMobile(ctx context.Context, mobile string) (*Consent, error) {
	var consent Consent
	err := r.db.WithContext(ctx).
		Preload("Children", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		Where("mobile = ?", mobile).
		Order("created_at DESC").
		Take(&consent).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &consent, nil
}

// HasConsentOn reports whether mobile already signed on the given day.
func (r *PostgresRepository) HasConsentOn(ctx context.Context, mobile string, day time.Time) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&Consent{}).
		Where("mobile = ? AND consent_date = ?", mobile, day).
		Count(&n).Error
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DeleteConsent removes a consent and its children and returns what was
// removed.
func (r *PostgresRepository) DeleteConsent(ctx context.Context, id uuid.UUID) (*Consent, error) {
	var consent Consent
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", id).Take(&consent).Error; err != nil {
			return err
		}
		if err := tx.Where("consent_id = ?", id).Delete(&Child{}).Error; err != nil {
			return err
		}
		return tx.Delete(&consent).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &consent, nil
}

func (r *PostgresRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (r *PostgresRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
