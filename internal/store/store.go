package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/cogivn/daisy-flower-sub000/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

//go:embed schema.sql
var schema string

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is returned when a conditional write matched no row.
	ErrConflict = errors.New("store: conflict")
)

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the schema when it does not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// uniqueViolation is the postgres SQLSTATE for a unique constraint hit
const uniqueViolation = "23505"

// conflict maps a unique constraint violation to ErrConflict
func conflict(err error, format string, args ...any) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
	}
	return err
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
	}
	return err
}

// GetProductByID retrieves a product by ID
func (s *Store) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product, "SELECT * FROM products WHERE id = $1", id)
	if err != nil {
		return nil, notFound(err, "product %d", id)
	}
	return &product, nil
}

// GetVariantByID retrieves a product variant by ID
func (s *Store) GetVariantByID(ctx context.Context, id int64) (*models.Variant, error) {
	var variant models.Variant
	err := s.db.GetContext(ctx, &variant, "SELECT * FROM variants WHERE id = $1", id)
	if err != nil {
		return nil, notFound(err, "variant %d", id)
	}
	return &variant, nil
}

// ListSaleEventsByProduct retrieves non-expired sale events for a product,
// earliest start first.
func (s *Store) ListSaleEventsByProduct(ctx context.Context, productID int64) ([]models.SaleEvent, error) {
	var events []models.SaleEvent
	err := s.db.SelectContext(ctx, &events,
		"SELECT * FROM sale_events WHERE product_id = $1 AND status <> $2 ORDER BY starts_at",
		productID, models.SaleStatusExpired)
	return events, err
}

// ExpireSaleEvents flips every event past its end to expired.
func (s *Store) ExpireSaleEvents(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE sale_events SET status = $1 WHERE ends_at < $2 AND status <> $1",
		models.SaleStatusExpired, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ActivateSaleEvents flips every event inside its window to active.
func (s *Store) ActivateSaleEvents(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE sale_events SET status = $1 WHERE starts_at <= $2 AND ends_at >= $2 AND status <> $1",
		models.SaleStatusActive, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
