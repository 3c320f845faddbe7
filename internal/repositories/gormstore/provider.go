package gormstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/skyfield-eats/api/internal/repositories"
)

// Options configures the database connection pool.
type Options struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, opts Options) (*gorm.DB, error) {
	dsn := strings.TrimSpace(opts.DSN)
	if dsn == "" {
		return nil, errors.New("gormstore: dsn is required")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("gormstore: open: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("gormstore: pool: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("gormstore: ping: %w", err)
	}

	return db, nil
}

// Migrate creates or updates the persisted schema.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&orderRow{},
		&orderDetailRow{},
		&shoppingCartRow{},
		&addressBookRow{},
		&counterRow{},
	); err != nil {
		return fmt.Errorf("gormstore: migrate: %w", err)
	}
	return nil
}

type registry struct {
	db *gorm.DB
}

var _ repositories.Registry = (*registry)(nil)

// NewRegistry wraps a connected gorm handle into the repository registry.
func NewRegistry(db *gorm.DB) (repositories.Registry, error) {
	if db == nil {
		return nil, errors.New("gormstore: db handle is required")
	}
	return &registry{db: db}, nil
}

func (r *registry) Close(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (r *registry) Orders() repositories.OrderRepository {
	return &orderRepository{db: r.db}
}

func (r *registry) OrderDetails() repositories.OrderDetailRepository {
	return &orderDetailRepository{db: r.db}
}

func (r *registry) ShoppingCarts() repositories.ShoppingCartRepository {
	return &shoppingCartRepository{db: r.db}
}

func (r *registry) AddressBooks() repositories.AddressBookRepository {
	return &addressBookRepository{db: r.db}
}

func (r *registry) Counters() repositories.CounterRepository {
	return &counterRepository{db: r.db}
}

func (r *registry) Health() repositories.HealthRepository {
	return &healthRepository{db: r.db}
}

// RunInTx executes fn inside a database transaction. The transactional
// handle travels in the context so repositories called within fn join the
// same transaction transparently.
func (r *registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if tx := txFromContext(ctx); tx != nil {
		return fn(ctx)
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(withTx(ctx, tx))
	})
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) {
			return err
		}
		return wrapError("gormstore: tx", err)
	}
	return nil
}

type txContextKey struct{}

func withTx(ctx context.Context, tx *gorm.DB) context.Context {
	return context.WithValue(ctx, txContextKey{}, tx)
}

func txFromContext(ctx context.Context) *gorm.DB {
	tx, _ := ctx.Value(txContextKey{}).(*gorm.DB)
	return tx
}

// handle resolves the gorm handle for ctx, preferring an open transaction.
func handle(ctx context.Context, db *gorm.DB) *gorm.DB {
	if tx := txFromContext(ctx); tx != nil {
		return tx.WithContext(ctx)
	}
	return db.WithContext(ctx)
}

type healthRepository struct {
	db *gorm.DB
}

func (r *healthRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return wrapError("health: handle", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return wrapError("health: ping", err)
	}
	return nil
}
