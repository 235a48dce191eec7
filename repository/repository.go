package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Ghostrayu/xahpayroll-sub003/repository/models"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// PostgreSQL error codes as constants
const (
	// Class 23: Integrity Constraint Violation
	PgErrForeignKeyViolation = "23503" // foreign_key_violation
	PgErrUniqueViolation     = "23505" // unique_violation
	PgErrCheckViolation      = "23514" // check_violation
	PgErrNotNullViolation    = "23502" // not_null_violation

	// Class 22: Data Exception
	PgErrNumericValueOutOfRange = "22003" // numeric_value_out_of_range
)

// Repository is the channel record store backed by Postgres through GORM
type Repository struct {
	db     *gorm.DB
	logger cmtlog.Logger
}

// NewRepository wraps an already opened GORM connection
func NewRepository(db *gorm.DB, logger cmtlog.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger.With("module", "repository"),
	}
}

// Connect opens a Postgres connection, retrying while the database comes up
func Connect(dsn string, attempts int, logger cmtlog.Logger) (*Repository, error) {
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for i := range attempts {
		logger.Info("Connecting to Postgres", "attempt", i+1)
		repo, err := Open(postgres.Open(dsn), logger)
		if err == nil {
			logger.Info("Connected to Postgres")
			return repo, nil
		}
		lastErr = err
		logger.Error("Connection attempt failed", "attempt", i+1, "err", err)
		time.Sleep(2 * time.Second)
	}
	return nil, fmt.Errorf("connect postgres after %d attempts: %w", attempts, lastErr)
}

// Open opens the store on any GORM dialector
func Open(dialector gorm.Dialector, logger cmtlog.Logger) (*Repository, error) {
	db, err := gorm.Open(dialector, gormConfig())
	if err != nil {
		return nil, err
	}
	return NewRepository(db, logger), nil
}

// DB exposes the underlying connection (used by tests and migrations)
func (r *Repository) DB() *gorm.DB {
	return r.db
}

// Ping checks that the database answers
func (r *Repository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the connection pool
func (r *Repository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Migrate creates or updates the schema
func (r *Repository) Migrate() error {
	err := r.db.AutoMigrate(
		&models.Organization{},
		&models.Employee{},
		&models.Channel{},
		&models.WorkSession{},
		&models.Notification{},
	)
	if err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	r.logger.Info("Database migration completed successfully")
	return nil
}

// Seed inserts a demo organization and worker when the database is empty
func (r *Repository) Seed(ctx context.Context, orgName, orgWallet, workerName, workerWallet string) error {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Organization{}).Count(&count).Error; err != nil {
		return fmt.Errorf("count organizations: %w", err)
	}
	if count > 0 {
		r.logger.Info("Seed data already exists, skipping...")
		return nil
	}

	repoErr := r.InTx(ctx, func(tx *Tx) *RepositoryError {
		org, repoErr := tx.CreateOrganization(orgName, orgWallet)
		if repoErr != nil {
			return repoErr
		}
		_, repoErr = tx.CreateEmployee(org.ID, workerName, workerWallet)
		return repoErr
	})
	if repoErr != nil {
		return repoErr
	}
	r.logger.Info("Database seeding completed successfully")
	return nil
}

// InTx runs fn inside one database transaction. Any error returned by fn
// rolls the whole transaction back.
func (r *Repository) InTx(ctx context.Context, fn func(tx *Tx) *RepositoryError) *RepositoryError {
	dbTx := r.db.WithContext(ctx).Begin()
	if dbTx.Error != nil {
		return dbError(dbTx.Error, "Failed to start transaction")
	}

	repoErr := func() (repoErr *RepositoryError) {
		defer func() {
			if p := recover(); p != nil {
				dbTx.Rollback()
				panic(p)
			}
		}()
		return fn(&Tx{db: dbTx})
	}()
	if repoErr != nil {
		dbTx.Rollback()
		return repoErr
	}

	if err := dbTx.Commit().Error; err != nil {
		return &RepositoryError{
			Code:     "COMMIT_FAILED",
			Message:  "Failed to commit transaction",
			Detail:   err.Error(),
			Category: CategoryInfrastructure,
		}
	}
	return nil
}

// Read returns a non-transactional handle for lookups
func (r *Repository) Read(ctx context.Context) *Tx {
	return &Tx{db: r.db.WithContext(ctx)}
}

// Tx is a handle to the store, usually bound to an open transaction
type Tx struct {
	db *gorm.DB
}

// NewID generates a surrogate id with the given prefix
func NewID(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
}

// dbError maps a GORM/pgx error into a RepositoryError
func dbError(err error, message string) *RepositoryError {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &RepositoryError{
			Code:     "ENTITY_NOT_FOUND",
			Message:  message,
			Detail:   err.Error(),
			Category: CategoryNotFound,
		}
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		category := CategoryInfrastructure
		switch pgErr.Code {
		case PgErrUniqueViolation, PgErrForeignKeyViolation, PgErrCheckViolation:
			category = CategoryStateConflict
		case PgErrNotNullViolation, PgErrNumericValueOutOfRange:
			category = CategoryValidation
		}
		return &RepositoryError{
			Code:     pgErr.Code,
			Message:  pgErr.Message,
			Detail:   pgErr.Detail,
			Category: category,
		}
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return &RepositoryError{
			Code:     PgErrUniqueViolation,
			Message:  message,
			Detail:   err.Error(),
			Category: CategoryStateConflict,
		}
	}
	return &RepositoryError{
		Code:     "DATABASE_ERROR",
		Message:  message,
		Detail:   err.Error(),
		Category: CategoryInfrastructure,
	}
}

// gormConfig is shared by every opener so duplicate-key errors are translated
func gormConfig() *gorm.Config {
	return &gorm.Config{
		Logger:         gormlogger.Discard,
		TranslateError: true,
	}
}
