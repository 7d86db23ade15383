package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/isdmx/codegrade/progress"
)

// Supported drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config configures the database connection
type Config struct {
	Driver string
	DSN    string
}

// Store implements progress.Store with GORM
type Store struct {
	db     *gorm.DB
	driver string
}

// Open connects to the database and runs AutoMigrate
func Open(cfg Config, zlogger *zap.Logger) (*Store, error) {
	gormLogger := logger.New(
		zapAdapter{zlogger},
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)
	gormConfig := &gorm.Config{
		Logger:  gormLogger,
		NowFunc: func() time.Time { return time.Now().UTC() },
	}

	var (
		db  *gorm.DB
		err error
	)
	switch cfg.Driver {
	case DriverSQLite:
		db, err = openSQLite(cfg.DSN, gormConfig)
	case DriverPostgres:
		db, err = gorm.Open(postgres.Open(cfg.DSN), gormConfig)
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", cfg.Driver, err)
	}

	if err := db.AutoMigrate(&ProgressModel{}, &HistoryModel{}); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db, driver: cfg.Driver}, nil
}

func openSQLite(path string, gormConfig *gorm.Config) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("creating database directory %s: %w", dir, err)
		}
	}

	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)"
	}
	db, err := gorm.Open(sqlite.Open(dsn), gormConfig)
	if err != nil {
		return nil, err
	}

	// SQLite has a single writer; one connection turns lock contention into
	// queueing instead of SQLITE_BUSY
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

// Apply implements progress.Store. The history row and the record upsert
// share one transaction; on PostgreSQL the record row is locked FOR UPDATE.
func (s *Store) Apply(ctx context.Context, entry progress.HistoryEntry, update progress.UpdateFunc) (progress.Record, error) {
	var out progress.Record
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		history := historyModelFrom(entry)
		if err := tx.Create(&history).Error; err != nil {
			return fmt.Errorf("appending history: %w", err)
		}

		q := tx
		if s.driver == DriverPostgres {
			q = q.Clauses(clause.Locking{Strength: "UPDATE"})
		}

		var model ProgressModel
		err := q.Where("submitter = ? AND exercise = ?", entry.Submitter, entry.Exercise).
			First(&model).Error
		exists := true
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			exists = false
			model = ProgressModel{Submitter: entry.Submitter, Exercise: entry.Exercise}
		case err != nil:
			return fmt.Errorf("loading progress: %w", err)
		}

		rec := model.toRecord()
		if err := update(&rec, exists); err != nil {
			return fmt.Errorf("update progress: %w", err)
		}
		model.fromRecord(rec)

		if exists {
			if err := tx.Save(&model).Error; err != nil {
				return fmt.Errorf("saving progress: %w", err)
			}
		} else if err := tx.Create(&model).Error; err != nil {
			return fmt.Errorf("creating progress: %w", err)
		}

		out = model.toRecord()
		return nil
	})
	if err != nil {
		return progress.Record{}, err
	}
	return out, nil
}

// Get implements progress.Store
func (s *Store) Get(ctx context.Context, submitter, exerciseID string) (progress.Record, error) {
	var model ProgressModel
	err := s.db.WithContext(ctx).
		Where("submitter = ? AND exercise = ?", submitter, exerciseID).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return progress.Record{}, progress.ErrRecordNotFound
	}
	if err != nil {
		return progress.Record{}, fmt.Errorf("loading progress: %w", err)
	}
	return model.toRecord(), nil
}

// History implements progress.Store
func (s *Store) History(ctx context.Context, submitter, exerciseID string, limit int) ([]progress.HistoryEntry, error) {
	q := s.db.WithContext(ctx).
		Where("submitter = ? AND exercise = ?", submitter, exerciseID).
		Order("submitted_at DESC").
		Order("seq DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var models []HistoryModel
	if err := q.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing history: %w", err)
	}

	out := make([]progress.HistoryEntry, 0, len(models))
	for i := range models {
		out = append(out, models[i].toEntry())
	}
	return out, nil
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the underlying connection pool
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// zapAdapter wraps *zap.Logger for GORM's logger.Writer interface
type zapAdapter struct {
	logger *zap.Logger
}

func (z zapAdapter) Printf(format string, args ...any) {
	z.logger.Warn(fmt.Sprintf(format, args...), zap.String("component", "gorm"))
}
