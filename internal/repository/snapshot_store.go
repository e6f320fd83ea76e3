package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormLogger "gorm.io/gorm/logger"

	"OptionPull/internal/domain/errs"
	"OptionPull/internal/domain/models"
	"OptionPull/internal/domain/repository"
	"OptionPull/pkg/logger"
)

// ConflictPolicy decides what an upsert does with an existing key.
type ConflictPolicy string

const (
	LastWriteWins ConflictPolicy = "last_write_wins"
	KeepFirst     ConflictPolicy = "keep_first"
)

// StoreConfig configures the snapshot store.
type StoreConfig struct {
	Driver          string // postgres or sqlite
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	OpTimeout       time.Duration
	Policy          ConflictPolicy
	BatchSize       int
	LogQueries      bool
	Logger          *logger.Logger
}

type StoreOption func(*StoreConfig)

func WithDriver(driver, dsn string) StoreOption {
	return func(c *StoreConfig) {
		c.Driver = driver
		c.DSN = dsn
	}
}

func WithPool(maxOpen, maxIdle int, lifetime time.Duration) StoreOption {
	return func(c *StoreConfig) {
		if maxOpen > 0 {
			c.MaxOpenConns = maxOpen
		}
		if maxIdle > 0 {
			c.MaxIdleConns = maxIdle
		}
		if lifetime > 0 {
			c.ConnMaxLifetime = lifetime
		}
	}
}

// WithOpTimeout bounds every store operation.
func WithOpTimeout(d time.Duration) StoreOption {
	return func(c *StoreConfig) {
		if d > 0 {
			c.OpTimeout = d
		}
	}
}

func WithConflictPolicy(p ConflictPolicy) StoreOption {
	return func(c *StoreConfig) {
		if p != "" {
			c.Policy = p
		}
	}
}

// WithBatchSize sets the rows per INSERT statement.
func WithBatchSize(n int) StoreOption {
	return func(c *StoreConfig) {
		if n > 0 {
			c.BatchSize = n
		}
	}
}

func WithQueryLogging(enabled bool) StoreOption {
	return func(c *StoreConfig) { c.LogQueries = enabled }
}

func WithStoreLogger(l *logger.Logger) StoreOption {
	return func(c *StoreConfig) {
		if l != nil {
			c.Logger = l
		}
	}
}

func defaultStoreConfig() StoreConfig {
	return StoreConfig{
		Driver:          "postgres",
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		OpTimeout:       10 * time.Second,
		Policy:          LastWriteWins,
		BatchSize:       200,
		Logger:          logger.NewNop(),
	}
}

// SnapshotStore persists observations in the option_chain table.
type SnapshotStore struct {
	db  *gorm.DB
	cfg StoreConfig
}

var _ repository.Storage = (*SnapshotStore)(nil)

// NewSnapshotStore opens the configured database. Schema creation happens in Init.
func NewSnapshotStore(opts ...StoreOption) (*SnapshotStore, error) {
	cfg := defaultStoreConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store: dsn is required")
	}

	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.New(postgres.Config{DSN: cfg.DSN, PreferSimpleProtocol: true})
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("store: unsupported driver %q", cfg.Driver)
	}

	level := gormLogger.Error
	if cfg.LogQueries {
		level = gormLogger.Info
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:  gormLogger.Default.LogMode(level),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, storeError("open", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, storeError("open", err)
	}
	if cfg.Driver == "sqlite" {
		// One writer; also keeps in-memory databases on a single connection.
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	cfg.Logger.Info("Connected to snapshot store", logger.String("driver", cfg.Driver))
	return &SnapshotStore{db: db, cfg: cfg}, nil
}

// NewSnapshotStoreWithDB wraps an already opened gorm handle.
func NewSnapshotStoreWithDB(db *gorm.DB, opts ...StoreOption) *SnapshotStore {
	cfg := defaultStoreConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &SnapshotStore{db: db, cfg: cfg}
}

func (s *SnapshotStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.OpTimeout)
}

// Init creates the table and its indexes when missing.
func (s *SnapshotStore) Init(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.db.WithContext(ctx).AutoMigrate(&ObservationRow{}); err != nil {
		return storeError("migrate", err)
	}
	return nil
}

func (s *SnapshotStore) Upsert(ctx context.Context, o *models.Observation) error {
	if o == nil {
		return nil
	}
	if err := o.ContractKey.Validate(); err != nil {
		return errs.Store(o.ContractKey.String(), false, err)
	}
	return s.UpsertBatch(ctx, []*models.Observation{o})
}

// UpsertBatch writes the batch in one transaction. Duplicate keys inside the batch
// collapse to the last occurrence; records with an incomplete key are skipped.
func (s *SnapshotStore) UpsertBatch(ctx context.Context, obs []*models.Observation) error {
	_, err := s.WriteBatch(ctx, obs)
	return err
}

// WriteBatch is UpsertBatch reporting the number of rows the database changed. Under
// keep_first, rows whose key already exists are not counted.
func (s *SnapshotStore) WriteBatch(ctx context.Context, obs []*models.Observation) (int64, error) {
	rows := s.dedupe(obs)
	if len(rows) == 0 {
		return 0, nil
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res := s.db.WithContext(ctx).
		Clauses(s.conflictClause()).
		CreateInBatches(&rows, s.cfg.BatchSize)
	if res.Error != nil {
		return 0, storeError(fmt.Sprintf("upsert %d rows", len(rows)), res.Error)
	}
	return res.RowsAffected, nil
}

func (s *SnapshotStore) dedupe(obs []*models.Observation) []ObservationRow {
	index := make(map[string]int, len(obs))
	rows := make([]ObservationRow, 0, len(obs))
	for _, o := range obs {
		if o == nil {
			continue
		}
		if err := o.ContractKey.Validate(); err != nil {
			s.cfg.Logger.Warn("Skipping observation with invalid key",
				logger.String("key", o.ContractKey.String()), logger.Error(err))
			continue
		}
		key := o.ContractKey.String()
		row := rowFromObservation(o)
		if i, ok := index[key]; ok {
			rows[i] = row
			continue
		}
		index[key] = len(rows)
		rows = append(rows, row)
	}
	return rows
}

func (s *SnapshotStore) conflictClause() clause.OnConflict {
	cols := make([]clause.Column, len(keyColumns))
	for i, name := range keyColumns {
		cols[i] = clause.Column{Name: name}
	}
	if s.cfg.Policy == KeepFirst {
		return clause.OnConflict{Columns: cols, DoNothing: true}
	}
	return clause.OnConflict{Columns: cols, DoUpdates: clause.AssignmentColumns(valueColumns)}
}

// Query returns observations matching f, newest first unless f.Ascending.
// Rows sharing an observed_at are ordered by strike then option type.
func (s *SnapshotStore) Query(ctx context.Context, f repository.ObservationFilter) ([]*models.Observation, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	q := s.db.WithContext(ctx).Model(&ObservationRow{})
	if f.Symbol != "" {
		q = q.Where("symbol = ?", f.Symbol)
	}
	if f.Strike != nil {
		q = q.Where("strike_price = ?", decimal.NewFromFloat(*f.Strike))
	}
	if f.StrikeMin != nil {
		q = q.Where("strike_price >= ?", *f.StrikeMin)
	}
	if f.StrikeMax != nil {
		q = q.Where("strike_price <= ?", *f.StrikeMax)
	}
	if f.OptionType != "" {
		q = q.Where("option_type = ?", string(f.OptionType))
	}
	if f.Expiry != nil {
		q = q.Where("expiry_date = ?", models.DateOf(*f.Expiry))
	}
	if !f.From.IsZero() {
		q = q.Where("observed_at >= ?", f.From.UTC())
	}
	if !f.To.IsZero() {
		q = q.Where("observed_at <= ?", f.To.UTC())
	}
	if f.MinVolume > 0 {
		q = q.Where("total_traded_volume > ?", f.MinVolume)
	}
	if f.Latest {
		latest := s.db.Model(&ObservationRow{}).Select("MAX(observed_at)")
		if f.Symbol != "" {
			latest = latest.Where("symbol = ?", f.Symbol)
		}
		q = q.Where("observed_at = (?)", latest)
	}

	if f.Ascending {
		q = q.Order("observed_at ASC")
	} else {
		q = q.Order("observed_at DESC")
	}
	q = q.Order("strike_price ASC").Order("option_type ASC")
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	var rows []ObservationRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, storeError("query", err)
	}
	out := make([]*models.Observation, len(rows))
	for i := range rows {
		out[i] = rows[i].observation()
	}
	return out, nil
}

// History returns every stored observation of one contract in time order.
func (s *SnapshotStore) History(ctx context.Context, strike float64, typ models.OptionType, expiry time.Time, limit int) ([]*models.Observation, error) {
	return s.Query(ctx, repository.ObservationFilter{
		Strike:     &strike,
		OptionType: typ,
		Expiry:     &expiry,
		Ascending:  true,
		Limit:      limit,
	})
}

// Health pings the database.
func (s *SnapshotStore) Health(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return storeError("health", err)
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return storeError("health", sqlDB.PingContext(ctx))
}

func (s *SnapshotStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
