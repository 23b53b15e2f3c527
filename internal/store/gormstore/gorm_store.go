package gormstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"

	"signaldesk/internal/analysis/indicator"
	"signaldesk/internal/market"
	"signaldesk/internal/signal"
	"signaldesk/internal/store"
	"signaldesk/internal/store/model"
)

// K 线批量写入的分批大小，避免超出 SQLite 的变量上限。
const candleBatchSize = 200

// GormStore implements store.Store using Gorm + SQLite (pure-Go driver).
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens (and migrates) the SQLite database at path.
func NewGormStore(path string) (*GormStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: 数据库路径不能为空")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.New(sqlite.Config{DriverName: "sqlite", DSN: dsn}), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&model.CandleModel{}, &model.SignalModel{}, &model.IndicatorSnapshotModel{}); err != nil {
		return nil, fmt.Errorf("gorm store migrate: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: a little read parallelism for HTTP while keeping writer contention low.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &GormStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *GormStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *GormStore) ready() error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	return nil
}

// UpsertCandles 以 (symbol, interval, open_time) 为冲突键写入，未收盘的 K 线会被覆盖更新。
func (s *GormStore) UpsertCandles(ctx context.Context, candles []market.Candle) error {
	if err := s.ready(); err != nil {
		return err
	}
	if len(candles) == 0 {
		return nil
	}
	models := make([]model.CandleModel, 0, len(candles))
	for _, c := range candles {
		if c.Symbol == "" || c.Interval == "" {
			return fmt.Errorf("candle symbol/interval 不能为空")
		}
		models = append(models, model.CandleFromMarket(c))
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "symbol"}, {Name: "interval"}, {Name: "open_time"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"close_time", "open", "high", "low", "close", "volume", "trades", "updated_at",
			}),
		}).
		CreateInBatches(&models, candleBatchSize).Error
}

func (s *GormStore) ListCandles(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	q := s.db.WithContext(ctx).
		Where("symbol = ? AND interval = ?", symbol, interval).
		Order("open_time DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []model.CandleModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]market.Candle, len(rows))
	for i, row := range rows {
		out[len(rows)-1-i] = row.ToMarket()
	}
	return out, nil
}

func (s *GormStore) InsertSignal(ctx context.Context, sig signal.Signal) (uint, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	row := model.SignalFromDomain(sig)
	row.ID = 0
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return 0, err
	}
	return row.ID, nil
}

func (s *GormStore) InsertIndicatorSnapshot(ctx context.Context, signalID uint, snap indicator.Snapshot) error {
	if err := s.ready(); err != nil {
		return err
	}
	if signalID == 0 {
		return fmt.Errorf("signal_id 必填")
	}
	row := model.SnapshotFromDomain(signalID, snap)
	return s.db.WithContext(ctx).Create(&row).Error
}

// DeleteSignal 先删快照再删信号，两步在同一事务内；重复删除不报错。
func (s *GormStore) DeleteSignal(ctx context.Context, id uint) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("signal_id = ?", id).Delete(&model.IndicatorSnapshotModel{}).Error; err != nil {
			return err
		}
		return tx.Delete(&model.SignalModel{}, id).Error
	})
}

func (s *GormStore) GetSignal(ctx context.Context, id uint) (signal.Signal, error) {
	if err := s.ready(); err != nil {
		return signal.Signal{}, err
	}
	var row model.SignalModel
	err := s.db.WithContext(ctx).First(&row, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return signal.Signal{}, store.ErrNotFound
	}
	if err != nil {
		return signal.Signal{}, err
	}
	return row.ToDomain(), nil
}

func (s *GormStore) ListSignals(ctx context.Context, symbol string, limit int) ([]signal.Signal, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	q := s.db.WithContext(ctx).Order("id DESC")
	if symbol = strings.TrimSpace(symbol); symbol != "" {
		q = q.Where("symbol = ?", strings.ToUpper(symbol))
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []model.SignalModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]signal.Signal, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.ToDomain())
	}
	return out, nil
}

func (s *GormStore) GetIndicatorSnapshot(ctx context.Context, signalID uint) (indicator.Snapshot, error) {
	if err := s.ready(); err != nil {
		return indicator.Snapshot{}, err
	}
	var row model.IndicatorSnapshotModel
	err := s.db.WithContext(ctx).Where("signal_id = ?", signalID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return indicator.Snapshot{}, store.ErrNotFound
	}
	if err != nil {
		return indicator.Snapshot{}, err
	}
	return row.ToDomain(), nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

var _ store.Store = (*GormStore)(nil)
