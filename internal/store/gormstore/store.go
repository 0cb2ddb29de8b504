package gormstore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"slowhand/internal/risk"
	"slowhand/internal/store"
)

type runStateModel struct {
	ID               uint `gorm:"primaryKey"`
	Running          bool
	State            string
	StartedAt        *time.Time
	StoppedAt        *time.Time
	CyclesTotal      int64
	TradesOpened     int64
	TradesClosed     int64
	CumulativeProfit float64
	UpdatedAt        time.Time
}

func (runStateModel) TableName() string { return "run_state" }

type positionModel struct {
	ID         string `gorm:"primaryKey;size:36"`
	Symbol     string `gorm:"index;size:32"`
	Side       string `gorm:"size:8"`
	EntryPrice float64
	Quantity   float64
	Stop       float64
	Target     float64
	State      string `gorm:"size:16"`
	StrategyID string `gorm:"size:64"`
	OpenedAt   time.Time
	UpdatedAt  time.Time
}

func (positionModel) TableName() string { return "positions" }

type tradeModel struct {
	ID         string `gorm:"primaryKey;size:36"`
	Symbol     string `gorm:"index;size:32"`
	Side       string `gorm:"size:8"`
	EntryPrice float64
	ExitPrice  float64
	Quantity   float64
	Profit     float64
	ProfitPct  float64
	Reason     string         `gorm:"size:64"`
	StrategyID string         `gorm:"index;size:64"`
	Rationale  datatypes.JSON `gorm:"type:json"`
	OpenedAt   time.Time
	ClosedAt   time.Time `gorm:"index"`
}

func (tradeModel) TableName() string { return "trades" }

// Store implements store.Store and risk.StatsProvider on SQLite via gorm.
type Store struct {
	db *gorm.DB
}

func New(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: path cannot be empty")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&runStateModel{}, &positionModel{}, &tradeModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: a little parallelism, low lock contention.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &Store{db: db}, nil
}

var (
	_ store.Store        = (*Store)(nil)
	_ risk.StatsProvider = (*Store)(nil)
)

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) LoadOpenPositions(ctx context.Context) ([]store.PositionRecord, error) {
	var models []positionModel
	if err := s.db.WithContext(ctx).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]store.PositionRecord, 0, len(models))
	for _, m := range models {
		out = append(out, store.PositionRecord{
			ID:         m.ID,
			Symbol:     m.Symbol,
			Side:       m.Side,
			EntryPrice: m.EntryPrice,
			Quantity:   m.Quantity,
			Stop:       m.Stop,
			Target:     m.Target,
			State:      m.State,
			StrategyID: m.StrategyID,
			OpenedAt:   m.OpenedAt,
			UpdatedAt:  m.UpdatedAt,
		})
	}
	return out, nil
}

func (s *Store) SavePosition(ctx context.Context, rec store.PositionRecord) error {
	model := positionModel{
		ID:         rec.ID,
		Symbol:     rec.Symbol,
		Side:       rec.Side,
		EntryPrice: rec.EntryPrice,
		Quantity:   rec.Quantity,
		Stop:       rec.Stop,
		Target:     rec.Target,
		State:      rec.State,
		StrategyID: rec.StrategyID,
		OpenedAt:   rec.OpenedAt,
		UpdatedAt:  time.Now(),
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, UpdateAll: true}).
		Create(&model).Error
}

func (s *Store) DeletePosition(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Delete(&positionModel{}, "id = ?", id).Error
}

func (s *Store) ArchiveTrade(ctx context.Context, rec store.TradeRecord) error {
	model := tradeModel{
		ID:         rec.ID,
		Symbol:     rec.Symbol,
		Side:       rec.Side,
		EntryPrice: rec.EntryPrice,
		ExitPrice:  rec.ExitPrice,
		Quantity:   rec.Quantity,
		Profit:     rec.Profit,
		ProfitPct:  rec.ProfitPct,
		Reason:     rec.Reason,
		StrategyID: rec.StrategyID,
		Rationale:  datatypes.JSON(rec.Rationale),
		OpenedAt:   rec.OpenedAt,
		ClosedAt:   rec.ClosedAt,
	}
	return s.db.WithContext(ctx).Create(&model).Error
}

func (s *Store) LoadRunState(ctx context.Context) (store.RunStateRecord, bool, error) {
	var model runStateModel
	err := s.db.WithContext(ctx).First(&model, "id = ?", 1).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.RunStateRecord{}, false, nil
	}
	if err != nil {
		return store.RunStateRecord{}, false, err
	}
	return store.RunStateRecord{
		Running:          model.Running,
		State:            model.State,
		StartedAt:        model.StartedAt,
		StoppedAt:        model.StoppedAt,
		CyclesTotal:      model.CyclesTotal,
		TradesOpened:     model.TradesOpened,
		TradesClosed:     model.TradesClosed,
		CumulativeProfit: model.CumulativeProfit,
	}, true, nil
}

func (s *Store) UpdateRunState(ctx context.Context, rec store.RunStateRecord) error {
	model := runStateModel{
		ID:               1,
		Running:          rec.Running,
		State:            rec.State,
		StartedAt:        rec.StartedAt,
		StoppedAt:        rec.StoppedAt,
		CyclesTotal:      rec.CyclesTotal,
		TradesOpened:     rec.TradesOpened,
		TradesClosed:     rec.TradesClosed,
		CumulativeProfit: rec.CumulativeProfit,
		UpdatedAt:        time.Now(),
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, UpdateAll: true}).
		Create(&model).Error
}

const statsSampleLimit = 500

// StrategyStats derives per-strategy performance from the trade archive.
// Read-only: the risk gate consumes this without any schema knowledge.
func (s *Store) StrategyStats(strategyID string) (risk.StrategyStats, bool) {
	var profits []float64
	err := s.db.Model(&tradeModel{}).
		Where("strategy_id = ?", strategyID).
		Order("closed_at DESC").
		Limit(statsSampleLimit).
		Pluck("profit", &profits).Error
	if err != nil || len(profits) == 0 {
		return risk.StrategyStats{}, false
	}

	var wins, losses int
	var grossWin, grossLoss, sum float64
	for _, p := range profits {
		sum += p
		if p > 0 {
			wins++
			grossWin += p
		} else if p < 0 {
			losses++
			grossLoss += -p
		}
	}
	n := len(profits)
	mean := sum / float64(n)
	var variance float64
	for _, p := range profits {
		variance += (p - mean) * (p - mean)
	}
	variance /= float64(n)

	stats := risk.StrategyStats{
		WinRate: float64(wins) / float64(n),
		Trades:  n,
	}
	if wins > 0 {
		stats.AvgWin = grossWin / float64(wins)
	}
	if losses > 0 {
		stats.AvgLoss = grossLoss / float64(losses)
	}
	if grossLoss > 0 {
		stats.ProfitFactor = grossWin / grossLoss
	}
	if sd := math.Sqrt(variance); sd > 0 {
		stats.Sharpe = mean / sd
	}
	return stats, true
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
