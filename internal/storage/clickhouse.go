package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/defiguard/internal/config"
	"github.com/defiguard/internal/models"
)

// ClickHouseDB wraps the ClickHouse connection
type ClickHouseDB struct {
	conn driver.Conn
}

// NewClickHouseDB creates a new ClickHouse database connection
func NewClickHouseDB(cfg *config.ClickHouseConfig) (*ClickHouseDB, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%s", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout:      10 * time.Second,
		MaxOpenConns:     5,
		MaxIdleConns:     2,
		ConnMaxLifetime:  time.Hour,
		ConnOpenStrategy: clickhouse.ConnOpenInOrder,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	return &ClickHouseDB{conn: conn}, nil
}

// Close closes the ClickHouse connection
func (db *ClickHouseDB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// Conn returns the underlying ClickHouse connection
func (db *ClickHouseDB) Conn() driver.Conn {
	return db.conn
}

// Ping checks if the database is reachable
func (db *ClickHouseDB) Ping(ctx context.Context) error {
	return db.conn.Ping(ctx)
}

// Exec executes a query without returning rows
func (db *ClickHouseDB) Exec(ctx context.Context, query string, args ...interface{}) error {
	return db.conn.Exec(ctx, query, args...)
}

// ArchiveRow is one archived scan result
type ArchiveRow struct {
	UserID      string
	Timestamp   time.Time
	TotalUSD    float64
	AssetCount  uint32
	RiskLevel   string
	RiskScore   float64
	ShouldAlert uint8
	Assets      string
}

// NewArchiveRow flattens a snapshot and its report (nil when unscored) into a row
func NewArchiveRow(snap *models.PortfolioSnapshot, report *models.RiskReport) (ArchiveRow, error) {
	assets, err := json.Marshal(snap.Assets)
	if err != nil {
		return ArchiveRow{}, fmt.Errorf("failed to encode assets: %w", err)
	}
	row := ArchiveRow{
		UserID:     snap.UserID,
		Timestamp:  snap.Timestamp.UTC(),
		TotalUSD:   snap.TotalUSD,
		AssetCount: uint32(len(snap.Assets)), // #nosec G115 - bounded by tracked tokens
		Assets:     string(assets),
	}
	if report != nil {
		row.RiskLevel = string(report.Level)
		row.RiskScore = report.Score
		if report.ShouldAlert {
			row.ShouldAlert = 1
		}
	}
	return row, nil
}

// SnapshotArchive appends scored snapshots to the risk_snapshots table
type SnapshotArchive struct {
	db *ClickHouseDB
}

// NewSnapshotArchive creates an archive on an open connection
func NewSnapshotArchive(db *ClickHouseDB) *SnapshotArchive {
	return &SnapshotArchive{db: db}
}

// Record appends one row. A nil report archives the snapshot without a score.
func (a *SnapshotArchive) Record(ctx context.Context, snap *models.PortfolioSnapshot, report *models.RiskReport) error {
	row, err := NewArchiveRow(snap, report)
	if err != nil {
		return err
	}

	batch, err := a.db.Conn().PrepareBatch(ctx, `INSERT INTO risk_snapshots`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}
	if err := batch.Append(
		row.UserID,
		row.Timestamp,
		row.TotalUSD,
		row.AssetCount,
		row.RiskLevel,
		row.RiskScore,
		row.ShouldAlert,
		row.Assets,
	); err != nil {
		_ = batch.Abort()
		return fmt.Errorf("failed to append snapshot row: %w", err)
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send snapshot batch: %w", err)
	}
	return nil
}
