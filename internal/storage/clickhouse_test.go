package storage

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/defiguard/internal/config"
	"github.com/defiguard/internal/models"
	"github.com/defiguard/internal/types"
)

func TestSplitSQLStatements(t *testing.T) {
	content := `-- header comment
CREATE TABLE a (
    x UInt8
) ENGINE = Memory;

-- second
CREATE TABLE b (y String);
SELECT 1`

	stmts := splitSQLStatements(content)
	require.Len(t, stmts, 3)
	assert.Contains(t, stmts[0], "CREATE TABLE a")
	assert.NotContains(t, stmts[0], ";")
	assert.Equal(t, "CREATE TABLE b (y String)", stmts[1])
	assert.Equal(t, "SELECT 1", stmts[2])
}

func TestNewArchiveRow(t *testing.T) {
	ts := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	snap := models.NewSnapshot("alice", []models.AssetBalance{
		{Token: "ETH", Balance: decimal.RequireFromString("2"), PriceUSD: 3000},
	}, ts)

	row, err := NewArchiveRow(snap, nil)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), row.AssetCount)
	assert.InDelta(t, 6000, row.TotalUSD, 1e-9)
	assert.Empty(t, row.RiskLevel)
	assert.Contains(t, row.Assets, `"value_usd":6000`)

	row, err = NewArchiveRow(snap, &models.RiskReport{Level: types.RiskCritical, Score: 0.9, ShouldAlert: true})
	require.NoError(t, err)
	assert.Equal(t, "critical", row.RiskLevel)
	assert.Equal(t, uint8(1), row.ShouldAlert)
}

func TestSnapshotArchive(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db, err := NewClickHouseDB(&config.ClickHouseConfig{
		Host:     "localhost",
		Port:     "9000",
		Database: "default",
		User:     "default",
	})
	if err != nil {
		t.Skipf("Skipping test - ClickHouse not available: %v", err)
		return
	}
	defer func() {
		_ = db.Close()
	}()

	ctx := testContext(t)
	require.NoError(t, RunClickHouseMigrations(ctx, db, "../../migrations/clickhouse"))

	snap := models.NewSnapshot("archive-test", nil, time.Now())
	assert.NoError(t, NewSnapshotArchive(db).Record(ctx, snap, nil))
}
