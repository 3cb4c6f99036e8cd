package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/defiguard/internal/models"
	"github.com/defiguard/internal/types"
)

func TestPortfolioRepositoryRoundTrip(t *testing.T) {
	ctx := testContext(t)
	store, mr := newTestRedisStore(t)
	repo := NewPortfolioRepository(store)

	p := &models.Portfolio{
		UserID:       "alice",
		Wallets:      []string{"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"},
		Chains:       []string{"ethereum", "polygon"},
		RegisteredAt: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	require.NoError(t, repo.Save(ctx, p))
	require.NoError(t, repo.Save(ctx, p))

	got, err := repo.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, p, got)
	assert.True(t, mr.Exists("portfolio_alice"))

	ids, err := repo.ListUserIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, ids)

	_, err = repo.Get(ctx, "bob")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAlertRepositoryOrdering(t *testing.T) {
	ctx := testContext(t)
	repo := NewAlertRepository(NewMemoryStore())
	base := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)

	for i, level := range []types.RiskLevel{types.RiskMedium, types.RiskHigh, types.RiskCritical} {
		require.NoError(t, repo.Append(ctx, models.AlertRecord{
			UserID:    "alice",
			Level:     level,
			Score:     float64(i) / 10,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, repo.Append(ctx, models.AlertRecord{UserID: "alice_2", Level: types.RiskLow, Timestamp: base}))

	all, err := repo.ListByUser(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, types.RiskMedium, all[0].Level)

	recent, err := repo.Recent(ctx, "alice", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, types.RiskCritical, recent[0].Level)
	assert.Equal(t, types.RiskHigh, recent[1].Level)

	latest, ok, err := repo.Latest(ctx, "alice_2")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, types.RiskLow, latest.Level)

	_, ok, err = repo.Latest(ctx, "nobody")
	require.NoError(t, err)
	assert.False(t, ok)

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, count)
}

func TestAlertRepositoryTimestampCollision(t *testing.T) {
	ctx := testContext(t)
	kv := NewMemoryStore()
	repo := NewAlertRepository(kv)
	ts := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Append(ctx, models.AlertRecord{UserID: "bob", Level: types.RiskHigh, Timestamp: ts}))
	require.NoError(t, repo.Append(ctx, models.AlertRecord{UserID: "bob", Level: types.RiskCritical, Timestamp: ts}))

	all, err := repo.ListByUser(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, types.RiskHigh, all[0].Level)
	assert.Equal(t, types.RiskCritical, all[1].Level)
	assert.Contains(t, kv.Keys(), AlertKey("bob", ts))
}

func TestSessionRepository(t *testing.T) {
	ctx := testContext(t)
	store, _ := newTestRedisStore(t)
	repo := NewSessionRepository(store)

	require.NoError(t, repo.Start(ctx, models.Session{UserID: "carol", Address: "carol"}))
	require.NoError(t, repo.Start(ctx, models.Session{UserID: "alice", Address: "alice"}))

	s, ok, err := repo.Get(ctx, "carol")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "carol", s.Address)

	list, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "alice", list[0].UserID)

	require.NoError(t, repo.End(ctx, "carol"))
	require.NoError(t, repo.End(ctx, "carol"))
	_, ok, err = repo.Get(ctx, "carol")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRepositoriesSurviveDurableOutage(t *testing.T) {
	ctx := testContext(t)
	durable := &flakyStore{MemoryStore: NewMemoryStore()}
	store := NewTieredStore(ctx, durable)
	alerts := NewAlertRepository(store)
	sessions := NewSessionRepository(store)
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, alerts.Append(ctx, models.AlertRecord{UserID: "dave", Level: types.RiskHigh, Timestamp: ts}))
	require.NoError(t, sessions.Start(ctx, models.Session{UserID: "dave", Address: "dave"}))

	durable.fail = true
	require.NoError(t, alerts.Append(ctx, models.AlertRecord{UserID: "dave", Level: types.RiskCritical, Timestamp: ts.Add(time.Minute)}))
	require.NoError(t, sessions.End(ctx, "dave"))

	durable.fail = false
	require.NoError(t, alerts.Append(ctx, models.AlertRecord{UserID: "dave", Level: types.RiskMedium, Timestamp: ts.Add(2 * time.Minute)}))

	all, err := alerts.ListByUser(ctx, "dave")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, types.RiskCritical, all[1].Level)

	_, ok, err := sessions.Get(ctx, "dave")
	require.NoError(t, err)
	assert.False(t, ok, "session ended during the outage stays ended")

	fresh := NewAlertRepository(durable.MemoryStore)
	count, err := fresh.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}
