package storage

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	apperrors "github.com/defiguard/internal/errors"
	"github.com/defiguard/internal/models"
)

// Key layout shared with every deployment of the monitor
const (
	PortfolioKeyPrefix = "portfolio_"
	PortfolioIndexKey  = "portfolio_keys"
	AlertKeyPrefix     = "alert_"
	AlertIndexKey      = "alert_keys"
	SessionsKey        = "active_sessions"
)

// PortfolioKey returns the storage key of a user's portfolio
func PortfolioKey(userID string) string {
	return PortfolioKeyPrefix + userID
}

// AlertKey returns the storage key of one alert record
func AlertKey(userID string, ts time.Time) string {
	return AlertKeyPrefix + userID + "_" + ts.UTC().Format(time.RFC3339Nano)
}

func getJSON(ctx context.Context, kv KVStore, key string, out interface{}) error {
	raw, err := kv.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return err
	}
	if err != nil {
		return apperrors.NewStorageError("get "+key, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return apperrors.NewStorageError("decode "+key, err)
	}
	return nil
}

func setJSON(ctx context.Context, kv KVStore, key string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return apperrors.NewStorageError("encode "+key, err)
	}
	if err := kv.Set(ctx, key, raw); err != nil {
		return apperrors.NewStorageError("set "+key, err)
	}
	return nil
}

// stringIndex is a JSON list of keys kept under one index key
type stringIndex struct {
	kv  KVStore
	key string
}

func (ix stringIndex) load(ctx context.Context) ([]string, error) {
	var keys []string
	if err := getJSON(ctx, ix.kv, ix.key, &keys); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return keys, nil
}

func (ix stringIndex) add(ctx context.Context, entry string) error {
	keys, err := ix.load(ctx)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if k == entry {
			return nil
		}
	}
	return setJSON(ctx, ix.kv, ix.key, append(keys, entry))
}

// PortfolioRepository persists portfolios under portfolio_{user}
type PortfolioRepository struct {
	kv    KVStore
	index stringIndex
	mu    sync.Mutex
}

// NewPortfolioRepository creates a new portfolio repository
func NewPortfolioRepository(kv KVStore) *PortfolioRepository {
	return &PortfolioRepository{kv: kv, index: stringIndex{kv: kv, key: PortfolioIndexKey}}
}

// Save creates or replaces the portfolio of p.UserID
func (r *PortfolioRepository) Save(ctx context.Context, p *models.Portfolio) error {
	if p.UserID == "" {
		return apperrors.NewValidationError("user_id", "must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	key := PortfolioKey(p.UserID)
	if err := setJSON(ctx, r.kv, key, p); err != nil {
		return err
	}
	return r.index.add(ctx, key)
}

// Get returns the user's portfolio, or ErrNotFound
func (r *PortfolioRepository) Get(ctx context.Context, userID string) (*models.Portfolio, error) {
	var p models.Portfolio
	if err := getJSON(ctx, r.kv, PortfolioKey(userID), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ListUserIDs returns every user with a registered portfolio, in registration order
func (r *PortfolioRepository) ListUserIDs(ctx context.Context) ([]string, error) {
	keys, err := r.index.load(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, strings.TrimPrefix(k, PortfolioKeyPrefix))
	}
	return ids, nil
}

// AlertRepository is the append-only alert history
type AlertRepository struct {
	kv    KVStore
	index stringIndex
	mu    sync.Mutex
}

// NewAlertRepository creates a new alert repository
func NewAlertRepository(kv KVStore) *AlertRepository {
	return &AlertRepository{kv: kv, index: stringIndex{kv: kv, key: AlertIndexKey}}
}

// Append stores an alert. A record whose timestamp collides with an existing one
// for the same user is shifted forward by a nanosecond until its key is free.
func (r *AlertRepository) Append(ctx context.Context, rec models.AlertRecord) error {
	if rec.UserID == "" {
		return apperrors.NewValidationError("user_id", "must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	keys, err := r.index.load(ctx)
	if err != nil {
		return err
	}
	taken := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		taken[k] = struct{}{}
	}

	rec.Timestamp = rec.Timestamp.UTC()
	key := AlertKey(rec.UserID, rec.Timestamp)
	for {
		if _, ok := taken[key]; !ok {
			break
		}
		rec.Timestamp = rec.Timestamp.Add(time.Nanosecond)
		key = AlertKey(rec.UserID, rec.Timestamp)
	}

	if err := setJSON(ctx, r.kv, key, rec); err != nil {
		return err
	}
	return setJSON(ctx, r.kv, AlertIndexKey, append(keys, key))
}

// ListByUser returns the user's alerts ordered oldest first
func (r *AlertRepository) ListByUser(ctx context.Context, userID string) ([]models.AlertRecord, error) {
	keys, err := r.index.load(ctx)
	if err != nil {
		return nil, err
	}

	type entry struct {
		key string
		ts  time.Time
	}
	prefix := AlertKeyPrefix + userID + "_"
	var matched []entry
	for _, k := range keys {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		// rejects keys of users whose id merely starts with userID + "_"
		ts, err := time.Parse(time.RFC3339Nano, strings.TrimPrefix(k, prefix))
		if err != nil {
			continue
		}
		matched = append(matched, entry{key: k, ts: ts})
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].ts.Before(matched[j].ts) })

	records := make([]models.AlertRecord, 0, len(matched))
	for _, m := range matched {
		var rec models.AlertRecord
		if err := getJSON(ctx, r.kv, m.key, &rec); err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// Recent returns up to n alerts, most recent first
func (r *AlertRepository) Recent(ctx context.Context, userID string, n int) ([]models.AlertRecord, error) {
	all, err := r.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]models.AlertRecord, 0, n)
	for i := len(all) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

// Latest returns the most recent alert, or false if the user has none
func (r *AlertRepository) Latest(ctx context.Context, userID string) (models.AlertRecord, bool, error) {
	recent, err := r.Recent(ctx, userID, 1)
	if err != nil || len(recent) == 0 {
		return models.AlertRecord{}, false, err
	}
	return recent[0], true, nil
}

// Count returns the number of stored alerts across all users
func (r *AlertRepository) Count(ctx context.Context) (int, error) {
	keys, err := r.index.load(ctx)
	return len(keys), err
}

// SessionRepository keeps the active_sessions map
type SessionRepository struct {
	kv KVStore
	mu sync.Mutex
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(kv KVStore) *SessionRepository {
	return &SessionRepository{kv: kv}
}

func (r *SessionRepository) load(ctx context.Context) (map[string]models.Session, error) {
	sessions := make(map[string]models.Session)
	if err := getJSON(ctx, r.kv, SessionsKey, &sessions); err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return sessions, nil
}

// Start creates or overwrites the session for s.UserID
func (r *SessionRepository) Start(ctx context.Context, s models.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sessions, err := r.load(ctx)
	if err != nil {
		return err
	}
	sessions[s.UserID] = s
	return setJSON(ctx, r.kv, SessionsKey, sessions)
}

// End removes the user's session. Ending an absent session is a no-op.
func (r *SessionRepository) End(ctx context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sessions, err := r.load(ctx)
	if err != nil {
		return err
	}
	if _, ok := sessions[userID]; !ok {
		return nil
	}
	delete(sessions, userID)
	return setJSON(ctx, r.kv, SessionsKey, sessions)
}

// Get returns the user's session if one is active
func (r *SessionRepository) Get(ctx context.Context, userID string) (models.Session, bool, error) {
	sessions, err := r.load(ctx)
	if err != nil {
		return models.Session{}, false, err
	}
	s, ok := sessions[userID]
	return s, ok, nil
}

// List returns all active sessions ordered by user id
func (r *SessionRepository) List(ctx context.Context) ([]models.Session, error) {
	sessions, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.Session, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}
