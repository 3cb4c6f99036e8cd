package knowledge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"

	apperrors "github.com/defiguard/internal/errors"
	"github.com/defiguard/internal/types"
)

// Redis hashes holding the facts
const (
	KeyAssetRisk               = "kb:asset_risk"
	KeyRiskPatterns            = "kb:risk_patterns"
	KeyConcentrationThresholds = "kb:concentration_thresholds"
	KeyVolatilityThresholds    = "kb:volatility_thresholds"
)

// RedisBackend is the primary knowledge base. Facts live in Redis hashes so they
// can be tuned without a redeploy.
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend wraps an existing client
func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

// Ping checks the backend is reachable and seeded
func (b *RedisBackend) Ping(ctx context.Context) error {
	n, err := b.client.HLen(ctx, KeyConcentrationThresholds).Result()
	if err != nil {
		return apperrors.NewKnowledgeUnavailableError("ping", err)
	}
	if n == 0 {
		return apperrors.NewKnowledgeUnavailableError("ping", errors.New("knowledge base is not seeded"))
	}
	return nil
}

// Seed replaces every fact hash with the contents of f
func (b *RedisBackend) Seed(ctx context.Context, f Facts) error {
	if err := f.Validate(); err != nil {
		return err
	}
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, KeyAssetRisk, KeyRiskPatterns, KeyConcentrationThresholds, KeyVolatilityThresholds)
		if len(f.AssetRisk) > 0 {
			pipe.HSet(ctx, KeyAssetRisk, levelFields(f.AssetRisk))
		}
		if len(f.RiskPatterns) > 0 {
			pipe.HSet(ctx, KeyRiskPatterns, levelFields(f.RiskPatterns))
		}
		pipe.HSet(ctx, KeyConcentrationThresholds, thresholdFields(f.ConcentrationThresholds))
		pipe.HSet(ctx, KeyVolatilityThresholds, thresholdFields(f.VolatilityThresholds))
		return nil
	})
	if err != nil {
		return apperrors.NewKnowledgeUnavailableError("seed", err)
	}
	return nil
}

func levelFields(m map[string]types.RiskLevel) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[strings.ToLower(k)] = string(v)
	}
	return out
}

func thresholdFields[L ~string](m map[L]float64) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[string(k)] = strconv.FormatFloat(v, 'f', -1, 64)
	}
	return out
}

func (b *RedisBackend) LookupAssetRisk(ctx context.Context, token string) (types.RiskLevel, error) {
	t := strings.ToLower(strings.TrimSpace(token))
	raw, err := b.client.HGet(ctx, KeyAssetRisk, t).Result()
	switch {
	case err == nil:
		level, ok := types.ParseRiskLevel(raw)
		if !ok {
			return "", apperrors.NewKnowledgeUnavailableError("asset lookup", fmt.Errorf("bad level %q for %s", raw, t))
		}
		return level, nil
	case !errors.Is(err, redis.Nil):
		return "", apperrors.NewKnowledgeUnavailableError("asset lookup", err)
	}

	rawPatterns, err := b.client.HGetAll(ctx, KeyRiskPatterns).Result()
	if err != nil {
		return "", apperrors.NewKnowledgeUnavailableError("pattern lookup", err)
	}
	patterns := make(map[string]types.RiskLevel, len(rawPatterns))
	for p, l := range rawPatterns {
		if level, ok := types.ParseRiskLevel(l); ok {
			patterns[p] = level
		}
	}
	return classifyAsset(t, nil, patterns), nil
}

func (b *RedisBackend) LookupConcentrationLevel(ctx context.Context, share float64) (types.RiskLevel, error) {
	m, err := loadThresholds[types.RiskLevel](ctx, b.client, KeyConcentrationThresholds)
	if err != nil {
		return "", err
	}
	return classify(share, sortedThresholds(m), types.RiskLow), nil
}

func (b *RedisBackend) LookupVolatilityLevel(ctx context.Context, absChange float64) (types.VolatilityLevel, error) {
	m, err := loadThresholds[types.VolatilityLevel](ctx, b.client, KeyVolatilityThresholds)
	if err != nil {
		return "", err
	}
	return classify(absChange, sortedThresholds(m), types.VolatilityLow), nil
}

func loadThresholds[L ~string](ctx context.Context, client *redis.Client, key string) (map[L]float64, error) {
	raw, err := client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, apperrors.NewKnowledgeUnavailableError("threshold lookup", err)
	}
	if len(raw) == 0 {
		return nil, apperrors.NewKnowledgeUnavailableError("threshold lookup", fmt.Errorf("%s is empty", key))
	}
	out := make(map[L]float64, len(raw))
	for level, v := range raw {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, apperrors.NewKnowledgeUnavailableError("threshold lookup", fmt.Errorf("%s[%s]: %w", key, level, err))
		}
		out[L(level)] = f
	}
	return out, nil
}

// LoadFacts reads a YAML facts file
func LoadFacts(path string) (Facts, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Facts{}, fmt.Errorf("read facts file: %w", err)
	}
	var f Facts
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Facts{}, fmt.Errorf("parse facts file: %w", err)
	}
	if err := f.Validate(); err != nil {
		return Facts{}, err
	}
	return f, nil
}

// Validate checks every level label and that both threshold tables are present
func (f Facts) Validate() error {
	for k, v := range f.AssetRisk {
		if !v.IsValid() {
			return fmt.Errorf("asset_risk[%s]: unknown level %q", k, v)
		}
	}
	for k, v := range f.RiskPatterns {
		if !v.IsValid() {
			return fmt.Errorf("risk_patterns[%s]: unknown level %q", k, v)
		}
	}
	if len(f.ConcentrationThresholds) == 0 || len(f.VolatilityThresholds) == 0 {
		return fmt.Errorf("concentration_thresholds and volatility_thresholds are required")
	}
	for k := range f.ConcentrationThresholds {
		if !k.IsValid() {
			return fmt.Errorf("concentration_thresholds: unknown level %q", k)
		}
	}
	for k := range f.VolatilityThresholds {
		switch k {
		case types.VolatilityLow, types.VolatilityMedium, types.VolatilityHigh, types.VolatilityExtreme:
		default:
			return fmt.Errorf("volatility_thresholds: unknown level %q", k)
		}
	}
	return nil
}
