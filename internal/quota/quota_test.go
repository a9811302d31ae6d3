package quota

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wisemagpie/wise-magpie/internal/config"
	"github.com/wisemagpie/wise-magpie/internal/store"
	"github.com/wisemagpie/wise-magpie/internal/types"
	"golang.org/x/time/rate"
)

func newAccountant(t *testing.T) (*Accountant, *store.Store, *config.Config) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "magpie.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	cfg := config.Default()
	return New(s, cfg), s, cfg
}

func TestEffectiveLimitAppliesSafetyMargin(t *testing.T) {
	a, _, cfg := newAccountant(t)

	// 45 * 0.85 = 38.25, floored.
	assert.Equal(t, 38, a.EffectiveLimit(types.ModelOpus))
	assert.Equal(t, 191, a.EffectiveLimit(types.ModelSonnet)) // 225 * 0.85
	assert.Equal(t, 425, a.EffectiveLimit(types.ModelHaiku))  // 500 * 0.85

	cfg.Quota.Limits["opus"] = 100
	assert.Equal(t, 85, a.EffectiveLimit(types.ModelOpus))
}

func TestConsumeRefundRemaining(t *testing.T) {
	a, _, _ := newAccountant(t)
	ctx := context.Background()

	remaining, err := a.Remaining(ctx, types.ModelOpus)
	require.NoError(t, err)
	assert.Equal(t, 38, remaining)

	require.NoError(t, a.Consume(ctx, types.ModelOpus))
	require.NoError(t, a.Consume(ctx, types.ModelOpus))
	remaining, err = a.Remaining(ctx, types.ModelOpus)
	require.NoError(t, err)
	assert.Equal(t, 36, remaining)

	require.NoError(t, a.Refund(ctx, types.ModelOpus))
	remaining, err = a.Remaining(ctx, types.ModelOpus)
	require.NoError(t, err)
	assert.Equal(t, 37, remaining)

	// Other models are untouched.
	remaining, err = a.Remaining(ctx, types.ModelHaiku)
	require.NoError(t, err)
	assert.Equal(t, 425, remaining)
}

func TestAdmitsAtExhaustion(t *testing.T) {
	a, s, cfg := newAccountant(t)
	ctx := context.Background()
	cfg.Quota.Limits["opus"] = 2 // effective limit: floor(2 * 0.85) = 1

	ok, err := a.Admits(ctx, types.ModelOpus)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.RecordQuotaConsumption(ctx, types.ModelOpus, 1))
	ok, err = a.Admits(ctx, types.ModelOpus)
	require.NoError(t, err)
	assert.False(t, ok)

	// Over-consumption never yields a negative remaining.
	require.NoError(t, s.RecordQuotaConsumption(ctx, types.ModelOpus, 5))
	remaining, err := a.Remaining(ctx, types.ModelOpus)
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)
}

func TestRemainingFraction(t *testing.T) {
	a, _, cfg := newAccountant(t)
	ctx := context.Background()
	cfg.Quota.Limits["sonnet"] = 100 // effective 85

	for i := 0; i < 51; i++ {
		require.NoError(t, a.Consume(ctx, types.ModelSonnet))
	}
	frac, err := a.RemainingFraction(ctx, types.ModelSonnet)
	require.NoError(t, err)
	assert.InDelta(t, 34.0/85.0, frac, 1e-9)
}

func TestCorrectRemaining(t *testing.T) {
	a, _, _ := newAccountant(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, a.CorrectRemaining(ctx, types.ModelOpus, 10, now))
	remaining, err := a.Remaining(ctx, types.ModelOpus)
	require.NoError(t, err)
	assert.Equal(t, 10, remaining)

	w, err := a.Window(ctx)
	require.NoError(t, err)
	require.NotNil(t, w.LastCorrectionAt)
}

func TestApplyUtilization(t *testing.T) {
	a, _, _ := newAccountant(t)
	ctx := context.Background()

	require.NoError(t, a.ApplyUtilization(ctx, 40, time.Now()))

	w, err := a.Window(ctx)
	require.NoError(t, err)
	assert.Equal(t, 18, w.Consumed[types.ModelOpus])    // 40% of 45
	assert.Equal(t, 90, w.Consumed[types.ModelSonnet])  // 40% of 225
	assert.Equal(t, 200, w.Consumed[types.ModelHaiku])  // 40% of 500

	// Values clamp to [0, 100] percent.
	require.NoError(t, a.ApplyUtilization(ctx, 250, time.Now()))
	w, err = a.Window(ctx)
	require.NoError(t, err)
	assert.Equal(t, 45, w.Consumed[types.ModelOpus])
}

func TestSyncAppliesUpstreamUtilization(t *testing.T) {
	a, _, _ := newAccountant(t)
	ctx := context.Background()

	var gotBeta, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBeta = r.Header.Get("anthropic-beta")
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"five_hour":{"utilization":20.0,"resets_at":"2026-08-24T12:00:00Z"}}`))
	}))
	defer srv.Close()

	credPath := filepath.Join(t.TempDir(), ".credentials.json")
	require.NoError(t, os.WriteFile(credPath,
		[]byte(`{"claudeAiOauth":{"accessToken":"tok-123"}}`), 0o600))

	syncer := NewSyncer(a)
	syncer.endpoint = srv.URL
	syncer.credentialsPath = credPath

	report, err := syncer.Sync(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 20.0, report.FiveHour.Utilization)
	assert.Equal(t, "oauth-2025-04-20", gotBeta)
	assert.Equal(t, "Bearer tok-123", gotAuth)

	w, err := a.Window(ctx)
	require.NoError(t, err)
	assert.Equal(t, 9, w.Consumed[types.ModelOpus]) // 20% of 45

	// Second sync inside the spacing window is throttled.
	_, err = syncer.Sync(ctx, time.Now())
	assert.ErrorIs(t, err, ErrSyncThrottled)
}

func TestSyncWithoutCredentials(t *testing.T) {
	a, _, _ := newAccountant(t)

	syncer := NewSyncer(a)
	syncer.credentialsPath = filepath.Join(t.TempDir(), "missing.json")
	syncer.limiter = rate.NewLimiter(rate.Inf, 1)

	_, err := syncer.Sync(context.Background(), time.Now())
	assert.ErrorIs(t, err, ErrNoCredentials)
}
