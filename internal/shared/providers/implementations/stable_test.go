package implementations

import (
	"context"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/golangci/repohealth/internal/shared/logutil"
	"github.com/golangci/repohealth/internal/shared/providers/provider"
	"github.com/golangci/repohealth/pkg/health/models"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var anyArg = gomock.Any()
var testKey = models.RepositoryKey{Owner: "o", Project: "p"}

func newTestStable(p provider.MetricsProvider, attempts int) *StableProvider {
	return NewStableProvider(p, RetryConfig{
		MaxAttempts:     attempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		AttemptTimeout:  time.Second,
	}, logutil.NewStderrLog("test"))
}

func TestStableProviderRetriesTransientErrors(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	m := provider.NewMockMetricsProvider(ctrl)
	payload := &models.MetricsPayload{OpenPRsCount: models.IntPtr(1)}
	gomock.InOrder(
		m.EXPECT().FetchMetrics(anyArg, testKey).Return(nil, errors.New("connection reset")),
		m.EXPECT().FetchMetrics(anyArg, testKey).Return(nil, provider.NewTransientError(errors.New("rate limited"))),
		m.EXPECT().FetchMetrics(anyArg, testKey).Return(payload, nil),
	)

	ret, err := newTestStable(m, 3).FetchMetrics(context.Background(), testKey)
	require.NoError(t, err)
	assert.Equal(t, payload, ret)
}

func TestStableProviderGivesUpAfterMaxAttempts(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	m := provider.NewMockMetricsProvider(ctrl)
	m.EXPECT().FetchMetrics(anyArg, testKey).Return(nil, errors.New("timeout")).Times(3)

	_, err := newTestStable(m, 3).FetchMetrics(context.Background(), testKey)
	assert.Error(t, err)
	assert.False(t, provider.IsPermanentError(err))
}

func TestStableProviderStopsOnPermanentErrors(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	m := provider.NewMockMetricsProvider(ctrl)
	m.EXPECT().FetchMetrics(anyArg, testKey).Return(nil, errors.Wrap(provider.ErrNotFound, "no repo"))

	_, err := newTestStable(m, 3).FetchMetrics(context.Background(), testKey)
	assert.Equal(t, provider.ErrNotFound, errors.Cause(err))
}

func TestStableProviderRejectsInvalidPayloads(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	m := provider.NewMockMetricsProvider(ctrl)
	m.EXPECT().FetchMetrics(anyArg, testKey).Return(&models.MetricsPayload{DaysSinceLastCommit: models.IntPtr(-1)}, nil)

	_, err := newTestStable(m, 3).FetchMetrics(context.Background(), testKey)
	assert.True(t, provider.IsPermanentError(err))
}

func TestStableProviderAppliesAttemptTimeout(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	m := provider.NewMockMetricsProvider(ctrl)
	m.EXPECT().FetchMetrics(anyArg, testKey).Do(func(ctx context.Context, key models.RepositoryKey) {
		deadline, ok := ctx.Deadline()
		assert.True(t, ok)
		assert.True(t, time.Until(deadline) <= time.Second)
	}).Return(&models.MetricsPayload{}, nil)

	_, err := newTestStable(m, 1).FetchMetrics(context.Background(), testKey)
	assert.NoError(t, err)
}

func TestStableProviderStopsOnCanceledContext(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	ctx, cancel := context.WithCancel(context.Background())
	m := provider.NewMockMetricsProvider(ctrl)
	m.EXPECT().FetchMetrics(anyArg, testKey).Do(func(ctx context.Context, key models.RepositoryKey) {
		cancel()
	}).Return(nil, errors.New("canceled"))

	_, err := newTestStable(m, 3).FetchMetrics(ctx, testKey)
	assert.Equal(t, context.Canceled, err)
}
