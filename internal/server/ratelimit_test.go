package server

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRateLimitRejectsBurstPerIdentity(t *testing.T) {
	harness := newLedgerHarness(t, harnessOptions{
		rateLimit: RateLimitConfig{RequestsPerSecond: 0.001, Burst: 2},
	})

	require.Equal(t, http.StatusOK, harness.post(t, testCreator, "/content", samplePublishBody(1), nil))
	require.Equal(t, http.StatusOK, harness.post(t, testCreator, "/content", samplePublishBody(2), nil))

	var response errorResponse
	require.Equal(t, http.StatusTooManyRequests, harness.post(t, testCreator, "/content", samplePublishBody(3), &response))
	require.Equal(t, "rate_limit_exceeded", response.Error)

	require.Equal(t, http.StatusOK, harness.post(t, testViewer, "/content", samplePublishBody(4), nil))
}

func TestRateLimitDisabledByDefault(t *testing.T) {
	require.False(t, RateLimitConfig{}.enabled())
	require.False(t, RateLimitConfig{RequestsPerSecond: 5}.enabled())
	require.True(t, RateLimitConfig{RequestsPerSecond: 5, Burst: 1}.enabled())

	harness := newLedgerHarness(t, harnessOptions{})
	for contentID := uint64(1); contentID <= 5; contentID++ {
		require.Equal(t, http.StatusOK, harness.post(t, testCreator, "/content", samplePublishBody(contentID), nil))
	}
}

func TestIdentityLimitersEvictIdleIdentities(t *testing.T) {
	current := time.Unix(1_700_000_000, 0)
	store := newIdentityLimiters(RateLimitConfig{RequestsPerSecond: 1, Burst: 2})
	store.now = func() time.Time { return current }
	require.Equal(t, time.Minute, store.idleTTL)

	for _, identity := range []string{"viewer-1", "viewer-2", "viewer-3"} {
		require.True(t, store.limiter(identity).Allow())
	}
	require.Equal(t, 3, store.size())

	current = current.Add(30 * time.Second)
	store.limiter("viewer-1")
	require.Equal(t, 3, store.size())

	current = current.Add(45 * time.Second)
	store.limiter("viewer-4")
	require.Equal(t, 2, store.size())

	current = current.Add(2 * time.Minute)
	store.limiter("viewer-4")
	require.Equal(t, 1, store.size())
}

func TestIdentityLimitersIdleWindowCoversRefill(t *testing.T) {
	store := newIdentityLimiters(RateLimitConfig{RequestsPerSecond: 0.5, Burst: 100})
	require.Equal(t, 200*time.Second, store.idleTTL)
}
