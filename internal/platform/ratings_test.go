package platform

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRatingAverageIsFloorOfMean(t *testing.T) {
	harness := newTestHarness(t)
	ctx := context.Background()
	harness.publish(t, testCreator, 1)

	_, err := harness.service.RateContent(ctx, "rater-a", 1, 4)
	require.NoError(t, err)
	_, err = harness.service.RateContent(ctx, "rater-b", 1, 5)
	require.NoError(t, err)

	average, err := harness.service.ContentRating(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, uint64(4), average)

	var summary ContentRatingSummary
	require.NoError(t, harness.db.Where(queryContentID, 1).Take(&summary).Error)
	require.Equal(t, uint64(9), summary.RatingSum)
	require.Equal(t, uint64(2), summary.RatingCount)
}

func TestRateContentAllowsOnlyOneRatingPerRater(t *testing.T) {
	harness := newTestHarness(t)
	ctx := context.Background()
	harness.publish(t, testCreator, 1)

	_, err := harness.service.RateContent(ctx, testViewer, 1, 3)
	require.NoError(t, err)
	_, err = harness.service.RateContent(ctx, testViewer, 1, 5)
	requireLedgerError(t, err, ErrAlreadyRated)

	average, err := harness.service.ContentRating(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, uint64(3), average)
}

func TestRateContentValidatesInOrder(t *testing.T) {
	harness := newTestHarness(t)
	ctx := context.Background()

	_, err := harness.service.RateContent(ctx, testViewer, 99, 9)
	requireLedgerError(t, err, ErrContentNotFound)

	harness.publish(t, testCreator, 1)
	for _, rating := range []uint64{0, 6, 255} {
		_, err := harness.service.RateContent(ctx, testViewer, 1, rating)
		requireLedgerError(t, err, ErrInvalidRating)
	}

	_, err = harness.service.RateContent(ctx, testViewer, 1, MaxRating)
	require.NoError(t, err)
	_, err = harness.service.RateContent(ctx, testViewer, 1, 0)
	requireLedgerError(t, err, ErrInvalidRating)
}

func TestContentRatingWithoutRatingsIsNotFound(t *testing.T) {
	harness := newTestHarness(t)
	ctx := context.Background()

	_, err := harness.service.ContentRating(ctx, 1)
	requireLedgerError(t, err, ErrContentNotFound)

	harness.publish(t, testCreator, 1)
	_, err = harness.service.ContentRating(ctx, 1)
	requireLedgerError(t, err, ErrContentNotFound)
}

func TestRatingSummaryAverage(t *testing.T) {
	testCases := []struct {
		summary  ContentRatingSummary
		expected uint64
	}{
		{summary: ContentRatingSummary{}, expected: 0},
		{summary: ContentRatingSummary{RatingSum: 5, RatingCount: 1}, expected: 5},
		{summary: ContentRatingSummary{RatingSum: 7, RatingCount: 2}, expected: 3},
		{summary: ContentRatingSummary{RatingSum: 11, RatingCount: 3}, expected: 3},
	}
	for _, testCase := range testCases {
		if got := testCase.summary.Average(); got != testCase.expected {
			t.Fatalf("expected average %d for %+v, got %d", testCase.expected, testCase.summary, got)
		}
	}
}
