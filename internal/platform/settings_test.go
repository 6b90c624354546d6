package platform

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSettingsAreSeededFromGenesis(t *testing.T) {
	harness := newTestHarness(t)

	settings, err := harness.service.Settings(context.Background())
	require.NoError(t, err)
	require.Equal(t, testOwner, settings.OwnerIdentity())
	require.Equal(t, uint64(5), settings.FeePercent)
}

func TestSeedingKeepsExistingSettings(t *testing.T) {
	harness := newTestHarness(t)
	ctx := context.Background()
	_, err := harness.service.SetPlatformFee(ctx, testOwner, 12)
	require.NoError(t, err)

	restarted, err := NewService(ServiceConfig{
		Database:     harness.db,
		Heights:      harness.heights,
		IDProvider:   harness.ids,
		GenesisOwner: "someone-else",
		GenesisFee:   1,
	})
	require.NoError(t, err)

	settings, err := restarted.Settings(ctx)
	require.NoError(t, err)
	require.Equal(t, testOwner, settings.OwnerIdentity())
	require.Equal(t, uint64(12), settings.FeePercent)
}

func TestSetPlatformFee(t *testing.T) {
	harness := newTestHarness(t)
	ctx := context.Background()

	_, err := harness.service.SetPlatformFee(ctx, testViewer, 10)
	requireLedgerError(t, err, ErrNotAuthorized)

	_, err = harness.service.SetPlatformFee(ctx, testOwner, MaxFeePercent+1)
	requireLedgerError(t, err, ErrInvalidPrice)

	_, err = harness.service.SetPlatformFee(ctx, testOwner, MaxFeePercent)
	require.NoError(t, err)

	settings, err := harness.service.Settings(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(MaxFeePercent), settings.FeePercent)
}

func TestSetPlatformFeeChecksOwnerBeforeRange(t *testing.T) {
	harness := newTestHarness(t)

	_, err := harness.service.SetPlatformFee(context.Background(), testViewer, 500)
	requireLedgerError(t, err, ErrNotAuthorized)
}

func TestSetPlatformOwnerTransfersAdminRights(t *testing.T) {
	harness := newTestHarness(t)
	ctx := context.Background()
	const nextOwner Identity = "next-owner"

	_, err := harness.service.SetPlatformOwner(ctx, testViewer, testViewer)
	requireLedgerError(t, err, ErrNotAuthorized)

	receipt, err := harness.service.SetPlatformOwner(ctx, testOwner, nextOwner)
	require.NoError(t, err)
	require.JSONEq(t, `{"previous_owner":"platform-owner","new_owner":"next-owner"}`, receipt.PayloadJSON)

	_, err = harness.service.SetPlatformFee(ctx, testOwner, 7)
	requireLedgerError(t, err, ErrNotAuthorized)
	_, err = harness.service.SetPlatformFee(ctx, nextOwner, 7)
	require.NoError(t, err)
}

func TestSetPlatformOwnerRejectsMalformedIdentity(t *testing.T) {
	harness := newTestHarness(t)

	_, err := harness.service.SetPlatformOwner(context.Background(), testOwner, "has space")
	requireLedgerError(t, err, ErrInvalidField)

	settings, err := harness.service.Settings(context.Background())
	require.NoError(t, err)
	require.Equal(t, testOwner, settings.OwnerIdentity())
}

func TestRequireIdentity(t *testing.T) {
	testCases := []struct {
		name     string
		caller   Identity
		expected Identity
		allowed  bool
	}{
		{name: "match", caller: "alice", expected: "alice", allowed: true},
		{name: "mismatch", caller: "bob", expected: "alice", allowed: false},
		{name: "empty caller", caller: "", expected: "", allowed: false},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			err := requireIdentity(testCase.caller, testCase.expected)
			if testCase.allowed {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrNotAuthorized)
		})
	}
}
