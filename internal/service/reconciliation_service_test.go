package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/freelance-escrow/internal/models"
	"github.com/ignatzorin/freelance-escrow/internal/pkg/apperror"
)

func TestReconciliationService_EnqueueMergesOpenItems(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, err := env.recon.Enqueue(ctx, EnqueueInput{
		Kind: "manual", RefID: "ref-1", Reason: "шлюз молчит",
		Payload: map[string]string{"k": "v"}, Cause: errors.New("timeout"),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, first.Attempts)
	assert.JSONEq(t, `{"k":"v"}`, string(first.Payload))

	second, err := env.recon.Enqueue(ctx, EnqueueInput{Kind: "manual", RefID: "ref-1", Reason: "снова"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 2, second.Attempts)

	open, err := env.recon.ListOpen(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, open, 1)
}

func TestReconciliationService_RetryWithoutHandler(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	item, err := env.recon.Enqueue(ctx, EnqueueInput{Kind: "unknown", RefID: "x"})
	require.NoError(t, err)

	_, err = env.recon.Retry(ctx, item.ID)
	assert.True(t, apperror.IsValidation(err))

	resolved, err := env.recon.RetryOpen(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, resolved)
}

func TestReconciliationService_ManualResolve(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	item, err := env.recon.Enqueue(ctx, EnqueueInput{Kind: "manual", RefID: "x"})
	require.NoError(t, err)

	assert.True(t, apperror.IsForbidden(env.recon.MarkResolved(ctx, env.buyer, item.ID)))
	require.NoError(t, env.recon.MarkResolved(ctx, env.admin, item.ID))

	again, err := env.recon.Retry(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReconStatusResolved, again.Status)

	open, err := env.recon.ListOpen(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, open)
}
