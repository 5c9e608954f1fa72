package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frauddesk/sentinel/internal/model"
)

func TestMemoryDecisionStoreExistsAndSave(t *testing.T) {
	s := NewMemoryDecisionStore()
	ctx := context.Background()

	ok, err := s.Exists(ctx, "tx-1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Save(ctx, &model.Decision{
		TransactionID: "tx-1",
		Decision:      model.LabelAllow,
		Reasons:       []string{"high_amount"},
	}))

	ok, err = s.Exists(ctx, "tx-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryDecisionStoreListRecentNewestFirst(t *testing.T) {
	s := NewMemoryDecisionStore()
	ctx := context.Background()

	for _, id := range []string{"tx-1", "tx-2", "tx-3"} {
		require.NoError(t, s.Save(ctx, &model.Decision{TransactionID: id, Decision: model.LabelAllow}))
	}

	recent, err := s.ListRecent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "tx-3", recent[0].TransactionID)
	assert.Equal(t, "tx-2", recent[1].TransactionID)
}

func TestMemoryDecisionStoreSaveCopies(t *testing.T) {
	s := NewMemoryDecisionStore()
	ctx := context.Background()

	d := &model.Decision{TransactionID: "tx-1", Decision: model.LabelBlock, Reasons: []string{"a"}}
	require.NoError(t, s.Save(ctx, d))

	// Mutating the caller's value must not leak into the store.
	d.Reasons[0] = "mutated"
	d.Decision = model.LabelAllow

	recent, err := s.ListRecent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, model.LabelBlock, recent[0].Decision)
	assert.Equal(t, []string{"a"}, recent[0].Reasons)
}

func TestMemoryDecisionStoreCountByLabel(t *testing.T) {
	s := NewMemoryDecisionStore()
	ctx := context.Background()

	labels := []model.Label{model.LabelAllow, model.LabelAllow, model.LabelReview, model.LabelBlock}
	for i, l := range labels {
		require.NoError(t, s.Save(ctx, &model.Decision{
			TransactionID: string(rune('a' + i)),
			Decision:      l,
		}))
	}

	counts, err := s.CountByLabel(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[model.LabelAllow])
	assert.Equal(t, int64(1), counts[model.LabelReview])
	assert.Equal(t, int64(1), counts[model.LabelBlock])
}

func TestMemoryTransactionStoreListRecent(t *testing.T) {
	s := NewMemoryTransactionStore()
	ctx := context.Background()

	for _, id := range []string{"tx-1", "tx-2"} {
		require.NoError(t, s.Save(ctx, &model.Transaction{TransactionID: id, UserID: "u1"}))
	}

	recent, err := s.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "tx-2", recent[0].TransactionID)
}
