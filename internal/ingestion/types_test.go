package ingestion

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/nrt-search/internal/document"
	"github.com/Adithya-Monish-Kumar-K/nrt-search/internal/indexer/engine"
)

type recorder struct{ calls []string }

func (r *recorder) IndexDocument(_ context.Context, doc document.Document) (engine.Opstamp, error) {
	r.calls = append(r.calls, "index:"+doc.ID)
	return 1, nil
}

func (r *recorder) UpdateDocument(_ context.Context, doc document.Document) (engine.Opstamp, error) {
	r.calls = append(r.calls, "update:"+doc.ID)
	return 2, nil
}

func (r *recorder) DeleteDocument(_ context.Context, id string) (engine.Opstamp, error) {
	r.calls = append(r.calls, "delete:"+id)
	return 3, nil
}

func TestApplyDispatchesByOp(t *testing.T) {
	r := &recorder{}
	ctx := context.Background()
	doc := &document.Document{ID: "d"}

	status, err := Apply(ctx, r, MutationEvent{Op: OpIndex, Document: doc})
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, status)

	status, err = Apply(ctx, r, MutationEvent{Op: OpUpdate, Document: doc})
	require.NoError(t, err)
	assert.Equal(t, StatusUpdated, status)

	status, err = Apply(ctx, r, MutationEvent{Op: OpDelete, ID: "d"})
	require.NoError(t, err)
	assert.Equal(t, StatusDeleted, status)

	_, err = Apply(ctx, r, MutationEvent{Op: "upsert"})
	assert.Error(t, err)

	assert.Equal(t, []string{"index:d", "update:d", "delete:d"}, r.calls)
}

func TestMutationEventKey(t *testing.T) {
	assert.Equal(t, "a", MutationEvent{Document: &document.Document{ID: "a"}}.Key())
	assert.Equal(t, "b", MutationEvent{ID: "b"}.Key())
}
