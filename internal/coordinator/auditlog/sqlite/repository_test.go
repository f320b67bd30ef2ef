package sqlite

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcmexdev/order-approvals/internal/coordinator/auditlog"
)

func openTemp(t *testing.T) *Repository {
	t.Helper()
	repo, err := Open(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestSaveAndList(t *testing.T) {
	ctx := context.Background()
	repo := openTemp(t)

	require.NoError(t, repo.Save(ctx, auditlog.NewEntry(ctx, "o1", auditlog.EventPending, "", 0,
		map[string]any{"product": "Latte"}, nil)))
	require.NoError(t, repo.Save(ctx, auditlog.NewEntry(ctx, "o1", auditlog.EventRejected, "refund", 42,
		map[string]any{"refund": "6.5"}, nil)))
	require.NoError(t, repo.Save(ctx, auditlog.NewEntry(ctx, "o2", auditlog.EventApproved, "", 1, nil, nil)))

	events, err := repo.ListByOrder(ctx, "o1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, auditlog.EventPending, events[0].Event)
	assert.JSONEq(t, `{"product":"Latte"}`, events[0].Detail)
	assert.Equal(t, auditlog.EventRejected, events[1].Event)
	assert.Equal(t, "refund", events[1].Step)
	assert.Equal(t, int64(42), events[1].Actor)
	assert.Equal(t, "[]", events[1].Errors)
	assert.False(t, events[1].RecordedAt.IsZero())

	latest, err := repo.Latest(ctx, "o2")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, auditlog.EventApproved, latest.Event)
	assert.Empty(t, latest.Detail)
}

func TestLatestMissing(t *testing.T) {
	repo := openTemp(t)
	latest, err := repo.Latest(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestConcurrentSave(t *testing.T) {
	ctx := context.Background()
	repo := openTemp(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, repo.Save(ctx, auditlog.NewEntry(ctx, "o1", auditlog.EventFailed, "status", 0, nil,
				[]string{"boom"})))
		}()
	}
	wg.Wait()

	events, err := repo.ListByOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Len(t, events, 20)
	assert.Equal(t, `["boom"]`, events[0].Errors)
}
