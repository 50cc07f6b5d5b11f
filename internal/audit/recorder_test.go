package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/leafline-pos/ocs-relay/internal/model"
	"github.com/leafline-pos/ocs-relay/internal/repository"
)

type fakeAuditRepo struct {
	mu      sync.Mutex
	entries []model.AuditEntry
	err     error

	started chan struct{} // closed when the first Insert begins, if set
	release chan struct{} // Insert blocks on this, if set
}

var _ repository.AuditRepository = (*fakeAuditRepo)(nil)

func (f *fakeAuditRepo) Insert(ctx context.Context, e *model.AuditEntry) error {
	if f.started != nil {
		select {
		case <-f.started:
		default:
			close(f.started)
		}
	}
	if f.release != nil {
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, *e)
	return nil
}

func (f *fakeAuditRepo) ListByCorrelation(ctx context.Context, correlationID uuid.UUID, limit int) ([]model.AuditEntry, error) {
	return nil, nil
}

func (f *fakeAuditRepo) ListByStore(ctx context.Context, storeID uuid.UUID, limit int) ([]model.AuditEntry, error) {
	return nil, nil
}

func (f *fakeAuditRepo) recorded() []model.AuditEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.AuditEntry, len(f.entries))
	copy(out, f.entries)
	return out
}

func entry(initiator string) model.AuditEntry {
	return model.AuditEntry{
		CorrelationID: uuid.Must(uuid.NewV4()),
		StoreID:       uuid.Must(uuid.NewV4()),
		Endpoint:      "/v1/inventory-events",
		Method:        "POST",
		Outcome:       model.AuditSuccess,
		Initiator:     initiator,
	}
}

func TestRecorder_FlushesOnClose(t *testing.T) {
	repo := &fakeAuditRepo{}
	r := NewRecorder(repo, zaptest.NewLogger(t), 16)

	for i := 0; i < 3; i++ {
		r.Record(entry("scheduler"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.Close(ctx))

	got := repo.recorded()
	require.Len(t, got, 3)
	for _, e := range got {
		require.False(t, e.ID.IsNil())
		require.False(t, e.CreatedAt.IsZero())
	}
}

func TestRecorder_FullBufferDrops(t *testing.T) {
	repo := &fakeAuditRepo{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	r := NewRecorder(repo, zaptest.NewLogger(t), 1)

	// first entry occupies the drain goroutine
	r.Record(entry("scheduler"))
	<-repo.started

	// second fills the buffer, third has nowhere to go
	r.Record(entry("scheduler"))
	r.Record(entry("scheduler"))

	close(repo.release)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.Close(ctx))

	require.Len(t, repo.recorded(), 2)
}

func TestRecorder_RepoFailureDoesNotStopDrain(t *testing.T) {
	repo := &fakeAuditRepo{err: errors.New("db down")}
	r := NewRecorder(repo, zaptest.NewLogger(t), 16)

	r.Record(entry("scheduler"))
	r.Record(entry("ops:jmoretti"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.Close(ctx))
	require.Empty(t, repo.recorded())
}

func TestRecorder_RecordAfterCloseIsSafe(t *testing.T) {
	repo := &fakeAuditRepo{}
	r := NewRecorder(repo, zaptest.NewLogger(t), 4)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.Close(ctx))

	r.Record(entry("scheduler")) // dropped, no panic
	require.Empty(t, repo.recorded())
}
