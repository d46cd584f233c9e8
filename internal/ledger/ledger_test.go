package ledger_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dataflowslab/core.rompharm-sub001/internal/database"
	"github.com/dataflowslab/core.rompharm-sub001/internal/domain"
	"github.com/dataflowslab/core.rompharm-sub001/internal/event"
	"github.com/dataflowslab/core.rompharm-sub001/internal/ledger"
	"github.com/dataflowslab/core.rompharm-sub001/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var flow = &domain.ApprovalFlow{ID: "flow-1", DocumentID: "po-1", DocumentType: domain.DocumentTypePurchaseOrder, Kind: domain.FlowKindApproval}

func allow(context.Context, domain.Identity, *domain.ApprovalFlow) (bool, error) { return true, nil }

func deny(context.Context, domain.Identity, *domain.ApprovalFlow) (bool, error) { return false, nil }

type capture struct {
	mu     sync.Mutex
	topics []event.Topic
}

func (c *capture) Publish(_ context.Context, evt event.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topics = append(c.topics, evt.Topic)
	return nil
}

func newLedger(t *testing.T, opts ...ledger.Option) *ledger.Ledger {
	t.Helper()
	db, err := database.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })
	return ledger.New(db, repository.NewSignatureRepository(db), "test-secret", opts...)
}

func TestAppend_RecordsServerTimestamp(t *testing.T) {
	fixed := time.Date(2025, 3, 1, 9, 30, 0, 123456789, time.FixedZone("EET", 2*3600))
	l := newLedger(t, ledger.WithClock(func() time.Time { return fixed }))

	sig, err := l.Append(context.Background(), flow, domain.Identity{ID: "alice", DisplayName: "Alice"}, allow)
	require.NoError(t, err)

	assert.Equal(t, "alice", sig.SignerID)
	assert.Equal(t, "Alice", sig.SignerDisplayName)
	assert.Equal(t, fixed.UTC().Truncate(time.Microsecond), sig.SignedAt)
	assert.Equal(t, time.UTC, sig.SignedAt.Location())
	assert.Len(t, sig.SignatureHash, 64)
}

func TestAppend_AlreadySigned(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()
	alice := domain.Identity{ID: "alice"}

	_, err := l.Append(ctx, flow, alice, allow)
	require.NoError(t, err)

	_, err = l.Append(ctx, flow, alice, allow)
	assert.ErrorIs(t, err, domain.ErrAlreadySigned)

	sigs, err := l.List(ctx, flow.ID)
	require.NoError(t, err)
	assert.Len(t, sigs, 1)
}

func TestAppend_NotAuthorized(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()

	_, err := l.Append(ctx, flow, domain.Identity{ID: "mallory"}, deny)
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)

	_, err = l.Append(ctx, flow, domain.Identity{}, allow)
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)

	sigs, err := l.List(ctx, flow.ID)
	require.NoError(t, err)
	assert.Empty(t, sigs)
}

func TestAppend_ConcurrentSameIdentity(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()
	alice := domain.Identity{ID: "alice"}

	const n = 10
	var wg sync.WaitGroup
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Append(ctx, flow, alice, allow)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded, duplicates := 0, 0
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case domain.CodeOf(err) == domain.CodeAlreadySigned:
			duplicates++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, n-1, duplicates)

	sigs, err := l.List(ctx, flow.ID)
	require.NoError(t, err)
	assert.Len(t, sigs, 1)
}

func TestList_OrderedBySignedAt(t *testing.T) {
	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	l := newLedger(t, ledger.WithClock(func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}))
	ctx := context.Background()

	for _, id := range []string{"carol", "alice", "bob"} {
		_, err := l.Append(ctx, flow, domain.Identity{ID: id}, allow)
		require.NoError(t, err)
	}

	sigs, err := l.List(ctx, flow.ID)
	require.NoError(t, err)
	require.Len(t, sigs, 3)
	assert.Equal(t, "carol", sigs[0].SignerID)
	assert.Equal(t, "alice", sigs[1].SignerID)
	assert.Equal(t, "bob", sigs[2].SignerID)
}

func TestRevoke(t *testing.T) {
	pub := &capture{}
	l := newLedger(t, ledger.WithPublisher(pub))
	ctx := context.Background()

	_, err := l.Append(ctx, flow, domain.Identity{ID: "alice"}, allow)
	require.NoError(t, err)

	removed, err := l.Revoke(ctx, flow, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", removed.SignerID)

	_, err = l.Revoke(ctx, flow, "alice")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// 撤销后可以重新签名
	_, err = l.Append(ctx, flow, domain.Identity{ID: "alice"}, allow)
	require.NoError(t, err)

	assert.Equal(t, []event.Topic{
		event.TopicSignatureAppended,
		event.TopicSignatureRevoked,
		event.TopicSignatureAppended,
	}, pub.topics)
}

func TestVerify_DetectsTampering(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()

	sig, err := l.Append(ctx, flow, domain.Identity{ID: "alice"}, allow)
	require.NoError(t, err)

	listed, err := l.List(ctx, flow.ID)
	require.NoError(t, err)
	require.Len(t, listed, 1)

	ok, err := l.Verify(ctx, listed[0])
	require.NoError(t, err)
	assert.True(t, ok)

	tampered := sig
	tampered.SignedAt = sig.SignedAt.Add(-time.Hour)
	ok, err = l.Verify(ctx, tampered)
	require.NoError(t, err)
	assert.False(t, ok)

	forged := sig
	forged.SignatureHash = "00" + sig.SignatureHash[2:]
	ok, err = l.Verify(ctx, forged)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerify_DifferentSecret(t *testing.T) {
	db, err := database.OpenInMemory()
	require.NoError(t, err)
	repo := repository.NewSignatureRepository(db)
	ctx := context.Background()

	sig, err := ledger.New(db, repo, "secret-a").Append(ctx, flow, domain.Identity{ID: "alice"}, allow)
	require.NoError(t, err)

	ok, err := ledger.New(db, repo, "secret-b").Verify(ctx, sig)
	require.NoError(t, err)
	assert.False(t, ok)
}
