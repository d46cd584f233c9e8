package job_test

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/dataflowslab/core.rompharm-sub001/internal/artifact"
	"github.com/dataflowslab/core.rompharm-sub001/internal/database"
	"github.com/dataflowslab/core.rompharm-sub001/internal/domain"
	"github.com/dataflowslab/core.rompharm-sub001/internal/job"
	"github.com/dataflowslab/core.rompharm-sub001/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOrchestrator(t *testing.T) *job.Orchestrator {
	t.Helper()
	db, err := database.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })

	store, err := artifact.NewFSStore(t.TempDir())
	require.NoError(t, err)
	return job.NewOrchestrator(repository.NewJobRepository(db), store)
}

func TestEnqueue_AssignsVersions(t *testing.T) {
	o := newOrchestrator(t)
	ctx := context.Background()

	j1, err := o.Enqueue(ctx, "po-1", "po-pdf", "Purchase Order", "alice")
	require.NoError(t, err)
	j2, err := o.Enqueue(ctx, "po-1", "po-pdf", "Purchase Order", "alice")
	require.NoError(t, err)

	assert.Equal(t, domain.JobStatusQueued, j1.Status)
	assert.Equal(t, 1, j1.Version)
	assert.Equal(t, 2, j2.Version)
	assert.Equal(t, "alice", j2.CreatedBy)

	current, err := o.Current(ctx, "po-1", "po-pdf")
	require.NoError(t, err)
	assert.Equal(t, j2.ID, current.ID)

	// 旧版本保留
	old, err := o.Status(ctx, j1.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusQueued, old.Status)

	_, err = o.Enqueue(ctx, "", "po-pdf", "", "alice")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestEnqueue_ConcurrentVersionsUnique(t *testing.T) {
	o := newOrchestrator(t)
	ctx := context.Background()

	const n = 12
	var wg sync.WaitGroup
	versions := make(chan int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			j, err := o.Enqueue(ctx, "po-1", "po-pdf", "", "alice")
			if assert.NoError(t, err) {
				versions <- j.Version
			}
		}()
	}
	wg.Wait()
	close(versions)

	seen := map[int]bool{}
	for v := range versions {
		assert.False(t, seen[v])
		seen[v] = true
	}
	for v := 1; v <= n; v++ {
		assert.True(t, seen[v], "version %d missing", v)
	}
}

func TestDelete_DoesNotReuseVersion(t *testing.T) {
	o := newOrchestrator(t)
	ctx := context.Background()

	_, err := o.Enqueue(ctx, "po-1", "po-pdf", "", "alice")
	require.NoError(t, err)
	j2, err := o.Enqueue(ctx, "po-1", "po-pdf", "", "alice")
	require.NoError(t, err)

	require.NoError(t, o.Delete(ctx, j2.ID))
	assert.ErrorIs(t, o.Delete(ctx, j2.ID), domain.ErrNotFound)

	j3, err := o.Enqueue(ctx, "po-1", "po-pdf", "", "alice")
	require.NoError(t, err)
	assert.Equal(t, 3, j3.Version)
}

func TestWorkerLifecycle_Download(t *testing.T) {
	o := newOrchestrator(t)
	ctx := context.Background()

	j, err := o.Enqueue(ctx, "po-1", "po-pdf", "Purchase Order", "alice")
	require.NoError(t, err)

	_, _, err = o.Download(ctx, j.ID)
	assert.ErrorIs(t, err, domain.ErrNotReady)

	claimed, err := o.Claim(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusProcessing, claimed.Status)

	_, _, err = o.Download(ctx, j.ID)
	assert.ErrorIs(t, err, domain.ErrNotReady)

	done, err := o.Complete(ctx, j.ID, "../po-1.pdf", strings.NewReader("%PDF"))
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusDone, done.Status)
	assert.Equal(t, "po-1.pdf", done.Filename)

	got, rc, err := o.Download(ctx, j.ID)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "%PDF", string(data))
	assert.Equal(t, "po-1.pdf", got.Filename)
}

func TestTerminalStatesAreFinal(t *testing.T) {
	o := newOrchestrator(t)
	ctx := context.Background()

	j, err := o.Enqueue(ctx, "po-1", "po-pdf", "", "alice")
	require.NoError(t, err)

	// queued 不能直接完成
	_, err = o.Complete(ctx, j.ID, "a.pdf", strings.NewReader("x"))
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	failed, err := o.Fail(ctx, j.ID, "template missing")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, failed.Status)
	assert.Equal(t, "template missing", failed.Error)

	_, err = o.Claim(ctx, j.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = o.Fail(ctx, j.ID, "again")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, _, err = o.Download(ctx, j.ID)
	assert.ErrorIs(t, err, domain.ErrGenerationFailed)

	_, err = o.Claim(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, _, err = o.Download(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestClaim_ConcurrentOnlyOneWins(t *testing.T) {
	o := newOrchestrator(t)
	ctx := context.Background()
	j, err := o.Enqueue(ctx, "po-1", "po-pdf", "", "alice")
	require.NoError(t, err)

	const n = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := o.Claim(ctx, j.ID); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

// 同名产物并发回写: 失败方的清理不能删掉胜出方的产物
func TestComplete_ConcurrentSameFilename(t *testing.T) {
	o := newOrchestrator(t)
	ctx := context.Background()

	j, err := o.Enqueue(ctx, "po-1", "po-pdf", "", "alice")
	require.NoError(t, err)
	_, err = o.Claim(ctx, j.ID)
	require.NoError(t, err)

	const n = 4
	var wg sync.WaitGroup
	results := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = o.Complete(ctx, j.ID, "po.pdf", strings.NewReader("%PDF-1.7"))
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	}
	assert.Equal(t, 1, succeeded)

	done, content, err := o.Download(ctx, j.ID)
	require.NoError(t, err)
	defer content.Close()
	assert.Equal(t, domain.JobStatusDone, done.Status)
	body, err := io.ReadAll(content)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7", string(body))
}

func TestList_CurrentOnlyByDefault(t *testing.T) {
	o := newOrchestrator(t)
	ctx := context.Background()

	_, err := o.Enqueue(ctx, "po-1", "po-pdf", "", "alice")
	require.NoError(t, err)
	latest, err := o.Enqueue(ctx, "po-1", "po-pdf", "", "alice")
	require.NoError(t, err)
	other, err := o.Enqueue(ctx, "po-1", "labels", "", "alice")
	require.NoError(t, err)
	_, err = o.Enqueue(ctx, "po-2", "po-pdf", "", "alice")
	require.NoError(t, err)

	jobs, err := o.List(ctx, "po-1", false)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	ids := []string{jobs[0].ID, jobs[1].ID}
	assert.ElementsMatch(t, []string{latest.ID, other.ID}, ids)

	all, err := o.List(ctx, "po-1", true)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestDelete_RemovesArtifact(t *testing.T) {
	o := newOrchestrator(t)
	ctx := context.Background()

	j, err := o.Enqueue(ctx, "po-1", "po-pdf", "", "alice")
	require.NoError(t, err)
	_, err = o.Claim(ctx, j.ID)
	require.NoError(t, err)
	_, err = o.Complete(ctx, j.ID, "po.pdf", strings.NewReader("x"))
	require.NoError(t, err)

	require.NoError(t, o.Delete(ctx, j.ID))
	_, _, err = o.Download(ctx, j.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
