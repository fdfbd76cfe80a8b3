package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-price-scraper/internal/clock/fake"
	"github.com/JakeFAU/realtime-price-scraper/internal/scraper"
)

type fakeProcessor struct {
	running  atomic.Int32
	peak     atomic.Int32
	calls    atomic.Int32
	hold     chan struct{}
	panicFor string
}

func (f *fakeProcessor) Process(_ context.Context, jobID string, task scraper.URLTask) scraper.ScrapeRecord {
	f.calls.Add(1)
	n := f.running.Add(1)
	defer f.running.Add(-1)
	for {
		peak := f.peak.Load()
		if n <= peak || f.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	if f.hold != nil {
		<-f.hold
	}
	if task.URLID == f.panicFor {
		panic("processor exploded")
	}
	status := scraper.StatusCompleted
	if len(task.URLID)%2 == 0 {
		status = scraper.StatusError
	}
	return scraper.ScrapeRecord{URLID: task.URLID, ScrapeJobID: jobID, Status: status}
}

type collectingSink struct {
	mu      sync.Mutex
	records []scraper.ScrapeRecord
}

func (c *collectingSink) Add(rec scraper.ScrapeRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, rec)
}

func (c *collectingSink) byID() map[string]scraper.ScrapeRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]scraper.ScrapeRecord, len(c.records))
	for _, r := range c.records {
		out[r.URLID] = r
	}
	return out
}

func (c *collectingSink) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}

func makeTasks(n int) []scraper.URLTask {
	tasks := make([]scraper.URLTask, n)
	for i := range tasks {
		tasks[i] = scraper.URLTask{URLID: fmt.Sprintf("u-%d", i), URL: fmt.Sprintf("https://shop.example.com/p/%d", i)}
	}
	return tasks
}

func newPool(t *testing.T, size int, proc Processor) *Pool {
	t.Helper()
	p, err := New(size, proc, fake.New(time.Unix(0, 0)), zap.NewNop())
	require.NoError(t, err)
	return p
}

func TestSubmitProducesOneRecordPerTask(t *testing.T) {
	t.Parallel()

	for _, n := range []int{0, 1, 7, 120} {
		n := n
		t.Run(fmt.Sprintf("%d tasks", n), func(t *testing.T) {
			t.Parallel()
			proc := &fakeProcessor{}
			pool := newPool(t, 8, proc)
			sink := &collectingSink{}

			h := pool.Submit(context.Background(), "job-1", makeTasks(n), sink)
			require.Equal(t, n, h.Total())
			require.NoError(t, h.Wait(context.Background()))

			require.Equal(t, n, sink.len())
			require.Len(t, sink.byID(), n)
			require.Equal(t, int32(n), proc.calls.Load())
		})
	}
}

func TestSubmitReturnsImmediatelyAndCapsConcurrency(t *testing.T) {
	t.Parallel()

	proc := &fakeProcessor{hold: make(chan struct{})}
	pool := newPool(t, 3, proc)
	sink := &collectingSink{}

	h1 := pool.Submit(context.Background(), "job-a", makeTasks(5), sink)
	h2 := pool.Submit(context.Background(), "job-b", makeTasks(5), sink)

	require.Eventually(t, func() bool { return proc.running.Load() == 3 }, time.Second, 5*time.Millisecond)
	require.Never(t, func() bool { return proc.running.Load() > 3 }, 50*time.Millisecond, 5*time.Millisecond)

	close(proc.hold)
	require.NoError(t, h1.Wait(context.Background()))
	require.NoError(t, h2.Wait(context.Background()))
	pool.Wait()

	require.Equal(t, 10, sink.len())
	require.LessOrEqual(t, proc.peak.Load(), int32(3))
}

func TestPanicBecomesErrorRecord(t *testing.T) {
	t.Parallel()

	proc := &fakeProcessor{panicFor: "u-1"}
	pool := newPool(t, 2, proc)
	sink := &collectingSink{}

	h := pool.Submit(context.Background(), "job-1", makeTasks(3), sink)
	require.NoError(t, h.Wait(context.Background()))

	records := sink.byID()
	require.Len(t, records, 3)
	require.Equal(t, scraper.StatusError, records["u-1"].Status)
	require.Equal(t, "internal error: processor exploded", records["u-1"].ErrorMessage)
	require.Equal(t, "job-1", records["u-1"].ScrapeJobID)
}

func TestCanceledTasksAreStillRecorded(t *testing.T) {
	t.Parallel()

	proc := &fakeProcessor{hold: make(chan struct{})}
	pool := newPool(t, 2, proc)
	sink := &collectingSink{}

	ctx, cancel := context.WithCancel(context.Background())
	h := pool.Submit(ctx, "job-1", makeTasks(10), sink)
	require.Eventually(t, func() bool { return proc.running.Load() == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	require.Eventually(t, func() bool { return sink.len() == 8 }, time.Second, 5*time.Millisecond)
	close(proc.hold)
	require.NoError(t, h.Wait(context.Background()))

	records := sink.byID()
	require.Len(t, records, 10)
	canceled := 0
	for _, rec := range records {
		if rec.ErrorMessage == CanceledMessage {
			canceled++
			require.Equal(t, scraper.StatusError, rec.Status)
		}
	}
	require.Equal(t, 8, canceled)
	require.Equal(t, int32(2), proc.calls.Load())
}

func TestHandleWaitHonorsContext(t *testing.T) {
	t.Parallel()

	proc := &fakeProcessor{hold: make(chan struct{})}
	defer close(proc.hold)
	pool := newPool(t, 1, proc)
	h := pool.Submit(context.Background(), "job-1", makeTasks(1), &collectingSink{})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, h.Wait(ctx), context.DeadlineExceeded)
}

func TestNewDefaults(t *testing.T) {
	t.Parallel()

	p, err := New(0, &fakeProcessor{}, fake.New(time.Unix(0, 0)), nil)
	require.NoError(t, err)
	require.Equal(t, DefaultSize, p.Size())

	_, err = New(1, nil, fake.New(time.Unix(0, 0)), nil)
	require.Error(t, err)
	_, err = New(1, &fakeProcessor{}, nil, nil)
	require.Error(t, err)
}
