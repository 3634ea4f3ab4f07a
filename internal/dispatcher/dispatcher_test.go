package dispatcher

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/registry-graph-crawler/internal/clock/system"
	"github.com/JakeFAU/registry-graph-crawler/internal/crawler"
)

type recordingProcessor struct {
	mu      sync.Mutex
	seen    map[crawler.Identifier]int
	delay   time.Duration
	active  atomic.Int32
	peak    atomic.Int32
	outcome func(crawler.Identifier) crawler.Outcome
}

func newRecordingProcessor() *recordingProcessor {
	return &recordingProcessor{seen: map[crawler.Identifier]int{}}
}

func (p *recordingProcessor) Process(ctx context.Context, id crawler.Identifier) crawler.Outcome {
	n := p.active.Add(1)
	defer p.active.Add(-1)
	for {
		peak := p.peak.Load()
		if n <= peak || p.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	p.mu.Lock()
	p.seen[id]++
	p.mu.Unlock()

	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
		}
	}
	if p.outcome != nil {
		return p.outcome(id)
	}
	return crawler.OutcomeStored
}

func (p *recordingProcessor) calls() map[crawler.Identifier]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[crawler.Identifier]int, len(p.seen))
	for k, v := range p.seen {
		out[k] = v
	}
	return out
}

func validConfig() RunConfig {
	return RunConfig{
		Range:             crawler.Range{Start: 14210000, Stop: 14210040},
		RequestsPerSecond: 1000,
		Workers:           4,
		RunID:             "run-test",
	}
}

func TestRunProcessesEachIdentifierExactlyOnce(t *testing.T) {
	t.Parallel()

	proc := newRecordingProcessor()
	proc.outcome = func(id crawler.Identifier) crawler.Outcome {
		if id%2 == 0 {
			return crawler.OutcomeStored
		}
		return crawler.OutcomeMissing
	}
	cfg := validConfig()

	summary, err := New(proc, system.New(), zap.NewNop()).Run(context.Background(), cfg)
	require.NoError(t, err)

	calls := proc.calls()
	require.Len(t, calls, cfg.Range.Len())
	for id := cfg.Range.Start; id < cfg.Range.Stop; id++ {
		require.Equal(t, 1, calls[id], "identifier %s", id)
	}
	require.Equal(t, cfg.Range.Len(), summary.Dispatched)
	require.Equal(t, cfg.Range.Len(), summary.Processed())
	require.Zero(t, summary.Undispatched())
	require.Equal(t, 20, summary.Outcomes[crawler.OutcomeStored])
	require.Equal(t, 20, summary.Outcomes[crawler.OutcomeMissing])
	require.Equal(t, "run-test", summary.RunID)
	require.False(t, summary.FinishedAt.Before(summary.StartedAt))
}

func TestRunRejectsInvalidConfigBeforeProcessing(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name   string
		mutate func(*RunConfig)
	}{
		{"start below minimum", func(c *RunConfig) { c.Range.Start = crawler.MinIdentifier - 1 }},
		{"stop above maximum", func(c *RunConfig) { c.Range.Stop = crawler.MaxIdentifier + 1 }},
		{"empty range", func(c *RunConfig) { c.Range.Stop = c.Range.Start }},
		{"zero rate", func(c *RunConfig) { c.RequestsPerSecond = 0 }},
		{"negative rate", func(c *RunConfig) { c.RequestsPerSecond = -1 }},
		{"NaN rate", func(c *RunConfig) { c.RequestsPerSecond = math.NaN() }},
		{"infinite rate", func(c *RunConfig) { c.RequestsPerSecond = math.Inf(1) }},
		{"no workers", func(c *RunConfig) { c.Workers = 0 }},
		{"too many workers", func(c *RunConfig) { c.Workers = crawler.MaxWorkers + 1 }},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cfg := validConfig()
			tc.mutate(&cfg)
			proc := newRecordingProcessor()

			_, err := New(proc, system.New(), nil).Run(context.Background(), cfg)
			require.ErrorIs(t, err, crawler.ErrInvalidConfig)
			require.Empty(t, proc.calls())
		})
	}
}

func TestRunRespectsRateBound(t *testing.T) {
	t.Parallel()

	const rps = 20.0
	cfg := validConfig()
	cfg.Range.Stop = cfg.Range.Start + 6
	cfg.RequestsPerSecond = rps

	proc := newRecordingProcessor()
	start := time.Now()
	_, err := New(proc, system.New(), nil).Run(context.Background(), cfg)
	require.NoError(t, err)
	elapsed := time.Since(start)

	// Six cycle starts need at least five token intervals.
	minElapsed := time.Duration(5/rps*float64(time.Second)) - 20*time.Millisecond
	require.GreaterOrEqual(t, elapsed, minElapsed)
}

func TestRunBoundsConcurrency(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Workers = 3
	cfg.Range.Stop = cfg.Range.Start + 12

	proc := newRecordingProcessor()
	proc.delay = 20 * time.Millisecond

	_, err := New(proc, system.New(), nil).Run(context.Background(), cfg)
	require.NoError(t, err)
	require.LessOrEqual(t, proc.peak.Load(), int32(3))
	require.GreaterOrEqual(t, proc.peak.Load(), int32(1))
}

func TestRunStopsDispatchOnCancel(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Workers = 2
	cfg.Range.Stop = cfg.Range.Start + 1000

	proc := newRecordingProcessor()
	proc.delay = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	done := make(chan error, 1)
	var summary crawler.RunSummary
	go func() {
		var err error
		summary, err = New(proc, system.New(), nil).Run(ctx, cfg)
		done <- err
	}()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
	require.Less(t, len(proc.calls()), 1000)
	require.Equal(t, len(proc.calls()), summary.Dispatched)
}

type countingPacer struct {
	waits atomic.Int32
}

func (p *countingPacer) Wait(context.Context) error {
	p.waits.Add(1)
	return nil
}

func TestRunWaitsOnPacerBeforeEachCycle(t *testing.T) {
	t.Parallel()

	pacer := &countingPacer{}
	var gotRPS float64
	d := New(newRecordingProcessor(), system.New(), nil).WithPacerFactory(func(rps float64) crawler.Pacer {
		gotRPS = rps
		return pacer
	})

	cfg := validConfig()
	_, err := d.Run(context.Background(), cfg)
	require.NoError(t, err)
	require.Equal(t, cfg.RequestsPerSecond, gotRPS)
	require.Equal(t, int32(cfg.Range.Len()), pacer.waits.Load())
}

func TestSnapshotReportsProgress(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	proc := &blockingProcessor{release: release}
	d := New(proc, system.New(), nil)

	_, running := d.Snapshot()
	require.False(t, running)

	cfg := validConfig()
	cfg.Workers = 1
	cfg.Range.Stop = cfg.Range.Start + 2
	done := make(chan struct{})
	go func() {
		_, _ = d.Run(context.Background(), cfg)
		close(done)
	}()

	require.Eventually(t, func() bool {
		snap, running := d.Snapshot()
		return running && snap.Dispatched == 1
	}, time.Second, 5*time.Millisecond)

	close(release)
	<-done

	snap, running := d.Snapshot()
	require.False(t, running)
	require.Equal(t, 2, snap.Dispatched)
	require.Equal(t, 2, snap.Outcomes[crawler.OutcomeStored])
	require.Equal(t, "run-test", snap.RunID)
}

type blockingProcessor struct {
	release chan struct{}
}

func (p *blockingProcessor) Process(ctx context.Context, _ crawler.Identifier) crawler.Outcome {
	select {
	case <-p.release:
	case <-ctx.Done():
	}
	return crawler.OutcomeStored
}

var errPastDeadline = errors.New("rate: Wait(n=1) would exceed context deadline")

// exhaustingPacer admits a fixed number of cycles, then fails every wait.
type exhaustingPacer struct {
	admit int32
	waits atomic.Int32
}

func (p *exhaustingPacer) Wait(context.Context) error {
	if p.waits.Add(1) > p.admit {
		return errPastDeadline
	}
	return nil
}

func TestRunStopsDispatchOnPacerError(t *testing.T) {
	t.Parallel()

	proc := newRecordingProcessor()
	pacer := &exhaustingPacer{admit: 3}
	d := New(proc, system.New(), nil).WithPacerFactory(func(float64) crawler.Pacer { return pacer })

	cfg := validConfig()
	summary, err := d.Run(context.Background(), cfg)
	require.ErrorIs(t, err, errPastDeadline)

	require.Len(t, proc.calls(), 3)
	require.Equal(t, 3, summary.Dispatched)
	require.Equal(t, 3, summary.Processed())
	require.Equal(t, cfg.Range.Len()-3, summary.Undispatched())
	// Each worker stops after its first failed wait.
	require.LessOrEqual(t, pacer.waits.Load(), int32(3+cfg.Workers))
}
