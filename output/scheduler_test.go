package output

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/atrep123/dmx-core/dmx"
	"github.com/atrep123/dmx-core/metrics"
)

type fakeSender struct {
	mu     sync.Mutex
	frames [][]byte
	unis   []int
	err    error
}

func (f *fakeSender) SendFrame(_ context.Context, universe int, frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	cp := make([]byte, len(frame))
	copy(cp, frame)
	f.frames = append(f.frames, cp)
	f.unis = append(f.unis, universe)
	return nil
}

func (f *fakeSender) Close() error { return nil }

func (f *fakeSender) sent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

func newTestScheduler(t *testing.T, sender Sender, fps int, mapping map[int]int) (*Scheduler, *metrics.Metrics) {
	t.Helper()
	m := metrics.New()
	return NewScheduler(sender, fps, mapping, m, zap.NewNop().Sugar()), m
}

func TestSchedulerSendsChangedFrame(t *testing.T) {
	sender := &fakeSender{}
	s, m := newTestScheduler(t, sender, 44, nil)

	changed := s.ApplyPatch(0, dmx.Delta{{Ch: 1, Val: 10}})
	assert.True(t, changed)
	s.MaybeSend(context.Background(), 0)

	require.Equal(t, 1, sender.sent())
	assert.Equal(t, byte(10), sender.frames[0][0])
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OLAFramesTotal.WithLabelValues("0")))
}

func TestSchedulerSuppressesIdenticalFrame(t *testing.T) {
	sender := &fakeSender{}
	// fps high enough that the rate guard never engages here
	s, m := newTestScheduler(t, sender, 100000, nil)

	s.ApplyPatch(0, dmx.Delta{{Ch: 1, Val: 10}})
	s.MaybeSend(context.Background(), 0)
	time.Sleep(time.Millisecond)
	s.MaybeSend(context.Background(), 0)

	assert.Equal(t, 1, sender.sent())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OLAFramesSkipped.WithLabelValues("0", "identical")))
}

func TestSchedulerRateGuard(t *testing.T) {
	sender := &fakeSender{}
	s, m := newTestScheduler(t, sender, 1, nil) // one frame per second

	s.ApplyPatch(0, dmx.Delta{{Ch: 1, Val: 10}})
	s.MaybeSend(context.Background(), 0)
	s.ApplyPatch(0, dmx.Delta{{Ch: 1, Val: 20}})
	s.MaybeSend(context.Background(), 0)

	assert.Equal(t, 1, sender.sent())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OLAFramesSkipped.WithLabelValues("0", "rate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OLAQueueDepth.WithLabelValues("0")))

	// Flush ignores the guard and resets the suppressed-depth gauge.
	s.Flush(context.Background(), 0)
	assert.Equal(t, 2, sender.sent())
	assert.Equal(t, byte(20), sender.frames[1][0])
	assert.Equal(t, 0.0, testutil.ToFloat64(m.OLAQueueDepth.WithLabelValues("0")))
}

func TestSchedulerApplyPatchReportsNoChange(t *testing.T) {
	s, _ := newTestScheduler(t, &fakeSender{}, 44, nil)
	assert.True(t, s.ApplyPatch(0, dmx.Delta{{Ch: 1, Val: 10}}))
	assert.False(t, s.ApplyPatch(0, dmx.Delta{{Ch: 1, Val: 10}}))
	assert.False(t, s.ApplyPatch(0, dmx.Delta{{Ch: 999, Val: 10}}))
}

func TestSchedulerErrorAccounting(t *testing.T) {
	sender := &fakeSender{err: &TransportError{Code: "503"}}
	s, m := newTestScheduler(t, sender, 44, nil)

	s.ApplyPatch(0, dmx.Delta{{Ch: 1, Val: 10}})
	s.MaybeSend(context.Background(), 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.OLAHTTPErrors.WithLabelValues("0")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OLAHTTPErrorsByCode.WithLabelValues("0", "503")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.OLAFramesTotal.WithLabelValues("0")))
}

func TestSchedulerUniverseMapping(t *testing.T) {
	sender := &fakeSender{}
	s, _ := newTestScheduler(t, sender, 44, map[int]int{0: 9})

	s.ApplyPatch(0, dmx.Delta{{Ch: 1, Val: 1}})
	s.MaybeSend(context.Background(), 0)
	s.ApplyPatch(3, dmx.Delta{{Ch: 1, Val: 1}})
	s.MaybeSend(context.Background(), 3)

	require.Equal(t, 2, sender.sent())
	assert.Equal(t, 9, sender.unis[0]) // mapped
	assert.Equal(t, 3, sender.unis[1]) // identity fallback
}

func TestSchedulerFlushAll(t *testing.T) {
	sender := &fakeSender{}
	s, _ := newTestScheduler(t, sender, 1, nil)

	s.ApplyPatch(0, dmx.Delta{{Ch: 1, Val: 1}})
	s.ApplyPatch(4, dmx.Delta{{Ch: 2, Val: 2}})
	s.FlushAll(context.Background())

	assert.Equal(t, 2, sender.sent())
}
