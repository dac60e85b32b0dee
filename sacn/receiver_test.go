package sacn

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/atrep123/dmx-core/config"
	"github.com/atrep123/dmx-core/metrics"
)

type compositeRecorder struct {
	universes []int
	last      map[int][512]byte
}

func (c *compositeRecorder) sink(u int, frame [512]byte) {
	if c.last == nil {
		c.last = make(map[int][512]byte)
	}
	c.universes = append(c.universes, u)
	c.last[u] = frame
}

func newTestReceiver(t *testing.T, cfg config.SACNConfig) (*Receiver, *compositeRecorder, *metrics.Metrics, *int64) {
	t.Helper()
	rec := &compositeRecorder{}
	m := metrics.New()
	r := NewReceiver(cfg, m, zap.NewNop().Sugar(), rec.sink)
	nowMS := int64(1_000_000)
	r.SetClock(func() int64 { return nowMS })
	return r, rec, m, &nowMS
}

func slots(pairs ...int) []byte {
	frame := make([]byte, 512)
	for i := 0; i+1 < len(pairs); i += 2 {
		frame[pairs[i]] = byte(pairs[i+1])
	}
	return frame
}

func TestReceiverSingleSource(t *testing.T) {
	r, rec, m, _ := newTestReceiver(t, config.SACNConfig{SourceTimeoutMS: 3000})

	r.HandleDatagram(buildPacket(1, 100, 0, testCID('A'), "a", slots(0, 10)))

	require.Len(t, rec.universes, 1)
	assert.Equal(t, byte(10), rec.last[1][0])
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SACNPacketsTotal.WithLabelValues("1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SACNSources.WithLabelValues("1")))
	assert.Equal(t, 100.0, testutil.ToFloat64(m.SACNPriorityCurrent.WithLabelValues("1")))
}

func TestReceiverHTPWithinPriorityTier(t *testing.T) {
	r, rec, _, _ := newTestReceiver(t, config.SACNConfig{SourceTimeoutMS: 3000})

	r.HandleDatagram(buildPacket(1, 100, 0, testCID('A'), "a", slots(0, 10)))
	r.HandleDatagram(buildPacket(1, 100, 0, testCID('B'), "b", slots(0, 20)))

	// Equal priority: HTP picks the higher slot value.
	assert.Equal(t, byte(20), rec.last[1][0])
}

func TestReceiverHigherPriorityShadowsTier(t *testing.T) {
	r, rec, m, _ := newTestReceiver(t, config.SACNConfig{SourceTimeoutMS: 3000})

	r.HandleDatagram(buildPacket(1, 100, 0, testCID('A'), "a", slots(0, 10)))
	r.HandleDatagram(buildPacket(1, 100, 0, testCID('B'), "b", slots(0, 20)))
	r.HandleDatagram(buildPacket(1, 120, 0, testCID('C'), "c", slots(0, 7)))

	// Higher priority wins even with a lower level.
	assert.Equal(t, byte(7), rec.last[1][0])
	assert.Equal(t, 120.0, testutil.ToFloat64(m.SACNPriorityCurrent.WithLabelValues("1")))
}

func TestReceiverSequenceOrdering(t *testing.T) {
	r, rec, m, _ := newTestReceiver(t, config.SACNConfig{SourceTimeoutMS: 3000})

	r.HandleDatagram(buildPacket(1, 100, 10, testCID('A'), "a", slots(0, 10)))
	// (5 - 10) mod 256 = 251 > 128: out of order, dropped.
	r.HandleDatagram(buildPacket(1, 100, 5, testCID('A'), "a", slots(0, 99)))

	assert.Equal(t, byte(10), rec.last[1][0])
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SACNOOOTotal.WithLabelValues("1")))

	// Equal sequence is a duplicate refresh and passes.
	r.HandleDatagram(buildPacket(1, 100, 10, testCID('A'), "a", slots(0, 55)))
	assert.Equal(t, byte(55), rec.last[1][0])

	// Wraparound: 10 -> 250 is 240 ahead mod 256, dropped; lastSeq stays 10,
	// and 10 -> 138 is exactly 128 ahead, which passes.
	r.HandleDatagram(buildPacket(1, 100, 250, testCID('A'), "a", slots(0, 60)))
	assert.Equal(t, byte(55), rec.last[1][0])
	r.HandleDatagram(buildPacket(1, 100, 138, testCID('A'), "a", slots(0, 70)))
	assert.Equal(t, byte(70), rec.last[1][0])
}

func TestReceiverSourceTimeoutPurge(t *testing.T) {
	r, rec, m, nowMS := newTestReceiver(t, config.SACNConfig{SourceTimeoutMS: 3000})

	r.HandleDatagram(buildPacket(1, 100, 0, testCID('A'), "a", slots(0, 10)))
	*nowMS += 10_000
	r.HandleDatagram(buildPacket(1, 100, 0, testCID('B'), "b", slots(1, 5)))

	// Source A is stale and purged at composite time: its slot drops out.
	assert.Equal(t, byte(0), rec.last[1][0])
	assert.Equal(t, byte(5), rec.last[1][1])
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SACNSources.WithLabelValues("1")))
}

func TestReceiverUniverseFilter(t *testing.T) {
	r, rec, m, _ := newTestReceiver(t, config.SACNConfig{SourceTimeoutMS: 3000, Universes: "1-2"})

	r.HandleDatagram(buildPacket(5, 100, 0, testCID('A'), "a", slots(0, 10)))
	assert.Empty(t, rec.universes)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.SACNPacketsTotal.WithLabelValues("5")))

	r.HandleDatagram(buildPacket(2, 100, 0, testCID('A'), "a", slots(0, 10)))
	assert.Equal(t, []int{2}, rec.universes)
}

func TestReceiverMalformedDatagramDropped(t *testing.T) {
	r, rec, _, _ := newTestReceiver(t, config.SACNConfig{SourceTimeoutMS: 3000})
	r.HandleDatagram([]byte("junk"))
	assert.Empty(t, rec.universes)
}

func TestReceiverSourceDiagnostics(t *testing.T) {
	r, _, _, _ := newTestReceiver(t, config.SACNConfig{SourceTimeoutMS: 3000})

	r.HandleDatagram(buildPacket(1, 100, 3, testCID('A'), "console-a", slots(0, 10)))
	r.HandleDatagram(buildPacket(2, 110, 9, testCID('B'), "console-b", slots(0, 20)))

	diag := r.SourceDiagnostics()
	require.Len(t, diag, 2)
	assert.Equal(t, 1, diag[0].Universe)
	assert.Equal(t, "console-a", diag[0].Name)
	assert.Equal(t, 3, diag[0].LastSeq)
	assert.Equal(t, 110, diag[1].Priority)
}
