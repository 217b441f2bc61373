package client

import (
	"fmt"
	vm "github.com/VictoriaMetrics/metrics"
	gometrics "github.com/rcrowley/go-metrics"
	"time"
)

// Stats is a snapshot of the exchange statistics of one slot
type Stats struct {
	Exchanges     int64
	Failures      int64
	BytesSent     int64
	BytesReceived int64

	MeanLatency time.Duration
	P99Latency  time.Duration
	MaxLatency  time.Duration
}

// String returns a one line summary of the statistics
func (s Stats) String() string {
	return fmt.Sprintf("exchanges=%d failures=%d sent=%dB received=%dB latency(mean=%s p99=%s max=%s)",
		s.Exchanges, s.Failures, s.BytesSent, s.BytesReceived, s.MeanLatency, s.P99Latency, s.MaxLatency)
}

// slotStats records the statistics of one slot twice: in a go-metrics registry
// for Stats snapshots and in a VictoriaMetrics set for the prometheus export
type slotStats struct {
	latency  gometrics.Timer
	failures gometrics.Counter
	sent     gometrics.Counter
	received gometrics.Counter

	promExchanges *vm.Counter
	promFailures  *vm.Counter
	promSent      *vm.Counter
	promReceived  *vm.Counter
	promLatency   *vm.Histogram
}

func newSlotStats(registry gometrics.Registry, set *vm.Set, slot int) *slotStats {
	prefix := fmt.Sprintf("slot%d.", slot)
	label := fmt.Sprintf(`{slot="%d"}`, slot)

	return &slotStats{
		latency:  gometrics.GetOrRegisterTimer(prefix+"exchange", registry),
		failures: gometrics.GetOrRegisterCounter(prefix+"failures", registry),
		sent:     gometrics.GetOrRegisterCounter(prefix+"bytes.sent", registry),
		received: gometrics.GetOrRegisterCounter(prefix+"bytes.received", registry),

		promExchanges: set.GetOrCreateCounter("rcam_client_exchanges_total" + label),
		promFailures:  set.GetOrCreateCounter("rcam_client_exchange_failures_total" + label),
		promSent:      set.GetOrCreateCounter("rcam_client_bytes_sent_total" + label),
		promReceived:  set.GetOrCreateCounter("rcam_client_bytes_received_total" + label),
		promLatency:   set.GetOrCreateHistogram("rcam_client_exchange_duration_seconds" + label),
	}
}

// exchangeDone records a finished exchange
func (s *slotStats) exchangeDone(d time.Duration, err error) {
	s.latency.Update(d)
	s.promExchanges.Inc()
	s.promLatency.Update(d.Seconds())
	if err != nil {
		s.failures.Inc(1)
		s.promFailures.Inc()
	}
}

func (s *slotStats) wrote(n int) {
	s.sent.Inc(int64(n))
	s.promSent.Add(n)
}

func (s *slotStats) read(n int) {
	s.received.Inc(int64(n))
	s.promReceived.Add(n)
}

func (s *slotStats) snapshot() Stats {
	t := s.latency.Snapshot()
	return Stats{
		Exchanges:     t.Count(),
		Failures:      s.failures.Snapshot().Count(),
		BytesSent:     s.sent.Snapshot().Count(),
		BytesReceived: s.received.Snapshot().Count(),
		MeanLatency:   time.Duration(t.Mean()),
		P99Latency:    time.Duration(t.Percentile(0.99)),
		MaxLatency:    time.Duration(t.Max()),
	}
}
