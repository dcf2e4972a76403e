// Package metrics exposes Prometheus instrumentation for the driver: wire
// byte counters, command latency histograms, pool gauges, and the leak
// counter the connection pool's background daemon feeds.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds every Prometheus metric the driver exports. A Collector
// owns its own registry, so constructing more than one (e.g. one per test)
// never collides with another's registrations.
type Collector struct {
	Registry *prometheus.Registry

	bytesSent     prometheus.Counter
	bytesReceived prometheus.Counter
	packetsSent   prometheus.Counter
	packetsRecv   prometheus.Counter

	commandDuration *prometheus.HistogramVec
	commandErrors   *prometheus.CounterVec

	poolSlotsTotal     prometheus.Gauge
	poolSlotsAvailable prometheus.Gauge
	poolSlotsTombstone prometheus.Gauge
	poolAcquireWait    prometheus.Histogram
	poolExhausted      prometheus.Counter
	poolLeaksDetected  prometheus.Counter

	reconnectsTotal prometheus.Counter
}

// New creates and registers every metric against a fresh registry.
func New() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		Registry: reg,
		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mysqlwire_bytes_sent_total",
			Help: "Total bytes written to the server across all channels.",
		}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mysqlwire_bytes_received_total",
			Help: "Total bytes read from the server across all channels.",
		}),
		packetsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mysqlwire_packets_sent_total",
			Help: "Total wire packets written, including split-packet fragments.",
		}),
		packetsRecv: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mysqlwire_packets_received_total",
			Help: "Total wire packets read, including split-packet fragments.",
		}),
		commandDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mysqlwire_command_duration_seconds",
				Help:    "Time from command submission to completion, by command kind.",
				Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16),
			},
			[]string{"command"},
		),
		commandErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mysqlwire_command_errors_total",
				Help: "Command completions that failed, by command kind and error category.",
			},
			[]string{"command", "category"},
		),
		poolSlotsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mysqlwire_pool_slots_total",
			Help: "Configured number of pool slots.",
		}),
		poolSlotsAvailable: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mysqlwire_pool_slots_available",
			Help: "Pool slots currently idle and ready for acquisition.",
		}),
		poolSlotsTombstone: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mysqlwire_pool_slots_tombstoned",
			Help: "Pool slots currently broken and awaiting the rescue task.",
		}),
		poolAcquireWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mysqlwire_pool_acquire_wait_seconds",
			Help:    "Time spent waiting inside Pool.Acquire.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		}),
		poolExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mysqlwire_pool_exhausted_total",
			Help: "Times Acquire returned an error because no slot became available in time.",
		}),
		poolLeaksDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mysqlwire_pool_leaks_detected_total",
			Help: "Connections force-closed by the leak detector for exceeding max occupancy.",
		}),
		reconnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mysqlwire_reconnects_total",
			Help: "Slots successfully rebuilt by the rescue task.",
		}),
	}

	reg.MustRegister(
		c.bytesSent,
		c.bytesReceived,
		c.packetsSent,
		c.packetsRecv,
		c.commandDuration,
		c.commandErrors,
		c.poolSlotsTotal,
		c.poolSlotsAvailable,
		c.poolSlotsTombstone,
		c.poolAcquireWait,
		c.poolExhausted,
		c.poolLeaksDetected,
		c.reconnectsTotal,
	)

	return c
}

// BytesSent adds n to the cumulative bytes-written counter.
func (c *Collector) BytesSent(n int) { c.bytesSent.Add(float64(n)) }

// BytesReceived adds n to the cumulative bytes-read counter.
func (c *Collector) BytesReceived(n int) { c.bytesReceived.Add(float64(n)) }

// PacketSent increments the written-packet counter.
func (c *Collector) PacketSent() { c.packetsSent.Inc() }

// PacketReceived increments the read-packet counter.
func (c *Collector) PacketReceived() { c.packetsRecv.Inc() }

// CommandCompleted records a command's end-to-end latency and, if category
// is non-empty, tallies it under the given error category.
func (c *Collector) CommandCompleted(command string, d time.Duration, category string) {
	c.commandDuration.WithLabelValues(command).Observe(d.Seconds())
	if category != "" {
		c.commandErrors.WithLabelValues(command, category).Inc()
	}
}

// SetPoolGauges sets the point-in-time pool slot gauges.
func (c *Collector) SetPoolGauges(total, available, tombstoned int) {
	c.poolSlotsTotal.Set(float64(total))
	c.poolSlotsAvailable.Set(float64(available))
	c.poolSlotsTombstone.Set(float64(tombstoned))
}

// AcquireWait observes the time Pool.Acquire spent waiting for a slot.
func (c *Collector) AcquireWait(d time.Duration) {
	c.poolAcquireWait.Observe(d.Seconds())
}

// PoolExhausted increments the pool-exhaustion counter.
func (c *Collector) PoolExhausted() { c.poolExhausted.Inc() }

// LeakDetected increments the leak counter.
func (c *Collector) LeakDetected() { c.poolLeaksDetected.Inc() }

// SlotRescued increments the rescue-success counter.
func (c *Collector) SlotRescued() { c.reconnectsTotal.Inc() }
