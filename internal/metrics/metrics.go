// Package metrics exposes a Prometheus collector over active transfer
// sessions. It is adapted from this module's TCPInfoCollector: the same
// Describe/Collect/Add/Remove shape, generalized from polling
// getsockopt(TCP_INFO) per connection to polling a caller-supplied Snapshot
// function per session.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Snapshot is one session's point-in-time transfer state.
type Snapshot struct {
	IPDUsec     uint64
	LossPPM     uint32
	BlocksDone  uint32
	BlocksTotal uint32
	BytesSent   uint64
	BytesRecv   uint64
}

type sessionEntry struct {
	remoteAddr string
	snapshot   func() Snapshot
}

// Collector polls a Snapshot callback per active session on every Prometheus
// scrape; there is no background goroutine and no cached state besides the
// session registry itself.
type Collector struct {
	mu       sync.Mutex
	sessions map[string]sessionEntry

	ipdDesc         *prometheus.Desc
	lossDesc        *prometheus.Desc
	blocksDoneDesc  *prometheus.Desc
	blocksTotalDesc *prometheus.Desc
	bytesSentDesc   *prometheus.Desc
	bytesRecvDesc   *prometheus.Desc
}

// New builds a Collector. constLabels are applied to every metric (e.g. a
// process/host identifier); per-session labels are always "session_id" and
// "remote_addr".
func New(namespace string, constLabels prometheus.Labels) *Collector {
	labelNames := []string{"session_id", "remote_addr"}
	return &Collector{
		sessions: make(map[string]sessionEntry),
		ipdDesc: prometheus.NewDesc(namespace+"_ipd_microseconds", "Current sender inter-packet delay.",
			labelNames, constLabels),
		lossDesc: prometheus.NewDesc(namespace+"_loss_ppm", "Most recently reported receiver loss rate, in parts per million.",
			labelNames, constLabels),
		blocksDoneDesc: prometheus.NewDesc(namespace+"_blocks_done", "Blocks confirmed delivered.",
			labelNames, constLabels),
		blocksTotalDesc: prometheus.NewDesc(namespace+"_blocks_total", "Total blocks in the transfer.",
			labelNames, constLabels),
		bytesSentDesc: prometheus.NewDesc(namespace+"_bytes_sent_total", "Bytes sent on the UDP data channel.",
			labelNames, constLabels),
		bytesRecvDesc: prometheus.NewDesc(namespace+"_bytes_received_total", "Bytes received on the UDP data channel.",
			labelNames, constLabels),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(descs chan<- *prometheus.Desc) {
	descs <- c.ipdDesc
	descs <- c.lossDesc
	descs <- c.blocksDoneDesc
	descs <- c.blocksTotalDesc
	descs <- c.bytesSentDesc
	descs <- c.bytesRecvDesc
}

// Collect implements prometheus.Collector, polling every registered
// session's Snapshot callback once per scrape.
func (c *Collector) Collect(metrics chan<- prometheus.Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for id, entry := range c.sessions {
		snap := entry.snapshot()
		labels := []string{id, entry.remoteAddr}
		metrics <- prometheus.MustNewConstMetric(c.ipdDesc, prometheus.GaugeValue, float64(snap.IPDUsec), labels...)
		metrics <- prometheus.MustNewConstMetric(c.lossDesc, prometheus.GaugeValue, float64(snap.LossPPM), labels...)
		metrics <- prometheus.MustNewConstMetric(c.blocksDoneDesc, prometheus.GaugeValue, float64(snap.BlocksDone), labels...)
		metrics <- prometheus.MustNewConstMetric(c.blocksTotalDesc, prometheus.GaugeValue, float64(snap.BlocksTotal), labels...)
		metrics <- prometheus.MustNewConstMetric(c.bytesSentDesc, prometheus.CounterValue, float64(snap.BytesSent), labels...)
		metrics <- prometheus.MustNewConstMetric(c.bytesRecvDesc, prometheus.CounterValue, float64(snap.BytesRecv), labels...)
	}
}

// Add registers a session, keyed by sessionID (an rs/xid string), polled via
// snapshot on every scrape until Remove is called.
func (c *Collector) Add(sessionID, remoteAddr string, snapshot func() Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[sessionID] = sessionEntry{remoteAddr: remoteAddr, snapshot: snapshot}
}

// Remove deregisters a session, called once its transfer completes or fails.
func (c *Collector) Remove(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, sessionID)
}

// Len reports the number of currently registered sessions, for tests and
// for a final CLI summary line.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}
