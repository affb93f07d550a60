// Package metrics holds the bridge's Prometheus series together with local
// mirrors that the periodic log snapshot reads without scraping.
package metrics

import (
	"log/slog"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/kstaniek/go-socketcan/can"
)

// Error label values. The set is closed so the errors_total cardinality
// stays bounded.
const (
	ErrTCPRead         = "tcp_read"
	ErrTCPWrite        = "tcp_write"
	ErrHandshake       = "handshake"
	ErrSocketCANWrite  = "socketcan_write"
	ErrSocketCANOver   = "socketcan_tx_overflow"
	ErrSocketCANRead   = "socketcan_read"
	ErrSocketCANDecode = "socketcan_decode"
	ErrSocketCANFD     = "socketcan_fd_disabled"
	ErrLinkSetup       = "link_setup"
)

var errorLabels = []string{
	ErrTCPRead, ErrTCPWrite, ErrHandshake,
	ErrSocketCANWrite, ErrSocketCANOver, ErrSocketCANRead,
	ErrSocketCANDecode, ErrSocketCANFD, ErrLinkSetup,
}

// counter is a Prometheus counter with an in-process copy.
type counter struct {
	prom  prometheus.Counter
	local atomic.Uint64
}

func newCounter(name, help string) *counter {
	return &counter{prom: promauto.NewCounter(prometheus.CounterOpts{Name: name, Help: help})}
}

func (c *counter) add(n uint64) {
	c.prom.Add(float64(n))
	c.local.Add(n)
}

// gauge is a Prometheus gauge with an in-process copy.
type gauge struct {
	prom  prometheus.Gauge
	local atomic.Uint64
}

func newGauge(name, help string) *gauge {
	return &gauge{prom: promauto.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})}
}

func (g *gauge) set(n int) {
	if n < 0 {
		n = 0
	}
	g.prom.Set(float64(n))
	g.local.Store(uint64(n))
}

var (
	rxByKind = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "socketcan_rx_frames_total",
		Help: "CAN frames read from the SocketCAN interface by kind.",
	}, []string{"kind"})
	txByKind = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "socketcan_tx_frames_total",
		Help: "CAN frames written to the SocketCAN interface by kind.",
	}, []string{"kind"})
	errorFramesByClass = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "can_error_frames_total",
		Help: "Error frames received, counted once per error class they report.",
	}, []string{"class"})
	controllerCounters = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "can_controller_error_counter",
		Help: "Controller TX/RX error counters as last reported by an error frame.",
	}, []string{"dir"})
	linkState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "can_link_state",
		Help: "Controller state as reported by rtnetlink (0 error-active .. 5 sleeping).",
	})
	errorsByWhere = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})
	buildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata; the value is always 1.",
	}, []string{"version", "commit", "date"})

	tcpRx       = newCounter("tcp_rx_frames_total", "CAN frames received from TCP clients.")
	tcpTx       = newCounter("tcp_tx_frames_total", "CAN frames sent to TCP clients.")
	hubDrops    = newCounter("hub_dropped_frames_total", "CAN frames dropped by the hub for slow clients.")
	hubFiltered = newCounter("hub_filtered_frames_total", "CAN frames withheld from clients by their receive filters.")
	hubKicks    = newCounter("hub_kicked_clients_total", "Clients disconnected by the kick backpressure policy.")
	hubRejects  = newCounter("hub_rejected_clients_total", "Client connections rejected at admission.")
	malformed   = newCounter("malformed_frames_total", "Frames rejected as malformed on the TCP side.")
	hubClients  = newGauge("hub_active_clients", "Connected clients.")
	fanout      = newGauge("hub_broadcast_fanout", "Clients targeted by the most recent broadcast.")
	qdMax       = newGauge("hub_queue_depth_max", "Largest client queue depth in the last sample.")
	qdAvg       = newGauge("hub_queue_depth_avg", "Average client queue depth in the last sample.")

	rxTotal, txTotal, fdRx     atomic.Uint64
	errorFrames, busOff, errsN atomic.Uint64
)

// Snapshot is a copy of the local mirrors.
type Snapshot struct {
	SocketCANRx   uint64
	SocketCANTx   uint64
	FDRx          uint64
	ErrorFrames   uint64
	BusOff        uint64
	TCPRx         uint64
	TCPTx         uint64
	HubDrops      uint64
	HubFiltered   uint64
	HubKicks      uint64
	HubRejects    uint64
	Errors        uint64 // all labels
	HubClients    uint64
	Fanout        uint64
	Malformed     uint64
	QueueDepthMax uint64
	QueueDepthAvg uint64
}

func Snap() Snapshot {
	return Snapshot{
		SocketCANRx:   rxTotal.Load(),
		SocketCANTx:   txTotal.Load(),
		FDRx:          fdRx.Load(),
		ErrorFrames:   errorFrames.Load(),
		BusOff:        busOff.Load(),
		TCPRx:         tcpRx.local.Load(),
		TCPTx:         tcpTx.local.Load(),
		HubDrops:      hubDrops.local.Load(),
		HubFiltered:   hubFiltered.local.Load(),
		HubKicks:      hubKicks.local.Load(),
		HubRejects:    hubRejects.local.Load(),
		Errors:        errsN.Load(),
		HubClients:    hubClients.local.Load(),
		Fanout:        fanout.local.Load(),
		Malformed:     malformed.local.Load(),
		QueueDepthMax: qdMax.local.Load(),
		QueueDepthAvg: qdAvg.local.Load(),
	}
}

// LogValue groups the snapshot under short keys.
func (s Snapshot) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Group("can",
			"rx", s.SocketCANRx,
			"tx", s.SocketCANTx,
			"fd_rx", s.FDRx,
			"error_frames", s.ErrorFrames,
			"bus_off", s.BusOff,
		),
		slog.Group("tcp", "rx", s.TCPRx, "tx", s.TCPTx, "malformed", s.Malformed),
		slog.Group("hub",
			"clients", s.HubClients,
			"drops", s.HubDrops,
			"filtered", s.HubFiltered,
			"kicks", s.HubKicks,
			"rejects", s.HubRejects,
			"qd_max", s.QueueDepthMax,
		),
		slog.Uint64("errors", s.Errors),
	)
}

// IncSocketCANRx counts one received frame under its kind.
func IncSocketCANRx(k can.Kind) {
	rxByKind.WithLabelValues(k.String()).Inc()
	rxTotal.Add(1)
	if k == can.KindFD {
		fdRx.Add(1)
	}
}

// IncSocketCANTx counts one transmitted frame under its kind.
func IncSocketCANTx(k can.Kind) {
	txByKind.WithLabelValues(k.String()).Inc()
	txTotal.Add(1)
}

// ObserveErrorFrame counts an error frame under each class it reports and
// records the controller error counters when present.
func ObserveErrorFrame(d can.Diagnostic) {
	errorFrames.Add(1)
	for _, name := range d.Class.Names() {
		errorFramesByClass.WithLabelValues(name).Inc()
	}
	if d.BusOff() {
		busOff.Add(1)
	}
	if d.Has(can.ErrClassCounters) {
		controllerCounters.WithLabelValues("tx").Set(float64(d.Counters.Tx))
		controllerCounters.WithLabelValues("rx").Set(float64(d.Counters.Rx))
	}
}

// SetLinkState records the controller state read from the link.
func SetLinkState(state uint32) { linkState.Set(float64(state)) }

func IncError(label string) {
	errorsByWhere.WithLabelValues(label).Inc()
	errsN.Add(1)
}

func IncTCPRx()                { tcpRx.add(1) }
func AddTCPTx(n int)           { tcpTx.add(uint64(n)) }
func IncHubDrop()              { hubDrops.add(1) }
func IncHubFiltered()          { hubFiltered.add(1) }
func IncHubKick()              { hubKicks.add(1) }
func IncHubReject()            { hubRejects.add(1) }
func IncMalformed()            { malformed.add(1) }
func SetHubClients(n int)      { hubClients.set(n) }
func SetBroadcastFanout(n int) { fanout.set(n) }

// SetQueueDepth records the max and average client queue depth.
func SetQueueDepth(max, avg int) {
	qdMax.set(max)
	qdAvg.set(avg)
}

// InitBuildInfo publishes the build labels and creates the labelled series
// up front so they are exported at zero. Call once at startup.
func InitBuildInfo(version, commit, date string) {
	buildInfo.WithLabelValues(version, commit, date).Set(1)
	for _, lbl := range errorLabels {
		errorsByWhere.WithLabelValues(lbl).Add(0)
	}
	for _, name := range can.ErrClassKnown.Names() {
		errorFramesByClass.WithLabelValues(name).Add(0)
	}
	for _, k := range []can.Kind{can.KindData, can.KindRemote, can.KindFD, can.KindError} {
		rxByKind.WithLabelValues(k.String()).Add(0)
	}
}
