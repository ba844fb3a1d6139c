package websocket

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
)

var (
	framesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wsclient",
		Name:      "frames_sent_total",
		Help:      "Frames queued for the transport, by opcode.",
	}, []string{"opcode"})

	framesReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wsclient",
		Name:      "frames_received_total",
		Help:      "Frames decoded from the transport, by opcode.",
	}, []string{"opcode"})

	bytesWritten = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "wsclient",
		Name:      "bytes_written_total",
		Help:      "Bytes written to the transport.",
	})

	bytesRead = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "wsclient",
		Name:      "bytes_read_total",
		Help:      "Bytes read from the transport.",
	})

	stateTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wsclient",
		Name:      "state_transitions_total",
		Help:      "Connection state machine transitions, by target state.",
	}, []string{"state"})

	fileTransfers = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wsclient",
		Name:      "file_transfers_total",
		Help:      "Finished file transfers, by direction and result.",
	}, []string{"direction", "result"})

	handshakeLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "wsclient",
		Name:      "handshake_seconds",
		Help:      "Time from connect to an open connection, tunnel included.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
	})

	once sync.Once
)

func init() {
	once.Do(func() {
		prometheus.MustRegister(
			framesSent,
			framesReceived,
			bytesWritten,
			bytesRead,
			stateTransitions,
			fileTransfers,
			handshakeLatency,
		)
	})
}

var tracer = otel.Tracer("github.com/wmdanor/wsclient")
