package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	wirePackets = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gokob",
			Subsystem: "wire",
			Name:      "packets_total",
			Help:      "Wire packets by direction and kind.",
		},
		[]string{"direction", "kind"},
	)
	wireReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gokob",
			Subsystem: "wire",
			Name:      "reconnects_total",
			Help:      "Reconnect attempts after transport errors.",
		},
	)
	decodedCharacters = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gokob",
			Subsystem: "morse",
			Name:      "decoded_characters_total",
			Help:      "Characters emitted by the decoder.",
		},
		[]string{"result"},
	)
	keyEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gokob",
			Subsystem: "kob",
			Name:      "code_sequences_total",
			Help:      "Code sequences handled by the event loop, by source.",
		},
		[]string{"source"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(wirePackets, wireReconnects, decodedCharacters, keyEvents)
	})
}

func RecordWirePacket(direction, kind string) {
	RegisterMetrics()
	wirePackets.WithLabelValues(direction, kind).Inc()
}

func RecordWireReconnect() {
	RegisterMetrics()
	wireReconnects.Inc()
}

// RecordDecodedCharacter counts decoder output; result is "ok" or
// "unrecognized".
func RecordDecodedCharacter(result string) {
	RegisterMetrics()
	decodedCharacters.WithLabelValues(result).Inc()
}

func RecordCodeSequence(source string) {
	RegisterMetrics()
	keyEvents.WithLabelValues(source).Inc()
}
