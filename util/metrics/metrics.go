package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesPublished counts requests handed to the broker, by phase and result
	MessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wpe_playback_messages_published_total",
			Help: "Total number of requests published to the positioning engine",
		},
		[]string{"network", "phase", "result"},
	)

	// ResponsesReceived counts responses by phase and how they were handled
	// (accepted, ignored, failed)
	ResponsesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wpe_playback_responses_total",
			Help: "Total number of responses received from the positioning engine",
		},
		[]string{"network", "phase", "outcome"},
	)

	// InflightMessages tracks published requests still waiting for a response
	InflightMessages = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "wpe_playback_inflight_messages",
			Help: "Number of published requests awaiting a response",
		},
		[]string{"network"},
	)

	// PlaybackState exposes the current playback state as its ordinal
	PlaybackState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "wpe_playback_state",
			Help: "Current playback state (0=NOT_STARTED ... 6=FINISHED)",
		},
		[]string{"network"},
	)

	// PhaseDuration tracks how long each phase took to complete, in seconds
	PhaseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wpe_playback_phase_duration_seconds",
			Help:    "Duration of each playback phase in seconds",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 15, 60, 300},
		},
		[]string{"network", "phase"},
	)

	// LocationsReceived counts accumulated location results
	LocationsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wpe_playback_locations_received_total",
			Help: "Total number of location results accumulated",
		},
		[]string{"network"},
	)
)

func networkLabel(networkID int64) string {
	return strconv.FormatInt(networkID, 10)
}

// RecordPublish records a published request
func RecordPublish(networkID int64, phase string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	MessagesPublished.WithLabelValues(networkLabel(networkID), phase, result).Inc()
}

// RecordResponse records a received response and its outcome
func RecordResponse(networkID int64, phase, outcome string) {
	ResponsesReceived.WithLabelValues(networkLabel(networkID), phase, outcome).Inc()
}

// SetInflight sets the number of inflight requests
func SetInflight(networkID int64, count int) {
	InflightMessages.WithLabelValues(networkLabel(networkID)).Set(float64(count))
}

// SetState sets the playback state ordinal
func SetState(networkID int64, state int) {
	PlaybackState.WithLabelValues(networkLabel(networkID)).Set(float64(state))
}

// RecordPhaseDuration records how long a phase lasted
func RecordPhaseDuration(networkID int64, phase string, durationSeconds float64) {
	PhaseDuration.WithLabelValues(networkLabel(networkID), phase).Observe(durationSeconds)
}

// RecordLocation increments the received location counter
func RecordLocation(networkID int64) {
	LocationsReceived.WithLabelValues(networkLabel(networkID)).Inc()
}
