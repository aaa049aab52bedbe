package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	t.Run("nil receiver is a no-op", func(t *testing.T) {
		var m *Metrics
		assert.NotPanics(t, func() {
			m.IncCandidateCreated("notification")
			m.IncOutboxFailure("send")
			m.SetLeader(true)
		})
	})

	t.Run("counters are isolated per registry", func(t *testing.T) {
		m := New(prometheus.NewRegistry())
		m.IncCandidateCreated("checkpoint")
		m.IncCandidateCreated("checkpoint")
		m.AddIdentifiersRewritten(3)
		m.SetLeader(true)

		assert.Equal(t, float64(2), testutil.ToFloat64(m.CandidatesCreated.WithLabelValues("checkpoint")))
		assert.Equal(t, float64(3), testutil.ToFloat64(m.IdentifiersRewritten))
		assert.Equal(t, float64(1), testutil.ToFloat64(m.Leader))

		// A second registry must not panic on duplicate registration.
		_ = New(prometheus.NewRegistry())
	})
}
