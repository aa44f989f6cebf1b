package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounterWithGroup(t *testing.T) {
	IncrCounterWithGroup("net", "accept_total", 1)
	IncrCounterWithGroup("net", "accept_total", 2)
	IncrCounterWithGroup("net", "accept_total", -5)

	c := _registry.counter("net", "accept_total", nil)
	assert.Equal(t, 3.0, testutil.ToFloat64(c.WithLabelValues()))
}

func TestCounterWithDimensions(t *testing.T) {
	IncrCounterWithDimGroup("net", "datagram_drop_total", 1, Dimension{"reason": "decode"})
	IncrCounterWithDimGroup("net", "datagram_drop_total", 1, Dimension{"reason": "unidentified"})
	IncrCounterWithDimGroup("net", "datagram_drop_total", 1, Dimension{"reason": "unidentified"})

	c := _registry.counter("net", "datagram_drop_total", []string{"reason"})
	assert.Equal(t, 1.0, testutil.ToFloat64(c.WithLabelValues("decode")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.WithLabelValues("unidentified")))
}

func TestGaugeAndHistogram(t *testing.T) {
	UpdateGaugeWithGroup("session", "players_online", 4)
	UpdateGaugeWithGroup("session", "players_online", 2)
	g := _registry.gauge("session", "players_online", nil)
	assert.Equal(t, 2.0, testutil.ToFloat64(g.WithLabelValues()))

	ObserveHistogramWithGroup("session", "ping_rtt_seconds", 0.02)
	ObserveHistogramWithGroup("session", "ping_rtt_seconds", 0.2)
	h := _registry.histogram("session", "ping_rtt_seconds", nil)
	assert.Equal(t, 1, testutil.CollectAndCount(h))
}

func TestMismatchedLabelsDoNotPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		IncrCounterWithGroup("net", "mixed_total", 1)
		IncrCounterWithDimGroup("net", "mixed_total", 1, Dimension{"k": "v"})
		UpdateGaugeWithGroup("net", "mixed_total", 1)
	})
}

func TestHandlerExposesSeries(t *testing.T) {
	IncrCounterWithGroup("net.reliable", "frames_in_total", 1)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "gamenet_net_reliable_frames_in_total"))
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "net_reliable", sanitize("net.reliable"))
	assert.Equal(t, "a_b_c", sanitize("a-b c"))
}
