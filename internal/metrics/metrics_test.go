package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestFramesSentTotal_IncrementsByLabel(t *testing.T) {
	before := testutil.ToFloat64(FramesSentTotal.WithLabelValues("reliable"))
	FramesSentTotal.WithLabelValues("reliable").Inc()
	require.Equal(t, before+1, testutil.ToFloat64(FramesSentTotal.WithLabelValues("reliable")))
}

func TestPeersConnected_Set(t *testing.T) {
	PeersConnected.Set(3)
	require.Equal(t, float64(3), testutil.ToFloat64(PeersConnected))
}

func TestHandler_ServesRegisteredMetrics(t *testing.T) {
	FramesReceivedTotal.WithLabelValues("best_effort").Inc()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "zenoh_pico_frames_received_total")
}
