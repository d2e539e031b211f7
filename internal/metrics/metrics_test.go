package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.EventsIngested.WithLabelValues("login").Inc()
	m.AlertOutcomes.WithLabelValues("permission_change", "created").Inc()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsIngested.WithLabelValues("login")))
	assert.Panics(t, func() { New(reg) }, "second registration on the same registry must fail")
}

func TestNew_NilRegistererIsAllowed(t *testing.T) {
	m := New(nil)
	m.EventsRejected.Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsRejected))
}

func TestMiddleware_CountsByRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := New(prometheus.NewRegistry())
	r := gin.New()
	r.Use(m.Middleware())
	r.GET("/v1/alerts/:id", func(c *gin.Context) { c.Status(http.StatusNotFound) })

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/alerts/x", nil))
		require.Equal(t, http.StatusNotFound, w.Code)
	}
	assert.Equal(t, 2.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/v1/alerts/:id", "404")))
}
