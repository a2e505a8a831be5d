package monitoring

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// GinHandler wraps Handler for the router
func (m *Metrics) GinHandler() gin.HandlerFunc {
	return gin.WrapH(m.Handler())
}
