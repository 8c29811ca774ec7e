package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"lmmpower/internal"
)

// RouterConfig selects optional endpoints
type RouterConfig struct {
	GinMode        string
	MetricsEnabled bool
}

// NewRouter builds the root chi router: health and metrics endpoints plus the
// gin engine serving /v1
func NewRouter(cfg RouterConfig, handler *PowerHandler, hub *SSEHub, logger *internal.Logger) http.Handler {
	if logger == nil {
		logger = internal.NewNopLogger()
	}
	if cfg.GinMode != "" {
		gin.SetMode(cfg.GinMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(logger))
	v1 := engine.Group("/v1")
	handler.Register(v1)
	if hub != nil {
		v1.GET("/events", hub.HandleSSE)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	if cfg.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	r.Mount("/v1", engine)
	return r
}

// requestLogger logs each /v1 request. It must not wrap the response writer:
// event streams flush through it.
func requestLogger(logger *internal.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		logger.Debug("[HTTP] %s %s %d %dB", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), c.Writer.Size())
	}
}
