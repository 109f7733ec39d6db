package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"Genset-DataBridge/config"
)

// Server wraps the gin engine and its http.Server.
type Server struct {
	srv *http.Server
}

// NewServer builds the router: health checks, metrics, the websocket feed
// and the command API.
func NewServer(cfg config.HTTPConfig, metricsPath string, metricsHandler, wsHandler http.Handler, h *Handler, readyFn func() bool) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	r.GET("/readyz", func(c *gin.Context) {
		if readyFn == nil || readyFn() {
			c.String(http.StatusOK, "ready")
			return
		}
		c.String(http.StatusServiceUnavailable, "not-ready")
	})
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	if metricsHandler != nil {
		r.GET(metricsPath, gin.WrapH(metricsHandler))
	}
	if wsHandler != nil {
		r.GET("/ws", gin.WrapH(wsHandler))
	}
	if h != nil {
		h.Register(r.Group("/api/v1"))
	}

	return &Server{srv: &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}}
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start serves until Shutdown (blocking).
func (s *Server) Start() error {
	return s.srv.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
