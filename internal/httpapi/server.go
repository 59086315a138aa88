// Package httpapi serves the local status API.
package httpapi

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arraybeat/arraybeat/internal/collect"
	"github.com/arraybeat/arraybeat/internal/pipeline"
)

// StatusSource is the narrow pipeline contract required by the API.
type StatusSource interface {
	Snapshot() pipeline.Status
}

// Server exposes pipeline health and per-collector progress over HTTP.
type Server struct {
	addr   string
	status StatusSource
	server *http.Server
	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer creates the API server.
func NewServer(addr string, status StatusSource) *Server {
	if addr == "" {
		addr = "127.0.0.1:9273"
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:   addr,
		status: status,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/api/health", s.handleHealth)
	r.GET("/api/status", s.handleStatus)

	s.server = &http.Server{
		Handler:           r,
		BaseContext:       func(_ net.Listener) context.Context { return s.ctx },
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	go s.server.Serve(listener)
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	s.cancel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	st := s.status.Snapshot()

	// Unhealthy when every collector has stopped or failed.
	healthy := len(st.Collectors) == 0
	for _, col := range st.Collectors {
		if col.State != collect.StateStopped && col.State != collect.StateFailed {
			healthy = true
			break
		}
	}

	code := http.StatusOK
	status := "ok"
	if !healthy {
		code = http.StatusServiceUnavailable
		status = "degraded"
	}
	c.JSON(code, gin.H{
		"status": status,
		"uptime": st.Uptime,
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.status.Snapshot())
}
