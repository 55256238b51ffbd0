// Package api exposes the read-only HTTP status surface: health,
// documents, events, prompts, series, and files. There are no mutation
// endpoints; all writes go through the pipeline.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/docuflow/docuflow/pkg/orchestrator"
	"github.com/docuflow/docuflow/pkg/store"
)

// Server is the read-only API server.
type Server struct {
	store  *store.Store
	orch   *orchestrator.Orchestrator
	logger *slog.Logger
	http   *http.Server
}

// NewServer creates the API server.
func NewServer(st *store.Store, orch *orchestrator.Orchestrator, logger *slog.Logger) *Server {
	return &Server{
		store:  st,
		orch:   orch,
		logger: logger.With("component", "api"),
	}
}

func (s *Server) router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", s.health)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/documents", s.listDocuments)
		v1.GET("/documents/:id", s.getDocument)
		v1.GET("/documents/:id/events", s.listDocumentEvents)
		v1.GET("/prompts", s.listPrompts)
		v1.GET("/series", s.listSeries)
		v1.GET("/files", s.listFiles)
	}
	return r
}

// Start runs the HTTP server. Blocks until Shutdown or failure.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("API server listening", "addr", addr)
	return s.http.ListenAndServe()
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
