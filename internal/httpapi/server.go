// Package httpapi exposes the runtime over HTTP: chat/generate/embeddings
// endpoints backed by the Runtime Orchestrator, plus model management
// routes backed by the Model Registry and Model Cache directly.
package httpapi

import (
	"net/http"

	"github.com/localforge/myllm/internal/modelcache"
	"github.com/localforge/myllm/internal/modelregistry"
	"github.com/localforge/myllm/internal/runtime"
)

// Server wires the HTTP surface to the orchestrator and the registry/cache
// it needs for model management endpoints that bypass the orchestrator.
type Server struct {
	mux      *http.ServeMux
	orch     *runtime.Orchestrator
	registry *modelregistry.Registry
	cache    *modelcache.Cache
	version  string
}

// NewServer builds a Server wired to the runtime's components and
// registers its routes.
func NewServer(orch *runtime.Orchestrator, registry *modelregistry.Registry, cache *modelcache.Cache, version string) *Server {
	s := &Server{
		mux:      http.NewServeMux(),
		orch:     orch,
		registry: registry,
		cache:    cache,
		version:  version,
	}
	s.registerRoutes()
	return s
}

// ServeHTTP satisfies http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /{$}", s.handleRoot)
	s.mux.HandleFunc("GET /health", s.handleHealth)

	// Inference
	s.mux.HandleFunc("POST /api/chat", s.handleChat)
	s.mux.HandleFunc("POST /api/generate", s.handleGenerate)
	s.mux.HandleFunc("POST /api/embeddings", s.handleEmbeddings)

	// Models
	s.mux.HandleFunc("GET /api/models", s.handleListModels)
	s.mux.HandleFunc("GET /api/models/{name}", s.handleGetModel)
	s.mux.HandleFunc("POST /api/models/{name}/load", s.handleLoadModel)
	s.mux.HandleFunc("POST /api/models/{name}/unload", s.handleUnloadModel)
}
