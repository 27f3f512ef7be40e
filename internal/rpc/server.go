// Package rpc provides the operator-facing HTTP API: submit a locally
// originated ledger entry, inspect UTXOs and peers, and enqueue or check
// the state of mesh messages. It is the only part of the core that
// reaches outside the radio mesh — useful for a companion app or a
// local dashboard running alongside the daemon, never for another node.
package rpc

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/meshledger/core/internal/node"
	"github.com/meshledger/core/pkg/logging"
)

// Server is the operator HTTP API.
type Server struct {
	node *node.Node
	log  *logging.Logger

	router   chi.Router
	server   *http.Server
	listener net.Listener
}

// NewServer builds a Server bound to n. Call Start to begin listening.
func NewServer(n *node.Node) *Server {
	s := &Server{
		node: n,
		log:  logging.GetDefault().Component("rpc"),
	}
	s.router = s.newRouter()
	return s
}

func (s *Server) newRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Post("/entries", s.handleSubmitEntry)
		r.Get("/utxos/{hash}", s.handleGetUTXO)
		r.Get("/peers", s.handleListPeers)
		r.Post("/peers", s.handleUpsertPeer)
		r.Post("/mesh/send", s.handleMeshSend)
		r.Get("/mesh/messages/{id}", s.handleMeshState)
	})

	return r
}

// Start begins listening on addr in the background.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = listener
	s.server = &http.Server{
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.log.Error("rpc server error", "err", err)
		}
	}()

	s.log.Info("rpc server started", "addr", addr)
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
