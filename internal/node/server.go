package node

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Server exposes a Node over JSON-RPC
type Server struct {
	node       *Node
	router     *mux.Router
	logger     *zap.Logger
	blockTime  time.Duration
	httpServer *http.Server
	done       chan struct{} // Signal channel for graceful shutdown
	closeOnce  sync.Once     // Ensures Close() is idempotent
	wg         sync.WaitGroup
}

// NewServer wraps n. A positive blockTime starts interval mining.
func NewServer(n *Node, blockTime time.Duration, logger *zap.Logger) *Server {
	s := newServer(n, blockTime, logger)
	if blockTime > 0 {
		s.wg.Add(1)
		go s.blockProducer()
	}
	return s
}

// NewServerForTest creates a server without starting the block producer (for testing)
func NewServerForTest(n *Node, logger *zap.Logger) *Server {
	return newServer(n, 0, logger)
}

func newServer(n *Node, blockTime time.Duration, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		node:      n,
		router:    mux.NewRouter(),
		logger:    logger.Named("rpc"),
		blockTime: blockTime,
		done:      make(chan struct{}),
	}
	s.setupRoutes()
	return s
}

// Router returns the HTTP router for testing
func (s *Server) Router() *mux.Router {
	return s.router
}

// Node returns the served node.
func (s *Server) Node() *Node {
	return s.node
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/", s.handleJSONRPC).Methods("POST")
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	head := s.node.Head()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    "ok",
		"chainId":   s.node.ChainID(),
		"block":     head.Number,
		"timestamp": head.Timestamp,
	})
}

// blockProducer mines a block every blockTime until Close
func (s *Server) blockProducer() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.blockTime)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			s.logger.Debug("block producer stopping")
			return
		case <-ticker.C:
			block, err := s.node.Mine(context.Background(), nil)
			if err != nil {
				s.logger.Warn("failed to produce block", zap.Error(err))
				continue
			}
			s.logger.Debug("produced block",
				zap.Uint64("number", block.Number),
				zap.Int("txs", len(block.TxHashes)))
		}
	}
}

// Start serves on addr until Close or a listener error.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ln)
}

// Serve serves on ln until Close.
func (s *Server) Serve(ln net.Listener) error {
	srv := &http.Server{Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	s.httpServer = srv
	s.logger.Info("dev node listening", zap.String("addr", ln.Addr().String()))

	go func() {
		<-s.done
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close gracefully shuts down the server, stopping the block producer goroutine.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
	s.wg.Wait()
}
