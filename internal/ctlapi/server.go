package ctlapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/plexsphere/myfw/internal/filter"
)

const (
	// socketMode restricts the control socket to its owner.
	socketMode = 0o600

	// groupSocketMode opens the socket to Config.SocketGroup.
	groupSocketMode = 0o660
)

// Server is the control API server. It serves HTTP over a Unix socket.
type Server struct {
	cfg     Config
	handler *Handler
	logger  *slog.Logger
}

// NewServer creates a new Server. Config defaults are applied automatically.
// queue and gatherer may be nil.
func NewServer(cfg Config, f *filter.Filter, queue StatsSource, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:     cfg,
		handler: NewHandler(f, cfg, queue, gatherer, logger),
		logger:  logger.With("component", "ctlapi"),
	}
}

// Start listens on the Unix socket and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if err := s.cfg.Validate(); err != nil {
		return err
	}

	// Remove stale socket.
	os.Remove(s.cfg.SocketPath)

	if dir := filepath.Dir(s.cfg.SocketPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("ctlapi: create socket dir: %w", err)
		}
	}

	ln, err := net.Listen("unix", s.cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("ctlapi: listen unix %s: %w", s.cfg.SocketPath, err)
	}
	if err := s.setSocketPermissions(); err != nil {
		s.logger.Warn("failed to set socket permissions", "error", err)
	}

	srv := &http.Server{
		Handler:     s.handler.Mux(),
		ConnContext: withPeerCredentials,
	}

	s.logger.Info("server started", "socket", s.cfg.SocketPath)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("unix server error", "error", err)
		}
	}()

	<-ctx.Done()

	s.logger.Info("server shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("graceful shutdown incomplete", "error", err)
	}

	os.Remove(s.cfg.SocketPath)
	wg.Wait()

	s.logger.Info("server stopped")
	return ctx.Err()
}

// setSocketPermissions restricts the socket to its owner, or to its owner
// and SocketGroup when one is configured. A group missing from the host
// leaves the socket owner-only.
func (s *Server) setSocketPermissions() error {
	if s.cfg.SocketGroup == "" {
		return os.Chmod(s.cfg.SocketPath, socketMode)
	}

	grp, err := user.LookupGroup(s.cfg.SocketGroup)
	if err != nil {
		s.logger.Warn("socket group not found, socket stays owner-only",
			"group", s.cfg.SocketGroup,
			"error", err,
		)
		return os.Chmod(s.cfg.SocketPath, socketMode)
	}
	gid, err := strconv.Atoi(grp.Gid)
	if err != nil {
		return fmt.Errorf("ctlapi: parse gid %q: %w", grp.Gid, err)
	}
	if err := os.Chown(s.cfg.SocketPath, -1, gid); err != nil {
		return fmt.Errorf("ctlapi: chown socket: %w", err)
	}
	return os.Chmod(s.cfg.SocketPath, groupSocketMode)
}
