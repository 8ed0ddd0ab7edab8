// Package dashboard is the password-protected web adapter. It serves a single
// polling page and a JSON API over the same operations the chat bot exposes.
package dashboard

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/bdrman/bdrman/pkg/audit"
	"github.com/bdrman/bdrman/pkg/logger"
	"github.com/bdrman/bdrman/pkg/ops"
	"github.com/bdrman/bdrman/pkg/ratelimit"
)

//go:embed static
var staticFiles embed.FS

const statsInterval = 5 * time.Second

type History interface {
	Recent(ctx context.Context, limit int) ([]audit.Event, error)
}

type Options struct {
	// Password is WEB_PASSWORD; a bcrypt hash ("$2...") is compared as such.
	Password string
	// SessionSecret keys the session cookie. Empty means a random key, so
	// sessions do not survive a restart.
	SessionSecret string
	ServerName    string
	Ops           *ops.Ops
	History       History
	Recorder      audit.Recorder
	Login         ratelimit.Config
}

type Server struct {
	password   string
	serverName string
	ops        *ops.Ops
	history    History
	recorder   audit.Recorder
	sessions   *sessionCodec
	limiter    *ratelimit.Limiter
	broker     *statsBroker
	router     *mux.Router
}

func New(opts Options) (*Server, error) {
	if opts.Password == "" {
		return nil, errors.New("dashboard: password is required")
	}
	if opts.Ops == nil {
		return nil, errors.New("dashboard: ops is required")
	}

	sessions, err := newSessionCodec(opts.SessionSecret)
	if err != nil {
		return nil, err
	}
	if opts.Login.PerMinute == 0 && opts.Login.Burst == 0 {
		opts.Login = ratelimit.DefaultLoginConfig()
	}

	s := &Server{
		password:   opts.Password,
		serverName: opts.ServerName,
		ops:        opts.Ops,
		history:    opts.History,
		recorder:   opts.Recorder,
		sessions:   sessions,
		limiter:    ratelimit.NewLimiter(opts.Login),
		broker:     newStatsBroker(),
	}
	if s.recorder == nil {
		s.recorder = audit.Nop{}
	}
	if err := s.routes(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() error {
	r := mux.NewRouter()

	staticFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		return fmt.Errorf("dashboard: static files: %w", err)
	}
	r.PathPrefix("/static/").Handler(http.StripPrefix("/static/", http.FileServer(http.FS(staticFS))))

	r.HandleFunc("/login", s.loginPage).Methods(http.MethodGet)
	r.HandleFunc("/login", s.loginHandler).Methods(http.MethodPost)
	r.HandleFunc("/logout", s.logoutHandler).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/", s.requirePage(s.indexPage)).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.requireAPI)
	api.HandleFunc("/stats", s.statsHandler).Methods(http.MethodGet)
	api.Handle("/events", s.broker).Methods(http.MethodGet)
	api.HandleFunc("/containers", s.containersHandler).Methods(http.MethodGet)
	api.HandleFunc("/docker/{action}/{name}", s.dockerActionHandler).Methods(http.MethodPost)
	api.HandleFunc("/services", s.servicesHandler).Methods(http.MethodGet)
	api.HandleFunc("/services/{action}/{name}", s.serviceActionHandler).Methods(http.MethodPost)
	api.HandleFunc("/firewall", s.firewallHandler).Methods(http.MethodGet)
	api.HandleFunc("/backups", s.backupsHandler).Methods(http.MethodGet)
	api.HandleFunc("/backups", s.createBackupHandler).Methods(http.MethodPost)
	api.HandleFunc("/backups/{file}", s.downloadBackupHandler).Methods(http.MethodGet)
	api.HandleFunc("/logs", s.logsHandler).Methods(http.MethodGet)
	api.HandleFunc("/command", s.commandHandler).Methods(http.MethodPost)
	api.HandleFunc("/history", s.historyHandler).Methods(http.MethodGet)
	// Unmatched API paths still answer 401 before anything else.
	api.NotFoundHandler = s.requireAPI(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		jsonError(w, "not found", http.StatusNotFound)
	}))
	api.MethodNotAllowedHandler = s.requireAPI(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
	}))

	s.router = r
	return nil
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go s.pollStats(ctx)
	go s.cleanupLimiter(ctx)

	errCh := make(chan error, 1)
	go func() {
		logger.InfoCF("dashboard", "Dashboard listening", map[string]any{"addr": addr})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		logger.InfoC("dashboard", "Shutting down dashboard")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// pollStats publishes host stats to SSE subscribers while any are connected.
func (s *Server) pollStats(ctx context.Context) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if s.broker.clientCount() == 0 {
			continue
		}
		stats, err := s.ops.Stats(ctx)
		if err != nil {
			logger.WarnCF("dashboard", "Stats collection failed", map[string]any{"error": err.Error()})
			continue
		}
		if err := s.broker.publish(stats); err != nil {
			logger.WarnCF("dashboard", "Failed to publish stats", map[string]any{"error": err.Error()})
		}
	}
}

func (s *Server) cleanupLimiter(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.limiter.Cleanup(time.Hour)
		}
	}
}

func (s *Server) indexPage(w http.ResponseWriter, _ *http.Request) {
	indexHTML, err := staticFiles.ReadFile("static/index.html")
	if err != nil {
		http.Error(w, "index.html not found", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(indexHTML)
}
