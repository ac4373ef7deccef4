package main

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/CTAG07/Ulysse/pkg/database"
	"github.com/CTAG07/Ulysse/pkg/dispatch"
	"github.com/CTAG07/Ulysse/pkg/i18n"
	"github.com/CTAG07/Ulysse/pkg/pages"
	"github.com/CTAG07/Ulysse/pkg/reqctx"
	"github.com/CTAG07/Ulysse/pkg/settings"
	"github.com/CTAG07/Ulysse/pkg/templating"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/yuin/goldmark"
)

const (
	actionShutdown = "shutdown"
	actionRestart  = "restart"
)

const maxPreviewSize = 1 << 20

// VersionInfo defines the structure for build/version information.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
}

// Server wires the site components behind a chi router.
type Server struct {
	config     *ServerConfig
	logger     *slog.Logger
	db         *sql.DB
	settings   *settings.Store
	pages      *pages.Registry
	tm         *templating.TemplateManager
	bundle     *i18n.Bundle
	dispatcher *dispatch.Dispatcher
	actionChan chan string
	router     chi.Router
}

// NewServer loads the site configuration and builds the HTTP handler. When the
// configuration directory is missing, the server only answers with the
// installation page.
func NewServer(ctx context.Context, config *ServerConfig, logger *slog.Logger, actionChan chan string) (*Server, error) {
	s := &Server{
		config:     config,
		logger:     logger,
		actionChan: actionChan,
		router:     chi.NewRouter(),
	}
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.logRequests)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Compress(5))
	s.router.Get("/healthz", handleHealthCheck)

	if !configInstalled(config) {
		logger.Warn("Configuration directory not found, serving the installation page", "config_dir", config.ConfigDir)
		s.router.Handle("/*", installHandler(config, logger))
		return s, nil
	}

	s.settings = settings.NewStore(logger, settings.FileLoader(config.SiteFile("settings.yaml"), config.SiteFile("settings.local.yaml")))
	s.bundle = i18n.NewBundle(logger, config.SiteFile("translations.yaml"), s.settings)

	db, err := database.Open(ctx, logger, s.settings.Map(settings.KeyDatabase))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	s.db = db
	bootstrap := map[string]any{}
	if db != nil {
		if err = setupContentSchema(db); err != nil {
			logger.Error("Failed to setup content schema", "error", err)
		}
		bootstrap[reqctx.KeyDB] = db
	}

	source := pages.FileSource{
		Path:       config.SiteFile("pages.yaml"),
		Producers:  builtinProducers(s.bundle),
		Translator: s.bundle,
		Markdown:   goldmark.New(),
	}
	s.pages = pages.NewRegistry(logger, source.Load)
	if err = s.pages.Load(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to load pages: %w", err)
	}

	s.tm = templating.NewTemplateManager(logger, s.settings)
	s.dispatcher = dispatch.New(logger, s.settings, s.pages, s.tm,
		dispatch.WithScriptPath(config.ScriptPath),
		dispatch.WithBootstrap(bootstrap),
		dispatch.WithTranslations(s.bundle),
	)
	s.tm.SetRequestFuncs(s.dispatcher.RequestFuncs)

	if config.DevMode {
		if err = s.tm.Watch(ctx, ""); err != nil {
			logger.Warn("Template hot reload disabled", "error", err)
		}
	}

	if config.AdminToken != "" {
		s.router.Route("/_ulysse/api", func(r chi.Router) {
			r.Use(s.authenticate)
			r.Get("/version", handleVersion)
			r.Post("/templates/refresh", s.handleRefresh)
			r.Post("/templates/preview", s.handlePreview)
			r.Post("/restart", s.handleAction(actionRestart))
			r.Post("/shutdown", s.handleAction(actionShutdown))
		})
	}
	s.router.Handle("/*", s.dispatcher)
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close releases the database handle.
func (s *Server) Close() {
	if s.db == nil {
		return
	}
	s.logger.Info("Closing database connection.")
	if err := s.db.Close(); err != nil {
		s.logger.Error("Failed to close database", "error", err)
	}
	s.db = nil
}

// logRequests emits one structured log line per request.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("request",
			"method", r.Method,
			"uri", r.RequestURI,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"remote_ip", r.RemoteAddr,
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// authenticate requires "Authorization: Bearer <admin_token>".
func (s *Server) authenticate(next http.Handler) http.Handler {
	want := hashToken(s.config.AdminToken)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare(hashToken(token), want) != 1 {
			respondWithError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func hashToken(token string) []byte {
	sum := sha256.Sum256([]byte(token))
	return sum[:]
}

func handleHealthCheck(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleVersion returns the application's build information.
func handleVersion(w http.ResponseWriter, _ *http.Request) {
	respondWithJSON(w, http.StatusOK, VersionInfo{
		Version:   Version,
		Commit:    Commit,
		BuildDate: BuildDate,
	})
}

// handleRefresh drops the parsed theme templates so they are read again.
func (s *Server) handleRefresh(w http.ResponseWriter, _ *http.Request) {
	s.tm.Refresh()
	s.logger.Info("Templates refreshed via API")
	w.WriteHeader(http.StatusNoContent)
}

// handlePreview renders the request body as a template string with the theme
// functions, so a theme author can try out a snippet without a page.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	content, err := io.ReadAll(io.LimitReader(r.Body, maxPreviewSize))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Failed to read template")
		return
	}

	var buf bytes.Buffer
	if err = s.tm.ExecuteTemplateString(r.Context(), &buf, string(content), nil); err != nil {
		s.logger.Debug("Template preview failed", "error", err)
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

// handleAction asks the run loop to stop or restart the server.
func (s *Server) handleAction(action string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		s.logger.Warn("Server " + action + " initiated via API")
		respondWithJSON(w, http.StatusAccepted, map[string]string{"message": "Server " + action + " requested"})
		go func() {
			s.actionChan <- action
		}()
	}
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			slog.Default().Error("Failed to encode JSON response", "error", err)
		}
	}
}
