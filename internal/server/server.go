// Package server exposes the three HTTP surfaces: the admin UI for
// building forms and browsing submissions, the public form pages, and the
// JSON API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"formsmith/internal/config"
	"formsmith/internal/store"
	"formsmith/internal/webhook"
)

// Server wires storage, webhooks, and the route tree.
type Server struct {
	cfg      *config.Config
	storage  store.Storage
	logger   *zap.Logger
	webhooks *webhook.Sender
	router   *gin.Engine
}

// New builds the server and registers all routes.
func New(cfg *config.Config, storage store.Storage, logger *zap.Logger) (*Server, error) {
	if err := os.MkdirAll(cfg.Uploads.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload directory: %w", err)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(requestLogger(logger), recovery(logger))
	router.MaxMultipartMemory = cfg.Uploads.MaxBytes

	s := &Server{
		cfg:      cfg,
		storage:  storage,
		logger:   logger,
		webhooks: webhook.NewSender(logger),
		router:   router,
	}
	if err := s.registerTemplates(); err != nil {
		return nil, err
	}
	s.registerRoutes()
	return s, nil
}

// Handler exposes the route tree, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Public surface: no auth.
	s.router.GET("/f/:public_id", s.publicForm)
	s.router.POST("/f/:public_id", s.submitPublicForm)
	s.router.GET("/files/:file_id", s.downloadFile)

	admin := s.router.Group("/")
	if s.cfg.Auth.Mode == config.AuthBasic {
		admin.Use(gin.BasicAuth(gin.Accounts{s.cfg.Auth.Username: s.cfg.Auth.Password}))
	}
	admin.GET("/", func(c *gin.Context) {
		c.Redirect(http.StatusFound, "/admin/forms")
	})
	admin.GET("/admin/forms", s.listForms)
	admin.POST("/admin/forms", s.createForm)
	// "new" is resolved inside the :form_id handlers; gin rejects a
	// static sibling of a param segment.
	admin.GET("/admin/forms/:form_id", s.editForm)
	admin.POST("/admin/forms/:form_id", s.updateForm)
	admin.POST("/admin/forms/:form_id/publish", s.publishForm)
	admin.POST("/admin/forms/:form_id/stop", s.stopForm)
	admin.POST("/admin/forms/:form_id/delete", s.deleteForm)
	admin.GET("/admin/forms/:form_id/submissions", s.listSubmissions)
	admin.GET("/admin/forms/:form_id/submissions/:submission_id/edit", s.editSubmission)
	admin.POST("/admin/forms/:form_id/submissions/:submission_id/edit", s.updateSubmission)
	admin.POST("/admin/forms/:form_id/submissions/:submission_id/delete", s.deleteSubmission)
	admin.GET("/admin/forms/:form_id/export", s.exportSubmissions)

	api := s.router.Group("/api")
	if s.cfg.Auth.Mode == config.AuthBasic {
		api.Use(gin.BasicAuth(gin.Accounts{s.cfg.Auth.Username: s.cfg.Auth.Password}))
	}
	api.GET("/forms", s.apiListForms)
	api.POST("/forms", s.apiCreateForm)
	api.PUT("/forms/:form_id", s.apiUpdateForm)
	api.GET("/forms/:form_id/submissions", s.apiListSubmissions)
	api.GET("/forms/:form_id/export", s.apiExportSubmissions)
	api.POST("/public/forms/:public_id/submissions", s.apiSubmitForm)
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
