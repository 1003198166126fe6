package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/accountabilityatlas/warden/moderation"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	slogecho "github.com/samber/slog-echo"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
)

type pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	workflow *moderation.Workflow
	reports  *moderation.ReportWorkflow
	db       pinger
	auth     *TokenValidator
	echo     *echo.Echo
	httpd    *http.Server
	logger   *slog.Logger
}

type Config struct {
	Logger    *slog.Logger
	Bind      string
	JWTSecret string
	JWTIssuer string
}

func NewServer(workflow *moderation.Workflow, reports *moderation.ReportWorkflow, db pinger, config Config) *Server {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	e := echo.New()

	// httpd
	var (
		httpTimeout        = 1 * time.Minute
		httpMaxHeaderBytes = 1 * (1024 * 1024)
	)

	srv := &Server{
		workflow: workflow,
		reports:  reports,
		db:       db,
		auth: &TokenValidator{
			Secret: []byte(config.JWTSecret),
			Issuer: config.JWTIssuer,
			Leeway: 30 * time.Second,
		},
		echo:   e,
		logger: logger,
	}
	srv.httpd = &http.Server{
		Handler:        srv,
		Addr:           config.Bind,
		WriteTimeout:   httpTimeout,
		ReadTimeout:    httpTimeout,
		MaxHeaderBytes: httpMaxHeaderBytes,
	}

	e.HideBanner = true
	e.Use(slogecho.New(logger))
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("4M"))
	e.Use(otelecho.Middleware("warden"))
	e.Use(requestMetrics)
	e.HTTPErrorHandler = srv.errorHandler
	e.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "SAMEORIGIN",
		HSTSMaxAge:         31536000, // 365 days
	}))

	e.GET("/_health", srv.HandleHealthCheck)

	staff := srv.requireAuth(moderation.RoleModerator, moderation.RoleAdmin)

	queue := e.Group("/moderation/queue", staff)
	queue.GET("", srv.HandleGetQueue)
	queue.GET("/stats", srv.HandleGetQueueStats)
	queue.GET("/by-content/:contentId", srv.HandleFindByContentID)
	queue.GET("/:id", srv.HandleGetItem)
	queue.POST("/:id/approve", srv.HandleApprove)
	queue.POST("/:id/reject", srv.HandleReject)
	queue.PUT("/:id/content", srv.HandleUpdateContent)
	queue.POST("/:id/locations", srv.HandleAddLocation)
	queue.DELETE("/:id/locations/:locationId", srv.HandleRemoveLocation)

	reportsGroup := e.Group("/moderation/reports")
	reportsGroup.POST("", srv.HandleSubmitReport, srv.requireAuth())
	reportsGroup.GET("", srv.HandleListReports, staff)
	reportsGroup.GET("/:id", srv.HandleGetReport, staff)
	reportsGroup.POST("/:id/resolve", srv.HandleResolveReport, staff)
	reportsGroup.POST("/:id/dismiss", srv.HandleDismissReport, staff)

	return srv
}

func (srv *Server) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	srv.echo.ServeHTTP(rw, req)
}

// Serves the API until ctx is cancelled, then shuts down gracefully.
func (srv *Server) RunAPI(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		if err := srv.Shutdown(); err != nil {
			srv.logger.Error("HTTP server shutdown error", "err", err)
		}
	}()

	srv.logger.Info("starting server", "bind", srv.httpd.Addr)
	if err := srv.httpd.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server shutting down unexpectedly: %w", err)
	}
	return nil
}

func (srv *Server) Shutdown() error {
	srv.logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.httpd.Shutdown(ctx)
}

type GenericError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type GenericStatus struct {
	Daemon  string `json:"daemon"`
	Status  string `json:"status"`
	Message string `json:"msg,omitempty"`
}

// Maps workflow errors to a status code and error code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, moderation.ErrNotFound):
		return http.StatusNotFound, "NotFound"
	case errors.Is(err, moderation.ErrAlreadyReviewed):
		return http.StatusConflict, "AlreadyReviewed"
	case errors.Is(err, moderation.ErrStatusNotAllowed):
		return http.StatusForbidden, "StatusNotAllowed"
	case errors.Is(err, moderation.ErrValidation):
		return http.StatusBadRequest, "InvalidRequest"
	case errors.Is(err, moderation.ErrUpstream):
		return http.StatusBadGateway, "UpstreamError"
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		switch he.Code {
		case http.StatusUnauthorized:
			return he.Code, "Unauthorized"
		case http.StatusForbidden:
			return he.Code, "Forbidden"
		case http.StatusNotFound:
			return he.Code, "NotFound"
		case http.StatusMethodNotAllowed:
			return he.Code, "MethodNotAllowed"
		case http.StatusRequestEntityTooLarge:
			return he.Code, "PayloadTooLarge"
		}
		if he.Code < 500 {
			return he.Code, "InvalidRequest"
		}
		return he.Code, "InternalError"
	}
	return http.StatusInternalServerError, "InternalError"
}

func (srv *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code, name := errorStatus(err)

	msg := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg = fmt.Sprintf("%v", he.Message)
	}
	if code >= 500 {
		srv.logger.Warn("warden-http-internal-error", "err", err, "path", c.Path())
		if code == http.StatusInternalServerError {
			msg = "internal error"
		}
	}
	if err := c.JSON(code, GenericError{Error: name, Message: msg}); err != nil {
		srv.logger.Error("writing error response", "err", err)
	}
}

func (srv *Server) HandleHealthCheck(c echo.Context) error {
	if err := srv.db.Ping(c.Request().Context()); err != nil {
		srv.logger.Error("health check failed", "err", err)
		return c.JSON(http.StatusServiceUnavailable, GenericStatus{Status: "error", Daemon: "warden", Message: "database unavailable"})
	}
	return c.JSON(http.StatusOK, GenericStatus{Status: "ok", Daemon: "warden"})
}
