package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"horse.fit/flashpoint/internal/escalation"
	"horse.fit/flashpoint/internal/globaltime"
	"horse.fit/flashpoint/internal/model"
	"horse.fit/flashpoint/internal/pipeline"
	"horse.fit/flashpoint/internal/resolve"
	payloadschema "horse.fit/flashpoint/schema"
)

const (
	defaultPageSize = 25
	maxPageSize     = 200
	maxBatchSize    = 1000
	maxBodyLimit    = "16M"
)

type Options struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// EventStore is the read side the API lists events from.
type EventStore interface {
	Ping(ctx context.Context) error
	ListEvents(ctx context.Context, f model.EventFilter) ([]model.Event, error)
	GetEventByUUID(ctx context.Context, eventUUID string) (model.Event, error)
}

type BatchRunner interface {
	RunBatch(ctx context.Context, articles []model.Article, opts pipeline.RunOptions) (pipeline.BatchReport, error)
}

type RegionSource interface {
	Snapshot() []escalation.Region
}

// Dependencies of the API. Runner, Regions and Metrics are optional; their routes answer 503 when
// unset.
type Dependencies struct {
	Events  EventStore
	Runner  BatchRunner
	Regions RegionSource
	Metrics http.Handler
}

type Server struct {
	deps   Dependencies
	logger zerolog.Logger
	opts   Options
}

type batchRequest struct {
	Source   string            `json:"source"`
	DryRun   bool              `json:"dry_run"`
	Articles []json.RawMessage `json:"articles"`
}

func NewServer(deps Dependencies, logger zerolog.Logger, opts Options) *Server {
	host := strings.TrimSpace(opts.Host)
	if host == "" {
		host = "0.0.0.0"
	}
	port := opts.Port
	if port <= 0 {
		port = 8090
	}
	readTimeout := opts.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 10 * time.Second
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Minute
	}
	shutdownTimeout := opts.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}

	return &Server{
		deps:   deps,
		logger: logger,
		opts: Options{
			Host:            host,
			Port:            port,
			ReadTimeout:     readTimeout,
			WriteTimeout:    writeTimeout,
			ShutdownTimeout: shutdownTimeout,
		},
	}
}

// Echo builds the router with every route and middleware.
func (s *Server) Echo() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.httpErrorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.BodyLimit(maxBodyLimit))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept"},
		MaxAge:       3600,
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				s.logger.Error().
					Err(v.Error).
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Str("request_id", v.RequestID).
					Msg("http request failed")
				return nil
			}

			s.logger.Info().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("remote_ip", v.RemoteIP).
				Str("request_id", v.RequestID).
				Msg("http request")
			return nil
		},
	}))

	if s.deps.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(s.deps.Metrics))
	}

	api := e.Group("/api/v1")
	api.GET("/health", s.handleHealth)
	api.POST("/batches", s.handleBatch)
	api.GET("/events", s.handleEvents)
	api.GET("/events/:event_uuid", s.handleEventDetail)
	api.GET("/regions", s.handleRegions)
	return e
}

func (s *Server) Start(ctx context.Context) error {
	if s == nil || s.deps.Events == nil {
		return fmt.Errorf("server is not initialized")
	}

	e := s.Echo()
	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      e,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if shutdownErr := e.Shutdown(shutdownCtx); shutdownErr != nil {
			s.logger.Error().Err(shutdownErr).Msg("server shutdown failed")
		}
	}()

	s.logger.Info().Str("addr", addr).Msg("flashpoint api server started")

	if err := e.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start server: %w", err)
	}
	s.logger.Info().Msg("flashpoint api server stopped")
	return nil
}

func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	message := "Internal server error"
	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		switch v := he.Message.(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				message = v
			}
		default:
			if text := strings.TrimSpace(http.StatusText(status)); text != "" {
				message = text
			}
		}
	} else if err != nil {
		message = err.Error()
	}

	if strings.HasPrefix(c.Request().URL.Path, "/api/") {
		if status >= 500 {
			_ = internalError(c, "Internal server error")
			return
		}
		_ = fail(c, status, message, nil)
		return
	}

	_ = c.String(status, message)
}

func (s *Server) handleHealth(c echo.Context) error {
	status := "ok"
	if err := s.deps.Events.Ping(c.Request().Context()); err != nil {
		s.logger.Warn().Err(err).Msg("store ping failed")
		return failUnavailable(c, "Store unavailable", map[string]any{
			"service": "flashpoint",
			"store":   "unavailable",
		})
	}
	return success(c, map[string]any{
		"service": "flashpoint",
		"store":   status,
		"time":    globaltime.UTC(),
	})
}

func (s *Server) handleBatch(c echo.Context) error {
	if s.deps.Runner == nil {
		return failUnavailable(c, "Batch submission is disabled", nil)
	}

	var req batchRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return failValidation(c, map[string]string{"body": "must be a JSON object with an articles array"})
	}
	if len(req.Articles) == 0 {
		return failValidation(c, map[string]string{"articles": "must contain at least one article"})
	}
	if len(req.Articles) > maxBatchSize {
		return failValidation(c, map[string]string{"articles": fmt.Sprintf("must contain at most %d articles", maxBatchSize)})
	}

	articles := make([]model.Article, 0, len(req.Articles))
	fieldErrors := map[string]string{}
	for i, raw := range req.Articles {
		item, err := payloadschema.ValidateArticlePayload(raw)
		if err != nil {
			fieldErrors[fmt.Sprintf("articles[%d]", i)] = err.Error()
			continue
		}
		articles = append(articles, item.Article())
	}
	if len(fieldErrors) > 0 {
		return failValidation(c, fieldErrors)
	}

	source := strings.TrimSpace(req.Source)
	if source == "" {
		source = "api"
	}
	report, err := s.deps.Runner.RunBatch(c.Request().Context(), articles, pipeline.RunOptions{
		Source: source,
		DryRun: req.DryRun,
	})
	if err != nil {
		if resolve.IsFatalConfiguration(err) {
			s.logger.Error().Err(err).Msg("batch rejected by pipeline configuration")
			return internalError(c, "Pipeline is misconfigured")
		}
		s.logger.Error().Err(err).Msg("batch run failed")
		return internalError(c, "Batch run failed")
	}
	return created(c, report)
}

func (s *Server) handleEvents(c echo.Context) error {
	limit, err := parsePositiveInt(c.QueryParam("limit"), defaultPageSize, 1, maxPageSize)
	if err != nil {
		return failValidation(c, map[string]string{"limit": err.Error()})
	}
	offset, err := parsePositiveInt(c.QueryParam("offset"), 0, 0, 1_000_000)
	if err != nil {
		return failValidation(c, map[string]string{"offset": err.Error()})
	}
	since, err := parseTimeFilter(c.QueryParam("since"), false)
	if err != nil {
		return failValidation(c, map[string]string{"since": err.Error()})
	}
	minEscalation, err := parseEscalation(c.QueryParam("min_escalation"))
	if err != nil {
		return failValidation(c, map[string]string{"min_escalation": err.Error()})
	}
	status := strings.TrimSpace(strings.ToLower(c.QueryParam("status")))
	if status != "" && status != model.EventStatusActive && status != model.EventStatusResolved {
		return failValidation(c, map[string]string{"status": "must be active or resolved"})
	}

	filter := model.EventFilter{
		Country:       strings.TrimSpace(c.QueryParam("country")),
		Status:        status,
		Since:         since,
		MinEscalation: minEscalation,
		Limit:         limit,
		Offset:        offset,
	}
	events, err := s.deps.Events.ListEvents(c.Request().Context(), filter)
	if err != nil {
		s.logger.Error().Err(err).Msg("list events failed")
		return internalError(c, "Failed to load events")
	}
	return success(c, newPage(events, limit, offset))
}

func (s *Server) handleEventDetail(c echo.Context) error {
	eventUUID := strings.TrimSpace(c.Param("event_uuid"))
	if eventUUID == "" {
		return failValidation(c, map[string]string{"event_uuid": "is required"})
	}

	event, err := s.deps.Events.GetEventByUUID(c.Request().Context(), eventUUID)
	if err != nil {
		if errors.Is(err, resolve.ErrEventNotFound) {
			return failNotFound(c, "Event not found")
		}
		s.logger.Error().Err(err).Str("event_uuid", eventUUID).Msg("get event failed")
		return internalError(c, "Failed to load event")
	}
	return success(c, event)
}

func (s *Server) handleRegions(c echo.Context) error {
	if s.deps.Regions == nil {
		return failUnavailable(c, "Escalation aggregation is disabled", nil)
	}
	return success(c, newPage(s.deps.Regions.Snapshot(), 0, 0))
}

func parsePositiveInt(raw string, defaultValue, minValue, maxValue int) (int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return defaultValue, nil
	}

	value, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, fmt.Errorf("must be an integer")
	}
	if value < minValue || value > maxValue {
		return 0, fmt.Errorf("must be between %d and %d", minValue, maxValue)
	}
	return value, nil
}

func parseEscalation(raw string) (float64, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, nil
	}
	value, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return 0, fmt.Errorf("must be a number")
	}
	if value < 0 || value > model.MaxEscalation {
		return 0, fmt.Errorf("must be between 0 and %g", model.MaxEscalation)
	}
	return value, nil
}

func parseTimeFilter(raw string, endOfDay bool) (*time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, nil
	}

	if ts, err := time.Parse(time.RFC3339, trimmed); err == nil {
		utc := ts.UTC()
		return &utc, nil
	}

	if day, err := time.Parse("2006-01-02", trimmed); err == nil {
		utc := day.UTC()
		if endOfDay {
			utc = utc.Add((24 * time.Hour) - time.Nanosecond)
		}
		return &utc, nil
	}

	return nil, fmt.Errorf("invalid time format")
}
