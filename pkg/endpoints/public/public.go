// Package public provides the HTTP API for next-to-go clients.
package public

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/cors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/mpapenbr/nexttogo-service-go/log"
	"github.com/mpapenbr/nexttogo-service-go/pkg/model"
	"github.com/mpapenbr/nexttogo-service-go/pkg/service"
	"github.com/mpapenbr/nexttogo-service-go/pkg/utils/broadcast"
	"github.com/mpapenbr/nexttogo-service-go/version"
)

// Service is the view state provider used by the endpoints.
type Service interface {
	State() service.ViewState
	Watch() broadcast.BroadcastServer[service.ViewState]
	Retry() error
	ToggleCategory(c model.RacingCategory) error
}

type CategoryInfo struct {
	Name     string `json:"name"`
	ID       string `json:"id"`
	Selected bool   `json:"selected"`
}

type (
	Server struct {
		svc       Service
		echo      *echo.Echo
		log       *log.Logger
		heartbeat time.Duration
		tlsConfig *tls.Config
		server    *http.Server
	}
	Option func(*Server)
)

func WithLogger(l *log.Logger) Option {
	return func(s *Server) {
		s.log = l
	}
}

// WithHeartbeat sets the interval of keep-alive comments on event streams.
func WithHeartbeat(d time.Duration) Option {
	return func(s *Server) {
		s.heartbeat = d
	}
}

// WithTLSConfig serves HTTPS using cfg instead of cleartext h2c.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(s *Server) {
		s.tlsConfig = cfg
	}
}

func NewServer(svc Service, opts ...Option) *Server {
	s := &Server{
		svc:       svc,
		echo:      echo.New(),
		log:       log.Default().Named("http"),
		heartbeat: 15 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Use(echomw.RequestIDWithConfig(echomw.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	s.echo.Use(echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogError:     true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			fields := []log.Field{
				log.Int("status", v.Status),
				log.String("method", v.Method),
				log.String("uri", v.URI),
				log.String("id", v.RequestID),
			}
			if v.Error != nil {
				fields = append(fields, log.ErrorField(v.Error))
			}
			switch {
			case v.Status >= 500:
				s.log.Error("http request", fields...)
			case v.Status >= 400:
				s.log.Warn("http request", fields...)
			default:
				s.log.Debug("http request", fields...)
			}
			return nil
		},
	}))
	s.echo.Use(echomw.Recover())

	s.echo.GET("/healthz", s.health)
	api := s.echo.Group("/api/v1")
	api.GET("/races/next", s.nextRaces)
	api.GET("/races/stream", s.stream)
	api.GET("/categories", s.categories)
	api.POST("/categories/:category/toggle", s.toggle)
	api.POST("/retry", s.retry)
	return s
}

// Handler returns the complete handler including CORS and h2c support.
func (s *Server) Handler() http.Handler {
	return h2c.NewHandler(newCORS().Handler(s.echo), &http2.Server{})
}

// Start serves on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	var err error
	if s.tlsConfig != nil {
		s.server.TLSConfig = s.tlsConfig
		s.log.Info("Starting https server", log.String("addr", addr))
		err = s.server.ListenAndServeTLS("", "")
	} else {
		s.log.Info("Starting http server", log.String("addr", addr))
		err = s.server.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Version,
	})
}

func (s *Server) nextRaces(c echo.Context) error {
	return c.JSON(http.StatusOK, s.svc.State())
}

func (s *Server) categories(c echo.Context) error {
	selected := s.svc.State().SelectedCategories
	ret := make([]CategoryInfo, 0, len(model.KnownCategories))
	for _, cat := range model.KnownCategories {
		info := CategoryInfo{Name: cat.String(), ID: cat.ID()}
		for _, sel := range selected {
			if sel == cat {
				info.Selected = true
			}
		}
		ret = append(ret, info)
	}
	return c.JSON(http.StatusOK, ret)
}

func (s *Server) toggle(c echo.Context) error {
	cat, err := model.ParseCategory(c.Param("category"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := s.svc.ToggleCategory(cat); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, s.svc.State())
}

func (s *Server) retry(c echo.Context) error {
	if err := s.svc.Retry(); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, s.svc.State())
}

// stream sends the current state followed by every change as server-sent events.
func (s *Server) stream(c echo.Context) error {
	states := s.svc.Watch().Subscribe()
	defer s.svc.Watch().CancelSubscription(states)

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeEvent(w, s.svc.State()); err != nil {
		return nil
	}
	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case <-c.Request().Context().Done():
			return nil
		case state, ok := <-states:
			if !ok {
				return nil
			}
			if err := writeEvent(w, state); err != nil {
				s.log.Debug("stream closed", log.ErrorField(err))
				return nil
			}
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return nil
			}
			w.Flush()
		}
	}
}

func writeEvent(w *echo.Response, state service.ViewState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: state\ndata: %s\n\n", data); err != nil {
		return err
	}
	w.Flush()
	return nil
}

func newCORS() *cors.Cors {
	return cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
		},
		AllowOriginFunc: func(origin string) bool {
			return true
		},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{echo.HeaderXRequestID},
		MaxAge:         int(2 * time.Hour / time.Second),
	})
}
