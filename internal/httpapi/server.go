// Package httpapi is the HTTP surface of the service.
package httpapi

import (
	"context"
	"crypto/subtle"
	"net"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hubescolar/whatsapp/internal/config"
	"github.com/hubescolar/whatsapp/internal/fanout"
	"github.com/hubescolar/whatsapp/internal/gateway"
	"github.com/hubescolar/whatsapp/internal/lifecycle"
	"github.com/hubescolar/whatsapp/internal/metrics"
	"github.com/hubescolar/whatsapp/internal/qr"
	"github.com/hubescolar/whatsapp/internal/store"
)

// StatusCounter reports stored messages per status.
type StatusCounter interface {
	CountByStatus(ctx context.Context) (map[store.Status]int, error)
}

// Deps are the services the HTTP surface exposes.
type Deps struct {
	Config   *config.Config
	Sessions *lifecycle.Controller
	Gateway  *gateway.Gateway
	QR       *qr.Provisioner
	Hub      *fanout.Hub
	Stats    StatusCounter
	Logger   *zap.Logger
}

// Server wraps the echo instance.
type Server struct {
	e        *echo.Echo
	cfg      *config.Config
	sessions *lifecycle.Controller
	gateway  *gateway.Gateway
	qr       *qr.Provisioner
	hub      *fanout.Hub
	stats    StatusCounter
	logger   *zap.Logger
	started  time.Time
	qrWait   time.Duration
}

type appValidator struct {
	validate *validator.Validate
}

func (v appValidator) Validate(i any) error {
	return v.validate.Struct(i)
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// New builds the server and registers every route.
func New(d Deps) *Server {
	s := &Server{
		e:        echo.New(),
		cfg:      d.Config,
		sessions: d.Sessions,
		gateway:  d.Gateway,
		qr:       d.QR,
		hub:      d.Hub,
		stats:    d.Stats,
		logger:   d.Logger.Named("http"),
		started:  time.Now(),
		qrWait:   3 * time.Second,
	}
	s.setup()
	return s
}

func (s *Server) setup() {
	e := s.e
	e.HideBanner = true
	e.HidePort = true
	e.Validator = appValidator{validate: newValidator()}
	e.HTTPErrorHandler = s.handleError

	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.RequestID())
	e.Use(s.observe)
	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			s.logger.Error("handler panicked", zap.Error(err), zap.ByteString("stack", stack),
				zap.String("route", c.Path()))
			return err
		},
	}))
	origins := s.cfg.HTTP.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{AllowOrigins: origins}))
	e.Use(middleware.BodyLimit("1M"))

	root := e.Group(strings.TrimSuffix(s.cfg.HTTP.BasePath, "/"))
	root.GET("/status", s.serviceStatus)
	root.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	root.GET("/ws", echo.WrapHandler(http.HandlerFunc(s.hub.ServeWS)))

	auth := root.Group("/auth")
	auth.GET("/qrcode", s.getQRCode)
	auth.GET("/connect", s.connectPage)
	auth.GET("/status", s.authStatus)
	auth.POST("/disconnect", s.disconnect)
	auth.POST("/reset", s.reset)
	auth.GET("/sessions", s.listSessions)

	msgs := root.Group("/messages")
	if token := s.cfg.HTTP.APIToken; token != "" {
		msgs.Use(middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
			KeyLookup:  "header:" + echo.HeaderAuthorization,
			AuthScheme: "Bearer",
			Validator: func(key string, _ echo.Context) (bool, error) {
				return subtle.ConstantTimeCompare([]byte(key), []byte(token)) == 1, nil
			},
		}))
	}
	msgs.POST("/send", s.sendMessage)
	msgs.POST("/send/bulk", s.sendBulk)
	msgs.GET("", s.listMessages)
	msgs.GET("/status", s.serviceStatus)
	msgs.GET("/status/:messageId", s.messageStatus)
	msgs.POST("/status/batch", s.batchStatus)
}

// observe records metrics and an access log line for every request. It
// runs the error handler itself so the final status code is known.
func (s *Server) observe(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		if err := next(c); err != nil {
			c.Error(err)
		}
		took := time.Since(start)
		req, res := c.Request(), c.Response()
		route := c.Path()
		if route == "" {
			route = "unmatched"
		}
		metrics.ObserveHTTP(req.Method, route, res.Status, took)

		fields := []zap.Field{
			zap.String("method", req.Method),
			zap.String("uri", req.RequestURI),
			zap.Int("status", res.Status),
			zap.Duration("latency", took),
			zap.String("request_id", res.Header().Get(echo.HeaderXRequestID)),
			zap.String("remote_ip", c.RealIP()),
		}
		switch {
		case res.Status >= 500:
			s.logger.Error("request failed", fields...)
		case strings.HasSuffix(route, "/metrics"):
			s.logger.Debug("request", fields...)
		default:
			s.logger.Info("request", fields...)
		}
		return nil
	}
}

// Serve accepts connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.e.Listener = ln
	return s.e.Start("")
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.e.Shutdown(ctx)
}

// ServeHTTP lets tests drive the server without a listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.e.ServeHTTP(w, r)
}
