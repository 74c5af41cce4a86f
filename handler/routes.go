package handler

import (
	"crypto/subtle"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aidarkhanov/nanoid"
	"github.com/labstack/echo/v4"
	emw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"echochat/internal/metrics"
	"echochat/internal/usecase"
)

const (
	requestIDAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	maxBodyBytes      = 1 << 20
)

// Register mounts the chat and health routes on e.
func Register(e *echo.Echo, h *Handler) {
	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	// Route-level middleware keeps echo's 405 for other methods on ChatPath.
	e.POST(ChatPath, h.serveChat, NewRecoverMiddleware(h.log), NewTrackMiddleware(h.log))
}

func (h *Handler) serveChat(c echo.Context) error {
	req := c.Request()
	corrID := correlationID(req.Header.Get(headerCorrelationID))
	c.Response().Header().Set(headerCorrelationID, corrID)
	log := logger(c, h.log).With("correlation_id", corrID)

	body, err := io.ReadAll(io.LimitReader(req.Body, maxBodyBytes))
	if err != nil {
		log.Warnw("read body failed", "err", err)
		body = nil
	}
	status, payload := h.chat(req.Context(), log, req.Header.Get(headerAuthorization), body)
	return c.JSON(status, payload)
}

// RegisterMetrics exposes prometheus metrics. When apiKey is set the caller
// must send it as a bearer token.
func RegisterMetrics(e *echo.Echo, apiKey string) {
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()), func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if apiKey == "" {
				return next(c)
			}
			scheme, key, ok := strings.Cut(c.Request().Header.Get(headerAuthorization), " ")
			if !ok || !strings.EqualFold(scheme, "bearer") {
				return c.String(http.StatusUnauthorized, "Missing or invalid API key")
			}
			if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(key)), []byte(apiKey)) != 1 {
				return c.String(http.StatusUnauthorized, "Unauthorized API key")
			}
			return next(c)
		}
	})
}

const logKey = "log"

func logger(c echo.Context, fallback *zap.SugaredLogger) *zap.SugaredLogger {
	if l, ok := c.Get(logKey).(*zap.SugaredLogger); ok {
		return l
	}
	return fallback
}

// NewTrackMiddleware tags each request with an id and logs one
// end_of_request line when it completes.
func NewTrackMiddleware(log *zap.SugaredLogger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			reqID, _ := nanoid.Generate(requestIDAlphabet, 28)
			l := log.With("request_id", "req_"+reqID)
			c.Set(logKey, l)

			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			status := strconv.Itoa(c.Response().Status)
			l.Infow("end_of_request", "path", c.Path(), "status_code", status, "duration", time.Since(start).String())
			metrics.ResponseCodes.WithLabelValues(c.Path(), status).Inc()
			return nil
		}
	}
}

func NewRecoverMiddleware(log *zap.SugaredLogger) echo.MiddlewareFunc {
	return emw.RecoverWithConfig(emw.RecoverConfig{
		StackSize: 1 << 10,
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			log.Errorw("api panic", "err", err.Error(), "stack", string(stack))
			return c.JSON(http.StatusInternalServerError, errorResponse{Error: string(usecase.ErrorInternal), Detail: detailInternal})
		},
	})
}
