package server

import (
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/walletdoctor/solana-pnl-api/internal/metrics"
	"github.com/walletdoctor/solana-pnl-api/internal/wallet"
)

// apiKeyRe is the accepted API key shape. Keys are validated by format, not
// by registry lookup.
var apiKeyRe = regexp.MustCompile(`^wd_[A-Za-z0-9]{32}$`)

const inboundRetryAfterSec = 2

// RegisterRoutes configures all API routes, middleware and error handlers.
func RegisterRoutes(e *echo.Echo, h *Handlers, cfg ServerConfig) {
	e.HTTPErrorHandler = JSONErrorHandler()

	e.Use(middleware.Recover())
	e.Use(requestLogger(h.Logger))
	e.Use(metricsMiddleware)
	if len(cfg.AllowedOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: cfg.AllowedOrigins,
		}))
	}

	// Liveness and metrics stay reachable without a key.
	e.GET("/health", h.Health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v4 := e.Group("/v4")
	if cfg.APIKeyRequired {
		v4.Use(keyAuth())
	}
	v4.Use(inboundRateLimiter())

	v4.GET("/trades/export-gpt/:wallet", h.TradesExport)
	v4.GET("/positions/export-gpt/:wallet", h.PositionsExport)
	v4.GET("/wallet/:wallet/stream", h.Stream)

	flagGroup := v4.Group("/flags")
	flagGroup.GET("", h.FlagsList)
	flagGroup.POST("", h.FlagsUpsert)
	flagGroup.GET("/:key", h.FlagsGet)
	flagGroup.PUT("/:key", h.FlagsUpdate)
	flagGroup.DELETE("/:key", h.FlagsDelete)

	e.RouteNotFound("/*", func(c echo.Context) error {
		return c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   errNotFound,
			Message: "not found",
			Code:    http.StatusNotFound,
		})
	})
}

// keyAuth rejects requests whose X-Api-Key header is missing or malformed.
func keyAuth() echo.MiddlewareFunc {
	return middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
		KeyLookup: "header:X-Api-Key",
		Validator: func(key string, c echo.Context) (bool, error) {
			return apiKeyRe.MatchString(key), nil
		},
		ErrorHandler: func(err error, c echo.Context) error {
			metrics.AuthFailuresTotal.Inc()
			return c.JSON(http.StatusUnauthorized, ErrorResponse{
				Error:   errAuthDenied,
				Message: "missing or malformed api key",
				Code:    http.StatusUnauthorized,
			})
		},
	})
}

// inboundRateLimiter enforces 50 requests per minute per API key.
func inboundRateLimiter() echo.MiddlewareFunc {
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(50.0 / 60.0),
			Burst:     50,
			ExpiresIn: 3 * time.Minute,
		}),
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.Request().Header.Get("X-Api-Key"), nil
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			c.Response().Header().Set("Retry-After", strconv.Itoa(inboundRetryAfterSec))
			return c.JSON(http.StatusTooManyRequests, ErrorResponse{
				Error:      errRateLimited,
				Message:    "rate limit exceeded",
				Code:       http.StatusTooManyRequests,
				RetryAfter: inboundRetryAfterSec,
			})
		},
	})
}

// requestLogger emits one structured record per request.
func requestLogger(logger *logrus.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			fields := logrus.Fields{
				"method":     c.Request().Method,
				"route":      c.Path(),
				"status":     c.Response().Status,
				"elapsed_ms": time.Since(start).Milliseconds(),
			}
			if w := c.Param("wallet"); w != "" {
				fields["wallet"] = wallet.Redact(w)
			}
			logger.WithFields(fields).Info("request")
			return err
		}
	}
}

func metricsMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)

		status := c.Response().Status
		if he, ok := err.(*echo.HTTPError); ok {
			status = he.Code
		}
		metrics.RequestsTotal.WithLabelValues(c.Path(), strconv.Itoa(status)).Inc()
		metrics.RequestDuration.WithLabelValues(c.Path()).Observe(time.Since(start).Seconds())
		return err
	}
}
