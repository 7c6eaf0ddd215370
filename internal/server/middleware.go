package server

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/doclens/doclens/internal/ragerr"
)

// maxBodyBytes bounds any request body. Uploads carry multiple files, so
// this sits above the 16 MiB per-file cap.
const maxBodyBytes = "64M"

// roleContextKey is where the JWT middleware stores the caller's role.
const roleContextKey = "doclens.role"

func (s *Server) applyMiddleware() {
	e := s.echo

	e.Use(middleware.Recover())
	e.Use(s.requestLogger())
	e.Use(middleware.BodyLimit(maxBodyBytes))

	if s.cfg.Server.CORSEnabled {
		origins := s.cfg.Server.CORSOrigins
		if len(origins) == 0 {
			origins = []string{"*"}
		}
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: origins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		}))
	}

	if s.cfg.Server.RateLimitEnabled {
		e.Use(middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
			Store: middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
				Rate:  limit(s.cfg.Server.RateLimitRPS),
				Burst: s.cfg.Server.RateLimitBurst,
			}),
			ErrorHandler: func(c echo.Context, err error) error {
				return ragerr.New(ragerr.KindRateLimit, "rate limit exceeded")
			},
			DenyHandler: func(c echo.Context, identifier string, err error) error {
				return ragerr.New(ragerr.KindRateLimit, "rate limit exceeded")
			},
		}))
	}

	if s.cfg.Server.JWTSecret != "" {
		e.Use(s.jwtMiddleware())
	}
}

func (s *Server) requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				attrs = append(attrs, slog.Any("error", v.Error))
				s.logger.Warn("request", attrs...)
				return nil
			}
			s.logger.Info("request", attrs...)
			return nil
		},
	})
}

// jwtMiddleware validates Bearer tokens on /api routes and records the
// caller's role. /health stays open for probes.
func (s *Server) jwtMiddleware() echo.MiddlewareFunc {
	secret := []byte(s.cfg.Server.JWTSecret)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !strings.HasPrefix(c.Path(), "/api") {
				return next(c)
			}

			auth := c.Request().Header.Get(echo.HeaderAuthorization)
			if !strings.HasPrefix(auth, "Bearer ") {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
			}

			token, err := jwt.Parse(strings.TrimPrefix(auth, "Bearer "), func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return secret, nil
			})
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			if claims, ok := token.Claims.(jwt.MapClaims); ok {
				if role, ok := claims["role"].(string); ok {
					c.Set(roleContextKey, role)
				}
			}
			return next(c)
		}
	}
}

// requireAdmin gates a handler on the admin role. Without auth configured
// the gate is open: single-user local deployments skip JWT entirely.
func (s *Server) requireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.cfg.Server.JWTSecret == "" {
			return next(c)
		}
		if role, _ := c.Get(roleContextKey).(string); role != "admin" {
			return echo.NewHTTPError(http.StatusForbidden, "admin role required")
		}
		return next(c)
	}
}

func limit(rps float64) rate.Limit {
	if rps <= 0 {
		rps = 10
	}
	return rate.Limit(rps)
}
