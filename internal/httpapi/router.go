// Package httpapi assembles the HTTP surface from the domain handlers.
package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"memoria/internal/auth"
	"memoria/internal/respond"
)

// Routes is implemented by handlers exposing public endpoints.
type Routes interface {
	Routes(r chi.Router)
}

// AdminRoutes is implemented by handlers exposing operator endpoints.
type AdminRoutes interface {
	AdminRoutes(r chi.Router)
}

type Options struct {
	Tokens       *auth.Tokens
	AdminKeyHash string
	AdminKeySalt string
	Log          logrus.FieldLogger
	Public       []Routes
	Admin        []AdminRoutes
}

// NewRouter builds the service router. Admin endpoints are mounted under
// /admin only when an admin key is configured.
func NewRouter(opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(opts.Log))
	r.Use(recoverer(opts.Log))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		respond.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(opts.Tokens.Authenticate)
		for _, h := range opts.Public {
			h.Routes(r)
		}
	})

	if opts.AdminKeyHash != "" {
		r.Route("/admin", func(r chi.Router) {
			r.Use(auth.AdminGuard(opts.AdminKeyHash, opts.AdminKeySalt))
			for _, h := range opts.Admin {
				h.AdminRoutes(r)
			}
		})
	} else {
		opts.Log.Warn("ADMIN_KEY_HASH not set, admin endpoints disabled")
	}
	return r
}

func requestLogger(log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			entry := log.WithFields(logrus.Fields{
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     ww.Status(),
				"bytes":      ww.BytesWritten(),
				"duration":   time.Since(start).String(),
				"request_id": middleware.GetReqID(r.Context()),
			})
			if ww.Status() >= http.StatusInternalServerError {
				entry.Warn("request failed")
				return
			}
			entry.Debug("request served")
		})
	}
}

// recoverer turns handler panics into 500s and reports them to Sentry.
func recoverer(log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil || rec == http.ErrAbortHandler {
					if rec != nil {
						panic(rec)
					}
					return
				}

				hub := sentry.CurrentHub().Clone()
				hub.Scope().SetRequest(r)
				hub.Scope().SetTag("request_id", middleware.GetReqID(r.Context()))
				hub.Recover(rec)

				log.WithFields(logrus.Fields{
					"method": r.Method,
					"path":   r.URL.Path,
					"panic":  fmt.Sprint(rec),
				}).Error("handler panicked")
				respond.JSON(w, http.StatusInternalServerError, map[string]interface{}{
					"error": map[string]string{"code": "INTERNAL", "message": "something went wrong, please try again"},
				})
			}()
			next.ServeHTTP(w, r)
		})
	}
}
