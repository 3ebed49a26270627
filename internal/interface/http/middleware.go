package httpservice

import (
	"crypto/subtle"
	"net/http"
	"runtime/debug"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/arkade-os/fee-distributor/pkg/errors"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"
)

type role string

const (
	roleScheduler role = "scheduler"
	roleTransport role = "transport"
	roleAdmin     role = "admin"
)

var somethingWentWrong = errors.INTERNAL_ERROR.New("something went wrong")

type roleToken struct {
	role  role
	token []byte
}

// authenticator maps bearer tokens to roles. The admin role is granted every
// route. With no token configured every request is let through.
type authenticator struct {
	tokens []roleToken
}

func newAuthenticator(cfg Config) *authenticator {
	tokens := make([]roleToken, 0, 3)
	for _, t := range []roleToken{
		{roleScheduler, []byte(cfg.SchedulerToken)},
		{roleTransport, []byte(cfg.TransportToken)},
		{roleAdmin, []byte(cfg.AdminToken)},
	} {
		if len(t.token) > 0 {
			tokens = append(tokens, t)
		}
	}
	if len(tokens) == 0 {
		log.Warn("no auth token configured, every route is unprotected")
	}
	return &authenticator{tokens}
}

func (a *authenticator) enabled() bool {
	return a != nil && len(a.tokens) > 0
}

func (a *authenticator) roleOf(token string) (role, bool) {
	for _, t := range a.tokens {
		if subtle.ConstantTimeCompare(t.token, []byte(token)) == 1 {
			return t.role, true
		}
	}
	return "", false
}

// require rejects requests whose bearer token doesn't grant any of the given
// roles. No role means any authenticated caller. The admin role passes.
func (a *authenticator) require(roles ...role) func(http.Handler) http.Handler {
	return a.authorize(true, roles...)
}

// requireOnly is require without the admin role override.
func (a *authenticator) requireOnly(roles ...role) func(http.Handler) http.Handler {
	return a.authorize(false, roles...)
}

func (a *authenticator) authorize(
	adminOverride bool, roles ...role,
) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !a.enabled() {
				next.ServeHTTP(w, r)
				return
			}

			route := r.URL.Path
			token, ok := bearerToken(r)
			if !ok {
				writeError(w, r, errors.UNAUTHENTICATED.New("missing bearer token").
					WithMetadata(errors.PermissionMetadata{Route: route}))
				return
			}
			got, ok := a.roleOf(token)
			if !ok {
				writeError(w, r, errors.UNAUTHENTICATED.New("invalid bearer token").
					WithMetadata(errors.PermissionMetadata{Route: route}))
				return
			}
			allowed := len(roles) == 0 || slices.Contains(roles, got) ||
				(adminOverride && got == roleAdmin)
			if !allowed {
				writeError(w, r, errors.PERMISSION_DENIED.New(
					"role %s not allowed", got,
				).WithMetadata(errors.PermissionMetadata{Route: route}))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return "", false
	}
	return strings.TrimSpace(token), true
}

// readiness gates the distribution routes while the app service is not
// running.
type readiness struct {
	started atomic.Bool
}

func (r *readiness) markStarted() {
	r.started.Store(true)
}

func (r *readiness) markStopped() {
	r.started.Store(false)
}

func (r *readiness) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if !r.started.Load() {
			writeError(w, req, errors.SERVICE_UNAVAILABLE.New("distribution service not ready"))
			return
		}
		next.ServeHTTP(w, req)
	})
}

// panicRecovery converts panics into INTERNAL_ERROR responses and logs the
// stack trace.
func panicRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				log.Errorf("panic-recovery middleware recovered from panic: %v", rec)
				log.Errorf("stack trace: %v", string(debug.Stack()))
				writeError(w, r, somethingWentWrong)
			}
		}()

		next.ServeHTTP(w, r)
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		log.WithFields(log.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   ww.Status(),
			"duration": time.Since(start).String(),
		}).Debug("http request")
	})
}
