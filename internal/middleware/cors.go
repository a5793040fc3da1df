package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/DukeRupert/quizauth/internal/handler"
)

// CORSConfig lists what cross-origin callers may do.
type CORSConfig struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	AllowCredentials bool
	MaxAge           int // seconds a preflight result may be cached
}

// CORSMiddleware answers preflight requests and decorates responses to
// allowed origins.
type CORSMiddleware struct {
	origins     map[string]struct{}
	anyOrigin   bool
	methods     string
	headers     string
	anyHeader   bool
	credentials bool
	maxAge      string
	logger      *slog.Logger
}

// NewCORSMiddleware creates a new CORS middleware. An origin of "*" allows
// every origin; it is only honored when credentials are disabled.
func NewCORSMiddleware(cfg CORSConfig, logger *slog.Logger) *CORSMiddleware {
	m := &CORSMiddleware{
		origins:     make(map[string]struct{}, len(cfg.AllowedOrigins)),
		methods:     strings.Join(cfg.AllowedMethods, ", "),
		credentials: cfg.AllowCredentials,
		logger:      logger,
	}

	for _, o := range cfg.AllowedOrigins {
		if o == "*" {
			m.anyOrigin = !cfg.AllowCredentials
			continue
		}
		m.origins[strings.TrimRight(o, "/")] = struct{}{}
	}

	headers := make([]string, 0, len(cfg.AllowedHeaders))
	for _, h := range cfg.AllowedHeaders {
		if h == "*" {
			m.anyHeader = true
			continue
		}
		headers = append(headers, h)
	}
	m.headers = strings.Join(headers, ", ")

	if cfg.MaxAge > 0 {
		m.maxAge = strconv.Itoa(cfg.MaxAge)
	}

	return m
}

// Handler returns the CORS middleware.
func (m *CORSMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Add("Vary", "Origin")

		origin := r.Header.Get("Origin")
		preflight := r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""

		if origin == "" {
			next.ServeHTTP(w, r)
			return
		}

		if !m.allowed(origin) {
			if preflight {
				m.logger.Debug("cors preflight rejected", "origin", origin, "path", r.URL.Path)
				handler.ForbiddenResponse(w, r, m.logger)
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		if m.anyOrigin {
			h.Set("Access-Control-Allow-Origin", "*")
		} else {
			h.Set("Access-Control-Allow-Origin", origin)
		}
		if m.credentials {
			h.Set("Access-Control-Allow-Credentials", "true")
		}

		if !preflight {
			next.ServeHTTP(w, r)
			return
		}

		h.Add("Vary", "Access-Control-Request-Method")
		h.Add("Vary", "Access-Control-Request-Headers")
		h.Set("Access-Control-Allow-Methods", m.methods)
		if m.anyHeader {
			if requested := r.Header.Get("Access-Control-Request-Headers"); requested != "" {
				h.Set("Access-Control-Allow-Headers", requested)
			}
		} else if m.headers != "" {
			h.Set("Access-Control-Allow-Headers", m.headers)
		}
		if m.maxAge != "" {
			h.Set("Access-Control-Max-Age", m.maxAge)
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func (m *CORSMiddleware) allowed(origin string) bool {
	if m.anyOrigin {
		return true
	}
	_, ok := m.origins[origin]
	return ok
}
