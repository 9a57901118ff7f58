package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"ledger/internal/ledger"
	"ledger/internal/log"
	"ledger/internal/middleware/ratelimit"
	"ledger/internal/middleware/security"
	"ledger/internal/middleware/trace"
)

// Options tunes the transport around the store.
type Options struct {
	AllowedOrigins     []string
	RateLimitPerMinute int // 0 disables rate limiting
	MaxBodyBytes       int64
	Logger             *log.Logger

	// ReadyCheck, when set, must succeed for /readyz to report ready.
	ReadyCheck func(ctx context.Context) error
}

type Server struct {
	http.Server
	store   *ledger.Store
	limiter *ratelimit.Limiter
	tracer  *trace.Middleware
	logger  *log.Logger
	ready   func(ctx context.Context) error

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run http.Server.
func NewServer(addr string, store *ledger.Store, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.FromSlog(nil, log.ComponentHTTP)
	}
	logger = logger.WithComponent(log.ComponentHTTP)

	s := &Server{
		Server: http.Server{
			Addr:              addr,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		store:  store,
		tracer: trace.NewMiddleware(logger, extractClientIP),
		logger: logger,
		ready:  opts.ReadyCheck,
	}
	if opts.RateLimitPerMinute > 0 {
		s.limiter = ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: opts.RateLimitPerMinute})
	}

	s.Handler = s.routes(opts)
	return s
}

func (s *Server) routes(opts Options) http.Handler {
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(s.tracer.Middleware)
	r.Use(log.Middleware(s.logger, trace.GetRequestID))
	r.Use(recoverJSON)
	r.Use(security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}))
	if opts.MaxBodyBytes > 0 {
		r.Use(middleware.RequestSize(opts.MaxBodyBytes))
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeResponse(w, r, NotFoundError("Not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeResponse(w, r, MethodNotAllowedError())
	})

	r.Get("/healthz", handleHealth)
	r.Get("/readyz", s.handleReady)

	r.Route("/transactions", func(r chi.Router) {
		r.Get("/current", s.handleCurrentTransactions)
		r.Get("/all", s.handleAllTransactions)

		r.Group(func(r chi.Router) {
			if s.limiter != nil {
				r.Use(s.limiter.Middleware(extractClientIP, s.onRateLimited))
			}
			r.Post("/", s.handleCreateTransaction)
			r.Post("/bulk/{account_id}", s.handleBulkImport)
			r.Put("/{account_id}/memo", s.handleUpdateMemo)
		})
	})

	return r
}

func (s *Server) onRateLimited(w http.ResponseWriter, r *http.Request) {
	log.FromContext(r.Context()).WarnContext(r.Context(), "Rate limit exceeded",
		log.FieldClientIP, extractClientIP(r),
		log.FieldMethod, r.Method,
		log.FieldPath, r.URL.Path)
	writeResponse(w, r, ErrorResponse(http.StatusTooManyRequests, "Rate limit exceeded. Please try again later."))
}

// Shutdown gracefully shuts down the server and the rate limiter.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		if s.limiter != nil {
			s.limiter.Stop()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})

	return shutdownErr
}
