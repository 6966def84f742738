package httpsvc

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders/internal/domain"
	"github.com/vladislavdragonenkov/orders/internal/metrics"
	"github.com/vladislavdragonenkov/orders/internal/service/orders"
)

const (
	maxBodyBytes            = 1 << 20
	defaultIdempotencyTTL   = 24 * time.Hour
	idempotencyKeyHeader    = "Idempotency-Key"
	idempotencyReplayed     = "Idempotent-Replayed"
	idempotencyStoreTimeout = 3 * time.Second
)

// Handler: REST API заказов.
type Handler struct {
	svc            *orders.Service
	idem           domain.IdempotencyRepository
	idempotencyTTL time.Duration
	metrics        *metrics.OrderMetrics
	logger         *log.Entry
}

// Option настраивает Handler.
type Option func(*Handler)

// WithIdempotency включает обработку заголовка Idempotency-Key для POST /api/orders.
func WithIdempotency(repo domain.IdempotencyRepository, ttl time.Duration) Option {
	return func(h *Handler) {
		h.idem = repo
		if ttl > 0 {
			h.idempotencyTTL = ttl
		}
	}
}

// WithMetrics задаёт метрики длительности запросов.
func WithMetrics(m *metrics.OrderMetrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

// WithLogger переопределяет логгер.
func WithLogger(logger *log.Entry) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHandler создаёт обработчик.
func NewHandler(svc *orders.Service, options ...Option) *Handler {
	h := &Handler{
		svc:            svc,
		idempotencyTTL: defaultIdempotencyTTL,
		logger:         log.WithField("component", "http"),
	}
	for _, opt := range options {
		opt(h)
	}
	return h
}

// Routes собирает chi-роутер со всеми middleware.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", idempotencyKeyHeader, middleware.RequestIDHeader},
		ExposedHeaders: []string{idempotencyReplayed, middleware.RequestIDHeader},
		MaxAge:         300,
	}))
	r.Use(requestMetrics(h.metrics))

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "endpoint not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Route("/api/orders", func(r chi.Router) {
		r.Get("/", h.listOrders)
		r.Post("/", h.withIdempotency(h.createOrders))
		r.Patch("/", h.updateOrders)

		r.Route("/{productID}", func(r chi.Router) {
			r.Get("/", h.getOrder)
			r.Patch("/", h.updateOrder)
			r.Delete("/", h.deleteOrder)
			r.Get("/timeline", h.orderTimeline)
		})
	})

	return r
}
