package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/petmarket/internal/domain"
	"github.com/vladislavdragonenkov/petmarket/internal/metrics"
	"github.com/vladislavdragonenkov/petmarket/internal/service/idempotency"
	"github.com/vladislavdragonenkov/petmarket/internal/service/orders"
)

const defaultRequestTimeout = 15 * time.Second

// Handler — HTTP API маркетплейса: заказы и каталог объявлений.
type Handler struct {
	orders   *orders.Manager
	products domain.ProductStore
	guard    *idempotency.Guard
	logger   *log.Entry
	metrics  *metrics.HTTPMetrics
	timeout  time.Duration
	now      func() time.Time
}

// Option настраивает Handler.
type Option func(*Handler)

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithMetrics включает HTTP-метрики.
func WithMetrics(m *metrics.HTTPMetrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

// WithIdempotency включает поддержку заголовка Idempotency-Key.
func WithIdempotency(guard *idempotency.Guard) Option {
	return func(h *Handler) {
		h.guard = guard
	}
}

// WithRequestTimeout ограничивает время обработки запроса.
func WithRequestTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// NewHandler создаёт HTTP API поверх менеджера заказов и каталога.
func NewHandler(manager *orders.Manager, products domain.ProductStore, opts ...Option) *Handler {
	h := &Handler{
		orders:   manager,
		products: products,
		logger:   log.WithField("component", "http"),
		timeout:  defaultRequestTimeout,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes собирает chi-роутер со всеми маршрутами API.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP)
	r.Use(requestLogger(h.logger, h.metrics))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(h.timeout))

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeMessage(w, http.StatusNotFound, msgNotFound)
	})

	idem := idempotent(h.guard, h.logger)

	r.Route("/orders", func(r chi.Router) {
		r.Use(authenticate)
		r.With(idem).Post("/", h.createOrder)
		r.Get("/mine", h.listMyOrders)
		r.Get("/{id}", h.getOrder)
		r.With(idem).Post("/{id}/cancel", h.cancelOrder)
		r.With(requireAdmin).Patch("/{id}/status", h.updateOrderStatus)
	})

	r.Route("/products", func(r chi.Router) {
		r.Get("/", h.listProducts)
		r.Get("/categories", h.listCategories)
		r.With(authenticate).Post("/", h.createProduct)
		r.With(authenticate).Get("/mine", h.listMyProducts)
		r.Get("/{id}", h.getProduct)
	})

	return r
}
