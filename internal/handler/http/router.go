package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shoecom/stockledger/docs"
	"github.com/shoecom/stockledger/pkg/health"
	"github.com/shoecom/stockledger/pkg/middleware"
)

// RouterConfig carries the HTTP-facing settings of the service.
type RouterConfig struct {
	ServiceName        string
	AllowedOrigins     []string
	JWTSecret          string
	RateLimit          string
	TrustForwardHeader bool
	PprofAllowedCIDRs  []string
}

// NewRouter creates a chi router with all stock ledger routes registered.
func NewRouter(
	cfg RouterConfig,
	ledger StockLedger,
	orders OrderStock,
	healthHandler *health.Handler,
	logger *slog.Logger,
) (http.Handler, error) {
	rateLimit, err := middleware.RateLimit(cfg.RateLimit, cfg.TrustForwardHeader)
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.Tracing(cfg.ServiceName))
	r.Use(middleware.PrometheusMetrics(cfg.ServiceName))
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/docs", docs.ServeUI)
	r.Get("/docs/swagger.json", docs.ServeSpec)
	middleware.RegisterPprof(r, cfg.PprofAllowedCIDRs, logger)

	stock := NewStockHandler(ledger, logger)
	movements := NewMovementHandler(ledger, logger)
	orderHandler := NewOrderHandler(orders, logger)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Identity(cfg.JWTSecret, logger))
		r.Use(middleware.RequestLogger(logger))

		r.Route("/stores/{storeId}", func(r chi.Router) {
			r.Get("/variants/{variantId}/stock", stock.GetStock)
			r.With(rateLimit).Put("/variants/{variantId}/stock", stock.UpdateStock)
			r.Get("/stock", stock.ListStoreStock)
			r.With(rateLimit).Post("/stock/bulk", stock.BulkUpdate)
		})

		r.Route("/movements", func(r chi.Router) {
			r.Get("/variants/{variantId}", movements.ByVariant)
			r.Get("/stores/{storeId}", movements.ByStore)
			r.Get("/users/{userId}", movements.ByUser)
		})

		r.Get("/adjustments/{adjustmentId}", movements.GetAdjustment)

		r.Route("/orders", func(r chi.Router) {
			r.With(rateLimit).Post("/", orderHandler.PlaceOrder)
			r.Get("/{orderId}", orderHandler.GetOrder)
			r.With(rateLimit).Post("/{orderId}/cancel", orderHandler.CancelOrder)
			r.With(rateLimit).Post("/{orderId}/return", orderHandler.ReturnOrder)
		})
	})

	return r, nil
}
