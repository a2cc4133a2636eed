package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/orchardlane/pricing/internal/service"
	"github.com/orchardlane/pricing/pkg/health"
	"github.com/orchardlane/pricing/pkg/middleware"
)

// NewRouter creates a chi router with all pricing service routes registered.
func NewRouter(
	pricingService *service.PricingService,
	healthHandler *health.Handler,
	logger *slog.Logger,
	corsCfg middleware.CORSConfig,
	pprofCIDRs []string,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.CORS(corsCfg))
	r.Use(middleware.Recovery(logger))
	r.Use(chimw.Compress(5))
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(middleware.TrustedIdentity)
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.PrometheusMetrics("pricing"))
	r.Use(middleware.RequestLogger(logger))

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	// Pprof debug endpoints with IP allowlist.
	middleware.RegisterPprof(r, pprofCIDRs, logger)

	pricingHandler := NewPricingHandler(pricingService, logger)

	r.Route("/api/v1/rules", func(r chi.Router) {
		r.Use(ContentTypeJSON)

		r.Post("/", pricingHandler.CreateRule)
		r.Get("/", pricingHandler.ListRules)
		r.Get("/{id}", pricingHandler.GetRule)
		r.Put("/{id}", pricingHandler.UpdateRule)
		r.Delete("/{id}", pricingHandler.DeleteRule)
	})

	r.Route("/api/v1/pricing", func(r chi.Router) {
		r.Use(ContentTypeJSON)

		r.Post("/evaluate", pricingHandler.Evaluate)
		r.Post("/evaluate-batch", pricingHandler.EvaluateBatch)
		r.Post("/weighted-discounts", pricingHandler.WeightedDiscounts)
	})

	r.Route("/api/v1/coupons", func(r chi.Router) {
		r.Use(ContentTypeJSON)

		r.Post("/", pricingHandler.CreateCoupon)
		r.Post("/multi", pricingHandler.CreateMultiCoupon)
		r.Post("/usage/commit", pricingHandler.CommitCouponUsage)
		r.Post("/usage/release", pricingHandler.ReleaseCouponUsage)
		r.Get("/{code}", pricingHandler.GetCoupon)
	})

	return r
}
