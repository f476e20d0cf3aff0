package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/expensa/invoice-genie/api/controllers"
	usagecontrollers "github.com/expensa/invoice-genie/api/controllers/usage"
	webhookcontrollers "github.com/expensa/invoice-genie/api/controllers/webhooks"
	"github.com/expensa/invoice-genie/api/middleware"
	"github.com/expensa/invoice-genie/internal/usage"
	"github.com/expensa/invoice-genie/pkg/config"
	"github.com/expensa/invoice-genie/pkg/db"
	"github.com/expensa/invoice-genie/pkg/logger"
	"github.com/expensa/invoice-genie/pkg/metrics"
	"github.com/expensa/invoice-genie/pkg/redis"
	"github.com/expensa/invoice-genie/pkg/stripe"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisP redis.Pinger,
	gatherer prometheus.Gatherer,
	serviceMetrics *metrics.ServiceMetrics,
	usageService usage.Service,
	stripeClient *stripe.Client,
	stripeWebhookService webhookcontrollers.StripeWebhookService,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.Metrics(serviceMetrics),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	deps := []controllers.Dependency{{Name: "database", Pinger: dbP}}
	if redisP != nil {
		deps = append(deps, controllers.Dependency{Name: "redis", Pinger: redisP})
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps...))
	})

	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.StripeWebhook(stripeWebhookService, eventVerifier(stripeClient), logg))
	})

	r.Route("/api/v1/usage", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Post("/check", usagecontrollers.Check(usageService, logg))
		r.Post("/record", usagecontrollers.Record(usageService, logg))
		r.Get("/summary", usagecontrollers.Summary(usageService, logg))
	})

	return r
}

// eventVerifier keeps a nil *stripe.Client from becoming a non-nil interface.
func eventVerifier(c *stripe.Client) webhookcontrollers.EventVerifier {
	if c == nil {
		return nil
	}
	return c
}
