package rest

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	chiMiddleware "github.com/go-chi/chi/middleware"
	goredis "github.com/redis/go-redis/v9"

	"github.com/sokoworks/payment-hub/internal/payment"
	"github.com/sokoworks/payment-hub/internal/transport/middleware"
	"github.com/sokoworks/payment-hub/internal/transport/swagger"
)

func RegisterAllRoutes(router *chi.Mux, db *sql.DB, redisClient *goredis.Client, tokenValidator middleware.TokenValidator, paymentHandler *payment.Handler, webhookHandler *payment.WebhookHandler, logger *slog.Logger) {
	healthHandler := NewHealthHandler(db, redisClient)

	// Webhook retries from providers burst hard; shoppers should never
	// get close to the general limit.
	strictLimiter := middleware.NewRateLimiter(2, 5)
	generalLimiter := middleware.NewRateLimiter(10, 20)

	// Apply global middleware
	router.Use(middleware.CORS)
	router.Use(chiMiddleware.RequestID)
	router.Use(middleware.RequestID)
	router.Use(middleware.LoggingMiddleware(logger))
	router.Use(middleware.RecoveryMiddleware(logger))

	// Serve OpenAPI spec at root (outside API prefix)
	router.Get("/openapi.yml", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, "./api/openapi.yml")
	})
	// Swagger UI route at root
	router.Handle("/swagger/*", swagger.Handler())

	// Mount API under /api/v1 to match OpenAPI basePath
	router.Route("/api/v1", func(r chi.Router) {
		// Health check routes
		r.Get("/health", healthHandler.healthCheckHandler)
		r.Get("/ping", healthHandler.pingHandler)

		// Provider callbacks authenticate by signature, not bearer token
		if webhookHandler != nil {
			r.Group(func(wr chi.Router) {
				wr.Use(strictLimiter.Middleware)
				wr.Post("/webhooks/{gateway}", webhookHandler.Receive)
			})
		}

		if paymentHandler != nil {
			// Protected routes that require authentication
			r.Group(func(pr chi.Router) {
				pr.Use(generalLimiter.Middleware)
				pr.Use(middleware.Authenticator(tokenValidator))

				pr.Get("/gateways", paymentHandler.ListGateways)

				pr.Route("/payments", func(pay chi.Router) {
					pay.Group(func(cr chi.Router) {
						cr.Use(strictLimiter.Middleware)
						cr.Post("/", paymentHandler.CreatePayment)
					})

					pay.Get("/{reference}", paymentHandler.GetPayment)
					pay.Post("/{reference}/verify", paymentHandler.VerifyPayment)
					pay.Post("/{reference}/cancel", paymentHandler.CancelPayment)

					pay.Post("/{reference}/refunds", paymentHandler.CreateRefund)
					pay.Get("/{reference}/refunds", paymentHandler.ListRefunds)
				})

				pr.Get("/refunds/{reference}", paymentHandler.GetRefund)
			})
		}
	})
}
