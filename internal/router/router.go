package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4" // import the Echo web framework to handle routing
	"github.com/redis/go-redis/v9"

	"github.com/Andrewske/masakali-retreat/internal/config"
	"github.com/Andrewske/masakali-retreat/internal/handler"
	"github.com/Andrewske/masakali-retreat/internal/middleware"
)

// RegisterRoutes registers routes that carry no extra middleware on the
// provided Echo instance.  Currently it exposes only a health check.
func RegisterRoutes(e *echo.Echo) {
	// Used by load balancers and uptime monitors.
	e.GET("/healthz", handler.Health)
}

// RegisterLedger registers the availability and lock endpoints.  Quote
// reads go through the short-TTL Redis response cache; a stale quote
// is harmless because the lock step re-checks availability inside a
// transaction.
func RegisterLedger(e *echo.Echo, h *handler.LedgerHandler, rdb *redis.Client) {
	cache := middleware.NewRedisCache(config.LoadCacheConfig(), rdb)
	e.GET("/v1/villas/:id/quote", h.GetQuote, cache)
	e.POST("/v1/villas/:id/lock", h.CreateLock)
	e.DELETE("/v1/locks/:token", h.ReleaseLock)
}

// RegisterPayments registers the payment session endpoints under the
// distributed token-bucket rate limiter.  Token creation and charge
// confirmation hit the external gateway, so abusive clients must be
// slowed down before they reach it.
func RegisterPayments(e *echo.Echo, h *handler.PaymentHandler, rdb *redis.Client) {
	g := e.Group("/v1/payments")
	g.Use(middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb))
	g.POST("/token", h.CreateToken)
	g.GET("/:id", h.PollStatus)
	g.POST("/:id/confirm", h.Confirm)
	g.POST("/:id/finalize", h.Finalize)
	g.POST("/:id/cancel", h.Cancel)
}

// RegisterWebhooks registers the PMS push endpoint.  No rate limiting
// here: the PMS retries on errors and throttling it would only delay
// reconciliation.
func RegisterWebhooks(e *echo.Echo, h *handler.WebhookHandler) {
	e.POST("/v1/webhooks/pms", h.Receive)
}

// RegisterRates registers the exchange-rate endpoints.  Reads share the
// response cache with quotes; the refresh trigger is cheap to call
// because concurrent runs collapse into one.
func RegisterRates(e *echo.Echo, h *handler.RatesHandler, rdb *redis.Client) {
	cache := middleware.NewRedisCache(config.LoadCacheConfig(), rdb)
	e.GET("/v1/rates/:code", h.GetRate, cache)
	e.POST("/v1/rates/refresh", h.Refresh)
}
