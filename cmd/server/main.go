package main // Entry point package

import (
	"context"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"

	"github.com/Andrewske/masakali-retreat/internal/booking"
	"github.com/Andrewske/masakali-retreat/internal/config"
	"github.com/Andrewske/masakali-retreat/internal/database"
	"github.com/Andrewske/masakali-retreat/internal/handler"
	"github.com/Andrewske/masakali-retreat/internal/ledger"
	"github.com/Andrewske/masakali-retreat/internal/model"
	"github.com/Andrewske/masakali-retreat/internal/payment"
	"github.com/Andrewske/masakali-retreat/internal/queue"
	"github.com/Andrewske/masakali-retreat/internal/rates"
	"github.com/Andrewske/masakali-retreat/internal/repository"
	"github.com/Andrewske/masakali-retreat/internal/router"
	"github.com/Andrewske/masakali-retreat/internal/webhook"
)

func main() {
	_ = godotenv.Load() // .env is optional; real deployments set the environment

	cfg := config.Load()
	ratesCfg := config.LoadRatesConfig()
	gatewayCfg := config.LoadGatewayConfig()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	rdb := config.NewRedisClient() // nil disables caching, rate limiting and the refresh lock
	if rdb == nil {
		log.Printf("redis unavailable: running without cache, rate limit and refresh lock")
	}

	// Repositories and the composed stores.
	invRepo := repository.NewInventoryRepo(db)
	lockRepo := repository.NewLockRepo(db)
	rateRepo := repository.NewRateRepo(db)
	sessionRepo := repository.NewSessionRepo(db)
	reservationRepo := repository.NewReservationRepo(db)
	eventLogRepo := repository.NewEventLogRepo(db)

	ledgerStore := repository.NewLedgerStore(db, invRepo, lockRepo)
	bookingStore := repository.NewBookingStore(db, invRepo, lockRepo, reservationRepo, sessionRepo)
	webhookStore := repository.NewWebhookStore(db, eventLogRepo, reservationRepo, invRepo)

	// Exchange rates: serve from storage, refresh on a schedule.
	provider := rates.NewHTTPProvider(ratesCfg.ProviderURL, ratesCfg.APIKey, model.BaseCurrency)
	rateCache := rates.NewCache(rateRepo, provider, rdb, ratesCfg.Currencies, ratesCfg.BatchSize)
	go rateCache.StartScheduler(context.Background(), ratesCfg.Interval)

	ledgerSvc := ledger.NewService(ledgerStore, rateCache, time.Duration(cfg.LockTTLMin)*time.Minute)

	gateway := payment.NewHTTPGateway(gatewayCfg.BaseURL, gatewayCfg.APIKey)
	auth := payment.NewAuthenticator(sessionRepo, gateway,
		gatewayCfg.PollInterval, gatewayCfg.PollAttempts, gatewayCfg.PollBudget)

	coordinator := booking.NewCoordinator(bookingStore)
	coordinator.OnConfirmed = func(ctx context.Context, res *model.Reservation, s *model.PaymentSession) {
		_ = queue.PublishReservationNotify(ctx, queue.ReservationNotifyEvent{
			Kind:          queue.KindReservationConfirmed,
			ReservationID: res.ID,
			VillaID:       res.VillaID,
			CheckIn:       res.CheckIn,
			CheckOut:      res.CheckOut,
			GuestName:     res.GuestName,
			GuestEmail:    s.Cart.GuestEmail,
			Currency:      s.Cart.Currency,
			Total:         s.Cart.Total,
			OccurredAt:    time.Now().UTC().Format(time.RFC3339),
		})
	}
	coordinator.OnVoided = func(ctx context.Context, res *model.Reservation) {
		_ = queue.PublishReservationNotify(ctx, queue.ReservationNotifyEvent{
			Kind:          queue.KindReservationCancelled,
			ReservationID: res.ID,
			VillaID:       res.VillaID,
			CheckIn:       res.CheckIn,
			CheckOut:      res.CheckOut,
			GuestName:     res.GuestName,
			OccurredAt:    time.Now().UTC().Format(time.RFC3339),
		})
	}

	// A payment that fails after its reservation was written must void it.
	auth.OnFailure = func(ctx context.Context, sessionID string) {
		if err := coordinator.VoidBySession(ctx, sessionID); err != nil {
			log.Printf("voiding reservation for failed session %s: %v", sessionID, err)
		}
	}

	reconciler := webhook.NewReconciler(webhookStore)
	reconciler.OnCancelled = func(ctx context.Context, res *model.Reservation) {
		_ = queue.PublishReservationNotify(ctx, queue.ReservationNotifyEvent{
			Kind:          queue.KindReservationCancelled,
			ReservationID: res.ID,
			VillaID:       res.VillaID,
			CheckIn:       res.CheckIn,
			CheckOut:      res.CheckOut,
			GuestName:     res.GuestName,
			OccurredAt:    time.Now().UTC().Format(time.RFC3339),
		})
	}
	// Finish webhook deliveries interrupted by the last shutdown.
	if err := reconciler.RecoverPending(context.Background()); err != nil {
		log.Printf("webhook recovery: %v", err)
	}

	// Background notification consumer; reconnects on its own.
	go func() {
		if err := queue.StartNotifyConsumer(); err != nil {
			log.Printf("notify consumer stopped: %v", err)
		}
	}()

	e := echo.New()
	router.RegisterRoutes(e)
	router.RegisterLedger(e, handler.NewLedgerHandler(ledgerSvc), rdb)
	router.RegisterPayments(e, handler.NewPaymentHandler(auth, coordinator), rdb)
	router.RegisterWebhooks(e, handler.NewWebhookHandler(reconciler))
	router.RegisterRates(e, handler.NewRatesHandler(rateCache), rdb)

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s)", addr, cfg.Env)

	if err := e.Start(addr); err != nil {
		log.Fatal(err)
	}
}
