package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mymmrac/telego"
	"golang.org/x/sync/errgroup"

	"boostup-bot/internal/bot"
	"boostup-bot/internal/config"
	"boostup-bot/internal/cryptopay"
	"boostup-bot/internal/database"
	"boostup-bot/internal/ledger"
	"boostup-bot/internal/orders"
	"boostup-bot/internal/settlement"
	"boostup-bot/internal/users"
	"boostup-bot/internal/wallet"
	"boostup-bot/internal/webapp"
	"boostup-bot/internal/webhook"
	"boostup-bot/internal/worker"
)

func main() {
	cfg := config.LoadConfig()

	db, err := database.ConnectPostgres(cfg)
	if err != nil {
		log.Fatalf("Could not connect to database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("Could not access database handle: %v", err)
	}
	defer sqlDB.Close()

	rdb, err := database.ConnectRedis(cfg)
	if err != nil {
		log.Fatalf("Could not connect to redis: %v", err)
	}
	defer rdb.Close()

	tgBot, err := telego.NewBot(cfg.BotToken)
	if err != nil {
		log.Fatalf("Could not create bot: %v", err)
	}

	ledgerStore := ledger.NewStore(db)
	userStore := users.NewStore(db)
	orderStore := orders.NewStore(db)

	notifier := bot.NewNotifier(tgBot)
	pipeline := settlement.NewPipeline(ledgerStore, userStore, notifier)

	gateway := cryptopay.NewClient(cfg.CryptoPayURL, cfg.CryptoPayMerchant, cfg.CryptoPayAPIKey)
	walletSvc := wallet.NewService(gateway, ledgerStore, pipeline,
		cfg.PublicBaseURL, cfg.WebhookSecret, "https://t.me/"+cfg.BotUsername)
	orderSvc := orders.NewService(orderStore, userStore)

	b := bot.NewBot(tgBot, walletSvc, userStore, ledgerStore, orderSvc, cfg.BotUsername, cfg.AdminIDs)
	poller := worker.NewPoller(ledgerStore, gateway, pipeline, rdb)
	webhookHandler := webhook.NewHandler(ledgerStore, pipeline, cfg.CryptoPayAPIKey, cfg.WebhookSecret, cfg.AllowedGatewayIPs)
	authenticator := webapp.NewAuthenticator(userStore, cfg.BotToken)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /cryptopay/webhook/{secret}", webhookHandler.HandleWebhook)
	mux.HandleFunc("POST /api/v1/webapp/auth", authenticator.HandleAuth)
	mux.HandleFunc("GET /heartbeat", webapp.HandleHeartbeat)

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return b.Start(ctx)
	})
	g.Go(func() error {
		poller.Start(ctx)
		return nil
	})
	g.Go(func() error {
		log.Printf("HTTP server listening on %s", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	log.Println("Service started successfully")
	if err := g.Wait(); err != nil {
		log.Fatalf("Service error: %v", err)
	}
	log.Println("Service stopped")
}
