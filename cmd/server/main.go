package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"marketplace-service/config"
	"marketplace-service/internal/api"
	"marketplace-service/internal/broker"
	"marketplace-service/internal/notify"
	"marketplace-service/internal/redisclient"
	"marketplace-service/internal/service"
	"marketplace-service/internal/store"
	"marketplace-service/internal/util"
	"marketplace-service/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const serviceName = "marketplace-service"

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func main() {
	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, serviceName); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting marketplace service")

	tp, err := util.InitTracer(serviceName, cfg.Observ.JaegerEndpoint, cfg.Server.Env)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("Error shutting down tracer", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		logger.Fatal("Failed to migrate database", zap.Error(err))
	}
	logger.Info("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	orderProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
	defer orderProducer.Close()
	notificationProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicNotifications)
	defer notificationProducer.Close()
	logger.Info("Kafka producers initialized")

	publisher := broker.NewEventPublisher(orderProducer, notificationProducer)

	biz := cfg.Business
	inventory := service.NewInventoryService(db, redisClient)
	services := api.Services{
		Shops:       service.NewShopService(db),
		Catalog:     service.NewCatalogService(db),
		Products:    service.NewProductService(db, inventory, publisher),
		Checkout:    service.NewCheckoutService(db, inventory, publisher, seconds(biz.CheckoutLockSeconds), seconds(biz.PaymentTimeoutSeconds)),
		Instore:     service.NewInstoreOrderService(db, inventory, publisher, biz.MaxInstoreItemQuantity, seconds(biz.InstoreOrderTimeoutSeconds)),
		Experiences: service.NewExperienceService(db, inventory, publisher),
		Bookings:    service.NewExperienceCheckoutService(db, inventory, publisher, redisClient, seconds(biz.ReservationSeconds), seconds(biz.PaymentTimeoutSeconds)),
	}
	provider := &service.MockProvider{SuccessRate: biz.PaymentSuccessRate, MaxLatency: 500 * time.Millisecond}
	services.Payments = service.NewPaymentService(db, provider, publisher)
	saga := service.NewSagaOrchestrator(db, services.Checkout, services.Bookings)

	var mailer notify.Mailer = notify.NewLogMailer()
	if cfg.Mail.SMTPAddr != "" {
		mailer = notify.NewSMTPMailer(cfg.Mail.SMTPAddr, cfg.Mail.SMTPUser, cfg.Mail.SMTPPassword, cfg.Mail.From)
	}
	dispatcher := notify.NewDispatcher(mailer, services.Catalog)

	if err := inventory.SyncInventoryToRedis(ctx); err != nil {
		logger.Warn("Failed to sync inventory to Redis", zap.Error(err))
	}

	group := cfg.Kafka.ConsumerGroup
	orderWorker := worker.NewOrderWorker(
		broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder, group+"-orders"), saga)
	paymentWorker := worker.NewPaymentWorker(
		broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder, group+"-payments"), services.Payments)
	notificationWorker := worker.NewNotificationWorker(
		broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicNotifications, group+"-notifications"), dispatcher)

	sweeper := worker.NewSweeper(seconds(biz.SweepIntervalSeconds))
	sweeper.Add("checkout", services.Checkout.ExpireStale)
	sweeper.Add("instore_order", services.Instore.ExpireTimedOut)
	sweeper.Add("experience", services.Bookings.ExpireStale)
	sweeper.OnResync(inventory.SyncInventoryToRedis)
	sweeper.WithLock(redisClient)

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	auth := api.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer)
	handler := api.NewHandler(services, auth, map[string]api.Pinger{
		"postgres": db,
		"redis":    redisClient,
	})
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return orderWorker.Start(gctx) })
	g.Go(func() error { return paymentWorker.Start(gctx) })
	g.Go(func() error { return notificationWorker.Start(gctx) })
	g.Go(func() error { return sweeper.Start(gctx) })
	g.Go(func() error {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Server forced to shutdown", zap.Error(err))
		}
		for _, w := range []interface{ Stop() error }{orderWorker, paymentWorker, notificationWorker} {
			if err := w.Stop(); err != nil {
				logger.Warn("Failed to stop worker", zap.Error(err))
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Service stopped with error", zap.Error(err))
	}
	logger.Info("Server exited")
}
