package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/option"

	"pasargamex-realtime/internal/adapter/api"
	"pasargamex-realtime/internal/adapter/api/handler"
	apimiddleware "pasargamex-realtime/internal/adapter/api/middleware"
	"pasargamex-realtime/internal/adapter/api/router"
	"pasargamex-realtime/internal/adapter/repository"
	"pasargamex-realtime/internal/infrastructure/firebase"
	"pasargamex-realtime/internal/infrastructure/metrics"
	"pasargamex-realtime/internal/infrastructure/pubsub"
	"pasargamex-realtime/internal/infrastructure/ratelimit"
	"pasargamex-realtime/internal/infrastructure/realtime"
	"pasargamex-realtime/internal/infrastructure/websocket"
	"pasargamex-realtime/internal/usecase"
	"pasargamex-realtime/pkg/config"
	"pasargamex-realtime/pkg/logger"
	"pasargamex-realtime/pkg/response"
)

func main() {
	if err := run(); err != nil {
		logger.Error("Server exited: %v", err)
		logger.Sync()
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger.Setup(cfg.Environment)
	defer logger.Sync()
	metrics.Register()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	checks := map[string]handler.Pinger{}

	var firebaseOpt option.ClientOption
	var firebaseAuthClient *firebase.FirebaseAuthClient
	if !cfg.AuthDisabled || cfg.StoreBackend == "firestore" {
		firebaseOpt, err = firebase.ClientOption(cfg)
		if err != nil {
			return err
		}
	}
	if !cfg.AuthDisabled {
		firebaseApp, err := firebase.NewApp(ctx, cfg, firebaseOpt)
		if err != nil {
			return err
		}
		authClient, err := firebaseApp.Auth(ctx)
		if err != nil {
			return err
		}
		firebaseAuthClient = firebase.NewFirebaseAuthClient(authClient)
		checks["firebase"] = firebaseAuthClient
	}

	storeOpts := repository.StoreOptions{Backend: cfg.StoreBackend, DatabaseURL: cfg.DatabaseURL}
	if cfg.StoreBackend == "firestore" {
		storeOpts.Firestore, err = firestore.NewClient(ctx, cfg.FirebaseProject, firebaseOpt)
		if err != nil {
			return err
		}
	}
	store, err := repository.BuildStore(ctx, storeOpts)
	if err != nil {
		return err
	}
	defer store.Close()
	if pinger, ok := store.(handler.Pinger); ok {
		checks["store"] = pinger
	}
	logger.Info("Event store: %s", cfg.StoreBackend)

	var broker pubsub.Broker
	switch cfg.BrokerBackend {
	case "redis":
		redisBroker, err := pubsub.NewRedisBroker(ctx, cfg.RedisURL, cfg.RedisChannelPrefix)
		if err != nil {
			return err
		}
		checks["broker"] = redisBroker
		broker = redisBroker
	default:
		broker = pubsub.NewMemoryBroker()
	}
	defer broker.Close()
	logger.Info("Change broker: %s", cfg.BrokerBackend)

	limiter := ratelimit.NewRateLimiter()
	limiter.SetPolicy(ratelimit.ActionSendMessage, ratelimit.Policy{
		PerMinute: cfg.Delivery.SendRatePerMinute,
		Burst:     10,
	})
	stopCleanup := make(chan struct{})
	defer close(stopCleanup)
	limiter.StartCleanupRoutine(stopCleanup)

	supervisor := realtime.NewSupervisor(store.Events(), broker, realtime.OptionsFromConfig(cfg.Delivery))
	defer supervisor.Close()

	resolver := usecase.NewConversationResolver(store.Conversations(), cfg.Delivery.ResolveMaxAttempts)
	dispatcher := usecase.NewDispatcher(resolver, store.Events(), broker, limiter, usecase.DispatcherConfig{
		WriteTimeout:    cfg.Delivery.WriteTimeout,
		NotifyOnMessage: cfg.Delivery.NotifyOnMessage,
	})
	subscriptions := usecase.NewSubscriptionUseCase(supervisor, resolver, limiter)

	wsManager := websocket.NewManager(subscriptions, dispatcher)
	wsManager.Start(ctx)

	handler.Setup(dispatcher, subscriptions, wsManager, cfg.AllowedOrigins)
	handler.SetupHealthHandler(supervisor.Len, wsManager.Count, checks)

	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	if len(cfg.AllowedOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{AllowOrigins: cfg.AllowedOrigins}))
	} else {
		e.Use(middleware.CORS())
	}

	e.Validator = api.NewValidator()
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		_ = response.Error(c, err)
	}

	var authMiddleware *apimiddleware.AuthMiddleware
	if cfg.AuthDisabled {
		authMiddleware = apimiddleware.NewDevAuthMiddleware()
	} else {
		authMiddleware = apimiddleware.NewAuthMiddleware(firebaseAuthClient)
	}
	serviceMiddleware := apimiddleware.NewServiceMiddleware(cfg.ServiceToken)

	router.Setup(e, authMiddleware, serviceMiddleware, limiter)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting server on port %s...", cfg.ServerPort)
		if err := e.Start(":" + cfg.ServerPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
