package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"clinicdesk/config"
	"clinicdesk/internal/cache"
	"clinicdesk/internal/engine"
	"clinicdesk/internal/logger"
	"clinicdesk/internal/repository"
	"clinicdesk/internal/service"
	"clinicdesk/internal/store"
	"clinicdesk/internal/transport/push"
	"clinicdesk/internal/transport/rest"
	"clinicdesk/internal/transport/ws"
)

func main() {
	cfg := config.Load()
	zlog := logger.New(cfg.IsProduction())
	defer zlog.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// MongoDB connection
	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		zlog.Fatal("failed to connect to MongoDB", zap.Error(err))
	}
	defer mongoClient.Disconnect(context.Background())

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := mongoClient.Ping(pingCtx, nil); err != nil {
		zlog.Fatal("failed to ping MongoDB", zap.Error(err))
	}
	zlog.Info("connected to MongoDB")

	db := mongoClient.Database(cfg.MongoDB)

	// Redis connection
	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
		DB:   cfg.RedisDB,
	})
	defer rdb.Close()

	if _, err := rdb.Ping(ctx).Result(); err != nil {
		zlog.Fatal("failed to ping Redis", zap.Error(err))
	}
	zlog.Info("connected to Redis")

	// Repositories
	roomRepo := repository.NewRoomRepo(db)
	treatmentRepo := repository.NewTreatmentRepo(db)

	// Caches and queues
	catalogueCache := cache.NewCatalogueCache(rdb)
	billingQueue := cache.NewBillingQueue(rdb)

	// Room engine
	roomStore := store.NewRoomStore()
	reconciler := engine.NewReconciler(roomStore, cfg.GracePeriod(), zlog)
	roomStore.SetTouchFunc(reconciler.Touch)

	wsHub := ws.NewHub(zlog)
	projector := engine.NewProjector(cfg.TickInterval(), func(roomID, stepID string, p engine.Projection) {
		wsHub.Broadcast(string(ws.MsgStepTick), map[string]interface{}{
			"roomId":     roomID,
			"stepId":     stepID,
			"projection": p,
		})
	})
	defer projector.Close()

	roomSvc := service.NewRoomService(roomStore, reconciler, projector, roomRepo, treatmentRepo, zlog)
	roomSvc.SetBroadcaster(wsHub)
	roomSvc.SetNotifier(billingQueue)
	roomSvc.SetCatalogueCache(catalogueCache)

	authSvc := service.NewAuthService(cfg.JWTSecret)

	// Initial authoritative load
	roomSvc.Reload(ctx)
	zlog.Info("room store loaded", zap.Int("rooms", len(roomSvc.Rooms())))

	// Change-notification channel with poll fallback
	channel := push.NewRedisChannel(rdb, zlog)
	channel.Start(ctx)
	adapter := push.NewAdapter(channel, roomSvc.Reload, cfg.PollInterval(), zlog)
	go adapter.Run(ctx)

	wsHandler := ws.NewHandler(wsHub, authSvc, roomSvc, zlog)

	router := rest.NewRouter(&rest.Container{
		AuthService:  authSvc,
		RoomService:  roomSvc,
		BillingQueue: billingQueue,
		WSHub:        wsHub,
		WSHandler:    wsHandler,
		Logger:       zlog,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: router,
	}

	go func() {
		zlog.Info("server starting", zap.String("port", cfg.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Error("server failed", zap.Error(err))
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	zlog.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Error("server forced to shutdown", zap.Error(err))
	}
	<-adapter.Done()

	zlog.Info("server exited")
}
