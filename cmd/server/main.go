package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"stock_reservation/internal/config"
	"stock_reservation/internal/database"
	"stock_reservation/internal/engine"
	"stock_reservation/internal/ledger"
	"stock_reservation/internal/logger"
	"stock_reservation/internal/queue"
	"stock_reservation/internal/reservation"
	"stock_reservation/internal/router"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	rd "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	// .env 可选，不存在时直接读环境变量
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	zlog, err := logger.New(cfg.IsDev())
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. 数据库：自动建表
	db, err := database.Open(cfg.DBDriver, cfg.DBDSN, zlog)
	if err != nil {
		zlog.Fatal("db open failed", zap.Error(err))
	}
	defer database.Close(db, zlog)

	// 2. Redis
	rdb := rd.NewClient(&rd.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		zlog.Fatal("redis ping failed", zap.String("addr", cfg.RedisAddr), zap.Error(err))
	}

	store := reservation.NewStore(rdb)
	eng := engine.New(ledger.New(db), store, engine.Options{
		HoldTTL:         cfg.ReservationTTL,
		CheckoutLockTTL: cfg.CheckoutLockTTL,
	}, zlog)

	var wg sync.WaitGroup

	// 3. 后台任务：占位计数校正 + outbox 投递
	if cfg.ReconcileInterval > 0 {
		rec := reservation.NewReconciler(store, cfg.ReconcileInterval, zlog)
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec.Run(ctx)
		}()
	}

	if cfg.KafkaEnabled {
		producer := queue.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer producer.Close()

		relay := queue.NewRelay(db, producer, zlog, cfg.OutboxPoll, cfg.OutboxBatch)
		wg.Add(1)
		go func() {
			defer wg.Done()
			relay.Run(ctx)
		}()
		zlog.Info("outbox relay started", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaTopic))
	}

	// 4. HTTP
	if !cfg.IsDev() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.IsDev() {
		r.Use(gin.Logger())
	}
	router.Setup(r, eng, rdb, cfg, zlog)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		zlog.Info("http server listening", zap.String("addr", cfg.HTTPAddr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	zlog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Error("http shutdown error", zap.Error(err))
	}

	wg.Wait()
	zlog.Info("server stopped")
}
