package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sandarb-io/gateway/internal/console/handler"
	"github.com/sandarb-io/gateway/internal/console/server"
	"github.com/sandarb-io/gateway/internal/console/service"
	"github.com/sandarb-io/gateway/internal/infra"
	"github.com/sandarb-io/gateway/internal/infra/auth"
	"github.com/sandarb-io/gateway/internal/lineage"
	"github.com/sandarb-io/gateway/internal/repository/postgres"
	"go.uber.org/zap"
)

func main() {
	// 1. Конфигурация и логгер
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer logger.Sync()

	// 2. RSA ключи: консоль подписывает токены закрытым ключом,
	// проверяет — открытым (тем же, что раздается шлюзам)
	privateKey, err := auth.ParseRSAPrivateKey(cfg.Auth.PrivateKey)
	if err != nil {
		logger.Fatal("private key load failed", zap.Error(err))
	}
	publicKey, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
	if err != nil {
		logger.Fatal("public key load failed", zap.Error(err))
	}
	validator := auth.NewBaseValidator(publicKey)

	// 3. Инфраструктура и ресурсы
	initCtx, initCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer initCancel()

	pool, err := postgres.NewPool(initCtx, cfg.Database)
	if err != nil {
		logger.Fatal("database unreachable", zap.Error(err))
	}
	defer pool.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	userRepo := postgres.NewUserRepo(pool)
	registryRepo := postgres.NewRegistryRepo(pool)
	lineageRepo := postgres.NewLineageRepo(pool)

	// 4. Инициализация слоев (Dependency Injection)
	authService := service.NewAuthService(userRepo, validator, privateKey, cfg.Auth.TokenTTL)
	agentService := service.NewAgentService(rdb, registryRepo, logger)
	lineageService := service.NewLineageService(lineage.NewLedger(lineageRepo, cfg.Engine.LineageTimeout, logger))

	consoleSrv := server.NewConsoleServer(
		cfg,
		logger,
		authService,
		handler.NewAuthHandler(authService),
		handler.NewAgentHandler(agentService, logger),
		handler.NewLinkHandler(agentService, logger),
		handler.NewLineageHandler(lineageService),
	)

	// 5. Запуск сервера
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      consoleSrv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("console api started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	<-stop
	logger.Info("console api stopping...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	logger.Info("console api exited properly")
}
