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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sandarb-io/gateway/internal/domain"
	"github.com/sandarb-io/gateway/internal/engine"
	"github.com/sandarb-io/gateway/internal/identity"
	"github.com/sandarb-io/gateway/internal/infra"
	"github.com/sandarb-io/gateway/internal/lineage"
	"github.com/sandarb-io/gateway/internal/policy"
	"github.com/sandarb-io/gateway/internal/ratelimit"
	"github.com/sandarb-io/gateway/internal/registry"
	"github.com/sandarb-io/gateway/internal/repository/postgres"
	"github.com/sandarb-io/gateway/internal/resolver"
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

	// Контекст жизненного цикла фоновых горутин:
	// cancel() по SIGTERM останавливает слушателей
	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Инфраструктура и ресурсы
	initCtx, initCancel := context.WithTimeout(appCtx, 10*time.Second)
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

	accountRepo := postgres.NewAccountRepo(pool)
	registryRepo := postgres.NewRegistryRepo(pool)
	versionRepo := postgres.NewVersionRepo(pool)
	lineageRepo := postgres.NewLineageRepo(pool)

	// 3. Control Plane связка: L1 кэш approval-статусов + Redis-сигналы
	approvals := registry.NewApprovalManager(rdb, registryRepo, logger)
	if err := approvals.Init(initCtx); err != nil {
		logger.Fatal("failed to init approval manager", zap.Error(err))
	}
	go approvals.StartListener(appCtx)

	regService := registry.NewService(registryRepo, approvals, cfg.Engine.StoreTimeout, logger)
	identityResolver := identity.NewResolver(accountRepo, cfg.Engine.StoreTimeout, logger)

	// 4. Метрики
	promReg := prometheus.NewRegistry()
	metrics := engine.NewMetrics(promReg)

	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.MetricsPort)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
		logger.Info("metrics exporter started", zap.String("addr", addr))
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("metrics exporter stopped", zap.Error(err))
		}
	}()

	// 5. Execution Layer: version store + Надежность (Retries, Circuit Breaker)
	safeStore := resolver.NewReliabilityWrapper(versionRepo, cfg.Engine, func(open bool) {
		state := 0.0
		if open {
			state = 1.0
		}
		metrics.CircuitBreakerState.WithLabelValues("version-store").Set(state)
	})
	resourceResolver := resolver.NewResolver(safeStore, logger)

	// 6. Lineage: синхронный леджер + фоновый ops-журнал
	ledger := lineage.NewLedger(lineageRepo, cfg.Engine.LineageTimeout, logger)
	journal := lineage.NewJournal(
		lineageRepo,
		cfg.Engine.JournalBufferSize,
		cfg.Engine.JournalFlushInterval,
		metrics.JournalBufferFill,
		logger,
	)
	journal.Start()

	// 7. Лимитер и превью-таблица
	limiter := ratelimit.NewLimiter(map[domain.Tier]int{
		domain.TierList:     cfg.Limits.List,
		domain.TierGet:      cfg.Limits.Get,
		domain.TierAudit:    cfg.Limits.Audit,
		domain.TierReports:  cfg.Limits.Reports,
		domain.TierRegister: cfg.Limits.Register,
	}, cfg.Limits.Window)
	preview := policy.NewPreviewTable(cfg.Preview)

	// 8. Сборка ядра и HTTP-биндинга
	core := engine.NewCore(
		identityResolver,
		regService,
		resourceResolver,
		ledger,
		limiter,
		preview,
		journal,
		metrics,
		logger,
	)
	gatewaySrv := engine.NewServer(core, identityResolver, regService, ledger, limiter, metrics, logger)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      gatewaySrv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 9. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("gateway started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	<-stop
	logger.Info("gateway stopping...")

	// Даем 5 секунд на завершение запросов
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}

	// Журнал останавливаем последним: Final Flush всей телеметрии в БД
	journal.Stop()
	logger.Info("gateway exited properly")
}
