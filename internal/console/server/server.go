package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sandarb-io/gateway/internal/console/handler"
	"github.com/sandarb-io/gateway/internal/infra"
	"github.com/sandarb-io/gateway/internal/infra/auth"
	"go.uber.org/zap"
)

type ConsoleServer struct {
	router *chi.Mux
	logger *zap.Logger
	cfg    *infra.Config

	// Интерфейс для проверки токенов (RS256)
	// Реализуется через embedding BaseValidator в AuthService
	authValidator auth.TokenValidator

	// Обработчики бизнес-доменов
	authHandler    *handler.AuthHandler    // /auth/token
	agentHandler   *handler.AgentHandler   // /v1/agents (Approval Queue)
	linkHandler    *handler.LinkHandler    // /v1/links (Linkage Grants)
	lineageHandler *handler.LineageHandler // /v1/lineage + /v1/reports
}

// NewConsoleServer инициализирует сервер админки со всеми зависимостями
func NewConsoleServer(
	cfg *infra.Config,
	logger *zap.Logger,
	validator auth.TokenValidator,
	authH *handler.AuthHandler,
	agentH *handler.AgentHandler,
	linkH *handler.LinkHandler,
	lineageH *handler.LineageHandler,
) *ConsoleServer {
	s := &ConsoleServer{
		router:         chi.NewRouter(),
		logger:         logger.Named("console-api"),
		cfg:            cfg,
		authValidator:  validator,
		authHandler:    authH,
		agentHandler:   agentH,
		linkHandler:    linkH,
		lineageHandler: lineageH,
	}

	s.routes()
	return s
}

func (s *ConsoleServer) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware (для всех) ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// --- 2. ПУБЛИЧНЫЕ РОУТЫ (Открыты для всех) ---
	r.Group(func(r chi.Router) {
		// Логин должен быть доступен без токена
		r.Post("/auth/token", s.authHandler.Login)

		// Healthcheck для мониторинга
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	})

	// --- 3. ЗАЩИЩЕННЫЙ ПЕРИМЕТР (Требуют RS256 токен) ---
	r.Group(func(r chi.Router) {
		// Подключаем универсальный Middleware только для этой группы
		r.Use(auth.NewMiddleware(s.authValidator, s.logger))

		// Реестр агентов (Approval Queue)
		r.Route("/v1/agents", func(r chi.Router) {
			r.Get("/", s.agentHandler.List) // Очередь регистраций, фильтр по статусу
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.agentHandler.Get)            // Детали регистрации
				r.Post("/submit", s.agentHandler.Submit)  // Draft -> PendingApproval
				r.Post("/decide", s.agentHandler.Decide)  // Approve/Reject + Redis Publish
			})
		})

		// Linkage-гранты (явные связи агент -> ресурс)
		r.Route("/v1/links", func(r chi.Router) {
			r.Post("/", s.linkHandler.Create)
			r.Delete("/", s.linkHandler.Delete)
		})

		// Комплаенс-леджер (Observability)
		r.Get("/v1/lineage", s.lineageHandler.GetRecords)
		r.Get("/v1/reports/usage", s.lineageHandler.GetUsage)
	})
}

// ServeHTTP позволяет использовать ConsoleServer как стандартный http.Handler
func (s *ConsoleServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
