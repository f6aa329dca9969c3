package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sandarb-io/gateway/internal/domain"
	"github.com/sandarb-io/gateway/internal/lineage"
	"github.com/sandarb-io/gateway/internal/policy"
	"github.com/sandarb-io/gateway/internal/render"
	"go.uber.org/zap"
	"google.golang.org/protobuf/types/known/structpb"
)

// Контракты коллабораторов ядра. Все — инжектируемые интерфейсы:
// в тестах подменяются in-memory фейками без синглтонов.

type IdentityResolver interface {
	Resolve(ctx context.Context, credential, presentedAgent string) (*domain.CallerIdentity, error)
}

type RegistryLookup interface {
	ApprovalStateOf(ctx context.Context, agentID string) domain.ApprovalStatus
	IsLinked(ctx context.Context, agentID string, rtype domain.ResourceType, name string) bool
}

type ResourceResolver interface {
	// (nil, nil) = NotFound; ошибка = хранилище недоступно
	Resolve(ctx context.Context, rtype domain.ResourceType, name string) (*domain.ResolvedResource, error)
}

type LineageEmitter interface {
	Record(ctx context.Context, rec domain.LineageRecord) error
}

type RateGuard interface {
	Check(callerID string, tier domain.Tier) (ok bool, retryAfter time.Duration)
}

// Request — транспортно-независимая форма запроса на выдачу.
// HTTP-биндинг и JSON-RPC конверт собирают одинаковый Request.
type Request struct {
	Credential string
	AgentID    string // X-Sandarb-Agent-ID / sourceAgent
	Type       domain.ResourceType
	Name       string
	TraceID    string
	Variables  map[string]string
}

// Response — результат Allowed-вердикта
type Response struct {
	TraceID        string
	VersionID      string
	Classification domain.Classification
	Content        *structpb.Struct // Уже с подставленными переменными
}

// Core — ядро выдачи ресурсов: identity -> limiter -> lookups -> gate ->
// interpolation -> lineage -> ответ. Stateless между запросами: вся
// разделяемая мутабельность живет в limiter-е и кэшах реестра.
type Core struct {
	identity IdentityResolver
	registry RegistryLookup
	resolver ResourceResolver
	ledger   LineageEmitter
	limiter  RateGuard
	preview  *policy.PreviewTable
	journal  *lineage.Journal
	metrics  *Metrics
	logger   *zap.Logger
}

func NewCore(
	identity IdentityResolver,
	reg RegistryLookup,
	res ResourceResolver,
	ledger LineageEmitter,
	limiter RateGuard,
	preview *policy.PreviewTable,
	journal *lineage.Journal,
	metrics *Metrics,
	logger *zap.Logger,
) *Core {
	return &Core{
		identity: identity,
		registry: reg,
		resolver: res,
		ledger:   ledger,
		limiter:  limiter,
		preview:  preview,
		journal:  journal,
		metrics:  metrics,
		logger:   logger.Named("core"),
	}
}

// Deliver обрабатывает один запрос на выдачу ресурса (Get-тир).
// Инвариант: каждый терминальный вердикт (включая Allowed) дает ровно одну
// lineage-запись, и запись подтверждается до возврата ответа.
// Rate-limit отказ вердиктом не является и в lineage не пишется.
func (c *Core) Deliver(ctx context.Context, req *Request) (*Response, *domain.DenyError) {
	start := time.Now()
	if req.TraceID == "" {
		req.TraceID = uuid.New().String()
	}

	c.metrics.TotalRequests.WithLabelValues(string(domain.TierGet)).Inc()

	// 1. Identity Resolver. Сбой = мгновенный Unauthenticated,
	// до лимитера и хранилищ дело не доходит.
	caller, idErr := c.identity.Resolve(ctx, req.Credential, req.AgentID)
	if idErr != nil {
		caller = nil
	}

	var (
		approval = domain.ApprovalUnknown
		linked   bool
		resource *domain.ResolvedResource
		resErr   error
	)

	if caller != nil && caller.AgentID != "" {
		// 2. Rate Limiter — отбиваем дешево, до чтений из хранилищ
		if ok, retryAfter := c.limiter.Check(caller.Key(), domain.TierGet); !ok {
			c.metrics.RateLimitedTotal.WithLabelValues(string(domain.TierGet)).Inc()
			c.journal.Log(lineage.OpsEvent{
				ID:       uuid.New().String(),
				TraceID:  req.TraceID,
				CallerID: caller.Key(),
				Tier:     string(domain.TierGet),
				Kind:     "rate_limited",
			})
			return nil, &domain.DenyError{
				Reason:     domain.ReasonRateLimited,
				Message:    "get tier budget exhausted",
				RetryAfter: retryAfter,
			}
		}

		// 3. Registry Lookup + Resource Resolver: оба read-only,
		// ходим параллельно. Порядок ПРОВЕРОК обеспечивает gate.
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			approval = c.registry.ApprovalStateOf(ctx, caller.AgentID)
			linked = c.registry.IsLinked(ctx, caller.AgentID, req.Type, req.Name)
		}()
		go func() {
			defer wg.Done()
			resource, resErr = c.resolver.Resolve(ctx, req.Type, req.Name)
		}()
		wg.Wait()
	}

	// 4. Policy Gate
	var verdict policy.Verdict
	if resErr != nil {
		// Version store недоступен: fail closed, никогда не Allowed
		verdict = policy.Verdict{Decision: domain.DecisionDenied, Reason: domain.ReasonUnavailable}
	} else {
		var previewID *policy.PreviewIdentity
		if caller != nil {
			previewID = c.preview.Lookup(caller.AgentID)
		}
		verdict = policy.Decide(policy.Input{
			Identity: caller,
			Approval: approval,
			Linked:   linked,
			Resource: resource,
			Preview:  previewID,
		})
	}

	// 5. Lineage — синхронно, до ответа
	rec := domain.LineageRecord{
		TraceID:      req.TraceID,
		AgentID:      lineageAgent(caller, req),
		ResourceType: req.Type,
		ResourceName: req.Name,
		Decision:     verdict.Decision,
		Reason:       verdict.Reason,
	}
	if verdict.Decision == domain.DecisionAllowed {
		rec.VersionID = resource.VersionID
	}

	if err := c.ledger.Record(ctx, rec); err != nil {
		// Неаудированная выдача запрещена: Allowed превращается в отказ.
		// Для Denied вердикт и так отказ — возвращаем его, сбой в логе.
		if verdict.Decision == domain.DecisionAllowed {
			c.observe(start, domain.DecisionDenied, domain.ReasonUnavailable)
			return nil, domain.Deny(domain.ReasonUnavailable, "audit trail unavailable")
		}
	}

	c.observe(start, verdict.Decision, verdict.Reason)

	if verdict.Decision == domain.DecisionDenied {
		return nil, denyFor(verdict.Reason)
	}

	// 6. Variable Interpolation — только на Allowed-пути
	content := render.Interpolate(resource.Content, req.Variables)

	c.journal.Log(lineage.OpsEvent{
		ID:         uuid.New().String(),
		TraceID:    req.TraceID,
		CallerID:   caller.Key(),
		Tier:       string(domain.TierGet),
		Kind:       "request",
		DurationMs: time.Since(start).Milliseconds(),
	})

	return &Response{
		TraceID:        req.TraceID,
		VersionID:      resource.VersionID,
		Classification: resource.Classification,
		Content:        content,
	}, nil
}

func (c *Core) observe(start time.Time, decision domain.Decision, reason domain.ReasonCode) {
	c.metrics.RequestDuration.WithLabelValues(string(domain.TierGet), string(decision)).
		Observe(time.Since(start).Seconds())
	if decision == domain.DecisionDenied {
		c.metrics.DenialTotal.WithLabelValues(string(reason)).Inc()
	}
}

// lineageAgent: для неаутентифицированных запросов в запись идет
// заявленный (непроверенный) agent id — если он был предъявлен
func lineageAgent(caller *domain.CallerIdentity, req *Request) string {
	if caller != nil && caller.AgentID != "" {
		return caller.AgentID
	}
	return req.AgentID
}

func denyFor(reason domain.ReasonCode) *domain.DenyError {
	switch reason {
	case domain.ReasonUnauthenticated:
		return domain.Deny(reason, "missing, expired or invalid credential")
	case domain.ReasonNotFound:
		return domain.Deny(reason, "resource not found")
	case domain.ReasonNotRegistered:
		return domain.Deny(reason, "agent is not registered or not approved")
	case domain.ReasonNotLinked:
		return domain.Deny(reason, "resource is not linked to this agent")
	default:
		return domain.Deny(domain.ReasonUnavailable, "service temporarily unavailable")
	}
}
