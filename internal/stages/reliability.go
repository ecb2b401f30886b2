package stages

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"github.com/xela07ax/evidence-pipeline-prototype/internal/domain"
	"golang.org/x/time/rate"
)

type ReliabilityConfig struct {
	CBMaxRequests  uint32
	CBInterval     time.Duration
	CBTimeout      time.Duration
	RateLimitRPS   float64
	RateLimitBurst int
}

// ReliabilityWrapper защищает внешний вызов стадии: Rate Limiter + Circuit Breaker.
// Ретраи здесь не живут — ими управляет оркестратор; задача обертки — не дать
// конвейеру добивать деградировавший внешний сервис.
type ReliabilityWrapper struct {
	next    Adapter
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

func NewReliabilityWrapper(next Adapter, cfg ReliabilityConfig) *ReliabilityWrapper {
	if cfg.CBMaxRequests == 0 {
		cfg.CBMaxRequests = 3
	}
	if cfg.CBInterval <= 0 {
		cfg.CBInterval = 5 * time.Second
	}
	if cfg.CBTimeout <= 0 {
		cfg.CBTimeout = 30 * time.Second // Время, через которое CB попробует "закрыться"
	}
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 100
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 20
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        next.Name() + "-stage",
		MaxRequests: cfg.CBMaxRequests,
		Interval:    cfg.CBInterval,
		Timeout:     cfg.CBTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// Если более 5 ошибок подряд — открываемся (блокируем трафик)
			return counts.ConsecutiveFailures > 5
		},
		IsSuccessful: func(err error) bool {
			// Permanent — проблема данных, а не здоровья сервиса; CB не трогаем
			var perm *domain.PermanentStageError
			return err == nil || errors.As(err, &perm)
		},
	})

	return &ReliabilityWrapper{
		next:    next,
		cb:      cb,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst),
	}
}

func (w *ReliabilityWrapper) Name() string { return w.next.Name() }

func (w *ReliabilityWrapper) Execute(ctx context.Context, rc domain.ReportContext) (domain.ReportContext, error) {
	// 1. Rate Limiter
	if err := w.limiter.Wait(ctx); err != nil {
		return rc, domain.Transient(w.Name(), fmt.Errorf("rate limit exceeded: %w", err))
	}

	// 2. Circuit Breaker
	result, err := w.cb.Execute(func() (interface{}, error) {
		return w.next.Execute(ctx, rc)
	})
	if err != nil {
		// Открытый предохранитель — транзиентно: сервис оживет, ретраи дождутся
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return rc, domain.Transient(w.Name(), err)
		}
		if out, ok := result.(domain.ReportContext); ok {
			return out, err
		}
		return rc, err
	}

	return result.(domain.ReportContext), nil
}
