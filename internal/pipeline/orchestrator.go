package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/google/uuid"
	"github.com/xela07ax/evidence-pipeline-prototype/internal/domain"
	"github.com/xela07ax/evidence-pipeline-prototype/internal/stages"
	"go.uber.org/zap"
)

type OrchestratorConfig struct {
	StageTimeout  time.Duration
	RetryAttempts uint
	BackoffBase   time.Duration
}

// ExecutionStatus — снимок состояния прогона для API статуса
type ExecutionStatus struct {
	ExecutionID string                `json:"execution_id"`
	ReportID    string                `json:"report_id"`
	State       domain.ExecutionState `json:"state"`
	Error       string                `json:"error,omitempty"`
	StartedAt   time.Time             `json:"started_at"`
	FinishedAt  *time.Time            `json:"finished_at,omitempty"`
}

type execution struct {
	mu     sync.Mutex
	status ExecutionStatus
	cancel context.CancelFunc
	// Взведенный флаг отличает операторский abort от обычного shutdown
	aborted bool
}

func (e *execution) snapshot() ExecutionStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

func (e *execution) transition(next domain.ExecutionState) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.status.State.CanTransitionTo(next); err != nil {
		return err
	}
	e.status.State = next
	return nil
}

func (e *execution) finish(state domain.ExecutionState, errMsg string, at time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	// Терминальное состояние фиксируется ровно один раз
	if e.status.State.Terminal() {
		return false
	}
	e.status.State = state
	e.status.Error = errMsg
	e.status.FinishedAt = &at
	return true
}

// Orchestrator гонит каждый отчет через фиксированную последовательность стадий.
// Один прогон — одна горутина; реестр дает статус и прицельную отмену.
type Orchestrator struct {
	cfg     OrchestratorConfig
	steps   []step
	logger  *zap.Logger
	metrics *Metrics

	mu   sync.RWMutex
	regs map[string]*execution
	wg   sync.WaitGroup
}

type step struct {
	adapter stages.Adapter
	state   domain.ExecutionState
}

func NewOrchestrator(
	cfg OrchestratorConfig,
	redaction, inference, enrichment, persist stages.Adapter,
	logger *zap.Logger,
	metrics *Metrics,
) *Orchestrator {
	if cfg.StageTimeout <= 0 {
		cfg.StageTimeout = 30 * time.Second
	}
	if cfg.RetryAttempts == 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 200 * time.Millisecond
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Orchestrator{
		cfg: cfg,
		steps: []step{
			{adapter: redaction, state: domain.StateRedacting},
			{adapter: inference, state: domain.StateInferring},
			{adapter: enrichment, state: domain.StateEnriching},
			{adapter: persist, state: domain.StatePersisting},
		},
		logger:  logger.With(zap.String("component", "orchestrator")),
		metrics: metrics,
		regs:    make(map[string]*execution),
	}
}

// StartPipeline регистрирует прогон и запускает его в фоне.
// Родительский ctx живет дольше HTTP-запроса — прогон не должен умирать
// вместе с соединением клиента, только вместе с процессом.
func (o *Orchestrator) StartPipeline(parent context.Context, rc domain.ReportContext) string {
	execID := uuid.New().String()
	runCtx, cancel := context.WithCancel(parent)

	exec := &execution{
		status: ExecutionStatus{
			ExecutionID: execID,
			ReportID:    rc.ReportID,
			State:       domain.StateCreated,
			StartedAt:   time.Now().UTC(),
		},
		cancel: cancel,
	}

	o.mu.Lock()
	o.regs[execID] = exec
	o.mu.Unlock()

	o.metrics.ExecutionsInFlight.Inc()
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer cancel()
		o.run(runCtx, exec, rc)
	}()

	return execID
}

// GetStatus возвращает снимок прогона
func (o *Orchestrator) GetStatus(execID string) (ExecutionStatus, error) {
	o.mu.RLock()
	exec, ok := o.regs[execID]
	o.mu.RUnlock()
	if !ok {
		return ExecutionStatus{}, domain.ErrExecutionNotFound
	}
	return exec.snapshot(), nil
}

// Abort прерывает прогон: текущая стадия отменяется, результат отбрасывается.
// На терминальном прогоне — no-op.
func (o *Orchestrator) Abort(execID string) error {
	o.mu.RLock()
	exec, ok := o.regs[execID]
	o.mu.RUnlock()
	if !ok {
		return domain.ErrExecutionNotFound
	}

	exec.mu.Lock()
	if exec.status.State.Terminal() {
		exec.mu.Unlock()
		return nil
	}
	exec.aborted = true
	exec.mu.Unlock()

	exec.cancel()
	o.logger.Info("execution abort requested", zap.String("execution_id", execID))
	return nil
}

// Wait блокирует до завершения всех активных прогонов (graceful shutdown)
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) run(ctx context.Context, exec *execution, rc domain.ReportContext) {
	log := o.logger.With(
		zap.String("execution_id", exec.status.ExecutionID),
		zap.String("report_id", rc.ReportID),
	)
	log.Info("execution started")

	current := rc
	for _, st := range o.steps {
		if err := exec.transition(st.state); err != nil {
			o.fail(exec, log, fmt.Errorf("state machine: %w", err))
			return
		}
		current.Status = st.state

		out, err := o.runStage(ctx, st.adapter, current)
		if err != nil {
			if o.wasAborted(exec, ctx, err) {
				// Результат прерванной стадии отбрасывается целиком
				o.finishAborted(exec, log)
				return
			}
			o.fail(exec, log, err)
			return
		}
		current = out
	}

	if exec.finish(domain.StateCompleted, "", time.Now().UTC()) {
		o.metrics.ExecutionsTotal.WithLabelValues(string(domain.StateCompleted)).Inc()
		o.metrics.ExecutionsInFlight.Dec()
	}
	log.Info("execution completed", zap.Uint64("version", current.Version))
}

// runStage выполняет одну стадию с ретраями. Каждая попытка получает свой
// таймаут; истекший дедлайн попытки считается транзиентным сбоем.
func (o *Orchestrator) runStage(ctx context.Context, adapter stages.Adapter, rc domain.ReportContext) (domain.ReportContext, error) {
	var out domain.ReportContext
	started := time.Now()

	r := retry.New(
		retry.Context(ctx),
		retry.Attempts(o.cfg.RetryAttempts),
		retry.Delay(o.cfg.BackoffBase),
		retry.LastErrorOnly(true),
		// Умный расчет задержки
		retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
			// Если внешний сервис прислал Retry-After — уважаем его
			var tErr *domain.ThrottleError
			if errors.As(err, &tErr) {
				return tErr.RetryAfter
			}

			// В остальных случаях (сетевой лаг, 500-ка) — стандартный экспоненциальный бэкофф
			return retry.BackOffDelay(n, err, config)
		}),
		retry.RetryIf(func(err error) bool {
			return domain.IsRetryable(err)
		}),
		retry.OnRetry(func(n uint, err error) {
			o.metrics.StageRetries.WithLabelValues(adapter.Name()).Inc()
			o.logger.Warn("stage retry",
				zap.String("stage", adapter.Name()),
				zap.Uint("attempt", n+1),
				zap.Error(err),
			)
		}),
	)

	retryErr := r.Do(func() error {
		tCtx, cancel := context.WithTimeout(ctx, o.cfg.StageTimeout)
		defer cancel()

		res, callErr := adapter.Execute(tCtx, rc)
		if callErr != nil {
			// Дедлайн попытки — транзиентный сбой, если прогон в целом жив
			if errors.Is(callErr, context.DeadlineExceeded) && ctx.Err() == nil {
				return domain.Transient(adapter.Name(), callErr)
			}
			return callErr
		}
		out = res
		return nil
	})

	outcome := "ok"
	if retryErr != nil {
		outcome = "error"
	}
	o.metrics.StageDuration.WithLabelValues(adapter.Name(), outcome).Observe(time.Since(started).Seconds())

	if retryErr != nil {
		// Исчерпанные ретраи транзиентной ошибки эскалируются в перманентную:
		// дальше этой стадией занимается оператор, а не автоматика
		var perm *domain.PermanentStageError
		if !errors.As(retryErr, &perm) && ctx.Err() == nil {
			return rc, domain.Permanent(adapter.Name(), fmt.Errorf("retries exhausted: %w", retryErr))
		}
		return rc, retryErr
	}
	return out, nil
}

func (o *Orchestrator) wasAborted(exec *execution, ctx context.Context, err error) bool {
	if errors.Is(err, domain.ErrExecutionAborted) {
		return true
	}
	if ctx.Err() == nil {
		return false
	}
	exec.mu.Lock()
	defer exec.mu.Unlock()
	return exec.aborted
}

func (o *Orchestrator) finishAborted(exec *execution, log *zap.Logger) {
	if exec.finish(domain.StateFailed, domain.ErrExecutionAborted.Error(), time.Now().UTC()) {
		o.metrics.ExecutionsTotal.WithLabelValues("aborted").Inc()
		o.metrics.ExecutionsInFlight.Dec()
	}
	log.Warn("execution aborted")
}

func (o *Orchestrator) fail(exec *execution, log *zap.Logger, err error) {
	if exec.finish(domain.StateFailed, err.Error(), time.Now().UTC()) {
		o.metrics.ExecutionsTotal.WithLabelValues(string(domain.StateFailed)).Inc()
		o.metrics.ExecutionsInFlight.Dec()
	}
	log.Error("execution failed", zap.Error(err))
}
