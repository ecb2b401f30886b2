package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidTransition = errors.New("invalid execution state transition")
	ErrExecutionNotFound = errors.New("execution not found")
	ErrExecutionAborted  = errors.New("execution aborted by operator")

	// ErrHeadConflict — ожидаемая гонка на голове цепочки (CAS не прошел).
	// Никогда не отдается наружу: билдер перечитывает голову и повторяет.
	ErrHeadConflict = errors.New("ledger head moved")

	// ErrSegmentExists защищает write-once семантику хранилища сегментов
	ErrSegmentExists = errors.New("segment already committed")
)

// TransientStageError — сбой стадии, который имеет смысл ретраить
// (сетевой лаг, 5xx, таймаут бюджета стадии).
type TransientStageError struct {
	Stage string
	Cause error
}

func (e *TransientStageError) Error() string {
	return fmt.Sprintf("stage %s: transient failure: %v", e.Stage, e.Cause)
}

func (e *TransientStageError) Unwrap() error { return e.Cause }

// PermanentStageError — терминальный сбой: ретраи бессмысленны,
// исполнение уходит в Failed с сохранением контекста для ручного разбора.
type PermanentStageError struct {
	Stage string
	Cause error
}

func (e *PermanentStageError) Error() string {
	return fmt.Sprintf("stage %s: permanent failure: %v", e.Stage, e.Cause)
}

func (e *PermanentStageError) Unwrap() error { return e.Cause }

// ThrottleError — внешний сервис попросил подождать (прочитан Retry-After)
type ThrottleError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttled: retry after %v (cause: %v)", e.RetryAfter, e.Cause)
}

func (e *ThrottleError) Unwrap() error { return e.Cause }

// ChainIntegrityError — фатальное расхождение при верификации цепочки.
// Не чинится автоматически: починка сломанной цепи — операционное решение.
type ChainIntegrityError struct {
	SequenceNumber uint64
	Reason         string
}

func (e *ChainIntegrityError) Error() string {
	return fmt.Sprintf("chain integrity violated at sequence %d: %s", e.SequenceNumber, e.Reason)
}

// Transient оборачивает ошибку как ретраибельную для данной стадии
func Transient(stage string, cause error) error {
	return &TransientStageError{Stage: stage, Cause: cause}
}

// Permanent оборачивает ошибку как терминальную для данной стадии
func Permanent(stage string, cause error) error {
	return &PermanentStageError{Stage: stage, Cause: cause}
}

// IsRetryable отвечает, стоит ли повторять вызов стадии.
// Permanent всегда побеждает: даже завернутый в Transient он останавливает ретраи.
func IsRetryable(err error) bool {
	var perm *PermanentStageError
	if errors.As(err, &perm) {
		return false
	}
	var trans *TransientStageError
	var throttle *ThrottleError
	return errors.As(err, &trans) || errors.As(err, &throttle)
}
