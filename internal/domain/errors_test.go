package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsRetryable(t *testing.T) {
	base := errors.New("boom")

	assert.True(t, IsRetryable(Transient("inference", base)))
	assert.True(t, IsRetryable(&ThrottleError{RetryAfter: time.Second, Cause: base}))
	assert.False(t, IsRetryable(Permanent("inference", base)))
	assert.False(t, IsRetryable(base), "untyped errors are not retried")
	assert.False(t, IsRetryable(nil))
}

func TestPermanentWinsOverTransient(t *testing.T) {
	// Перманентная причина, завернутая в транзиентную обертку, все равно
	// останавливает ретраи
	inner := Permanent("persist", errors.New("constraint violated"))
	wrapped := Transient("persist", inner)
	assert.False(t, IsRetryable(wrapped))
}

func TestStageErrorsUnwrap(t *testing.T) {
	cause := errors.New("connection reset")

	assert.True(t, errors.Is(Transient("redaction", cause), cause))
	assert.True(t, errors.Is(Permanent("redaction", cause), cause))
	assert.True(t, errors.Is(fmt.Errorf("wrapped: %w", &ThrottleError{Cause: cause}), cause))
}

func TestDedupKeyStable(t *testing.T) {
	at := time.Date(2026, 8, 27, 10, 0, 0, 123456789, time.UTC)
	ev := MutationEvent{ReportID: "r-1", SubmittedAt: at, Version: 3}

	assert.Equal(t, "r-1|2026-08-27T10:00:00.123456789Z|3", ev.DedupKey())

	// Тот же момент в другой таймзоне дает тот же ключ
	moscow := ev
	moscow.SubmittedAt = at.In(time.FixedZone("MSK", 3*3600))
	assert.Equal(t, ev.DedupKey(), moscow.DedupKey())
}
