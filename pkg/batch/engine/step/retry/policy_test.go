package retry

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tigerroll/caseflow/pkg/batch/support/util/exception"
)

func TestShouldRetry(t *testing.T) {
	p := NewExponentialPolicy(3, time.Second, 30*time.Second, 2)

	assert.False(t, p.ShouldRetry(nil))
	assert.True(t, p.ShouldRetry(&exception.BatchFatalError{BatchID: "b", Err: errors.New("unreachable")}))
	assert.True(t, p.ShouldRetry(exception.NewBatchError("executor", "db write", errors.New("locked"), false, true)))
	assert.True(t, p.ShouldRetry(errors.New("read tcp: connection reset by peer")))
	assert.False(t, p.ShouldRetry(exception.NewBatchError("executor", "bad input", nil, false, false)))
	assert.False(t, p.ShouldRetry(errors.New("invalid transition")))
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	p := NewExponentialPolicy(5, time.Second, 5*time.Second, 2)

	assert.Equal(t, time.Second, p.GetBackoffInterval(0))
	assert.Equal(t, time.Second, p.GetBackoffInterval(1))
	assert.Equal(t, 2*time.Second, p.GetBackoffInterval(2))
	assert.Equal(t, 4*time.Second, p.GetBackoffInterval(3))
	assert.Equal(t, 5*time.Second, p.GetBackoffInterval(4))
	assert.Equal(t, 5, p.GetMaxAttempts())
}

func TestFixedIntervalWhenFactorBelowOne(t *testing.T) {
	p := NewExponentialPolicy(3, 100*time.Millisecond, 0, 0.5)
	assert.Equal(t, 100*time.Millisecond, p.GetBackoffInterval(3))
}
