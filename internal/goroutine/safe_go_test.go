package goroutine

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type captureLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *captureLogger) Errorf(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, fmt.Sprintf(format, args...))
}

func (l *captureLogger) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.lines)
}

func TestRecoveryHandler_Run(t *testing.T) {
	log := &captureLogger{}
	rh := NewRecoveryHandler(log)

	assert.True(t, rh.Run("ok", func() {}))
	assert.False(t, rh.Run("sink.kafka", func() { panic("broker gone") }))
	assert.Equal(t, 1, log.count())
	assert.Contains(t, log.lines[0], "sink.kafka")
	assert.Contains(t, log.lines[0], "broker gone")
}

func TestRecoveryHandler_SafeGo(t *testing.T) {
	log := &captureLogger{}
	rh := NewRecoveryHandler(log)

	rh.SafeGo("job.sweep", func() { panic("boom") })
	assert.Eventually(t, func() bool { return log.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestRunWithDefaultHandler(t *testing.T) {
	assert.False(t, Run("default", func() { panic("x") }))
}
