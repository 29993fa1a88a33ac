package bridge

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	OperationPending   = "pending"
	OperationRunning   = "running"
	OperationCompleted = "completed"
	OperationFailed    = "failed"
)

type Operation struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Status    string            `json:"status"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Error     string            `json:"error,omitempty"`
	StartedAt time.Time         `json:"startedAt"`
	EndedAt   *time.Time        `json:"endedAt,omitempty"`
}

// OperationLedger receives lifecycle transitions for tracked units of work.
// The core only writes into it; it never reads ledger state back for control
// decisions.
type OperationLedger interface {
	StartOperation(id, opType string, metadata map[string]string)
	CompleteOperation(id string)
	FailOperation(id string, err error)
}

type MemoryLedger struct {
	mu     sync.Mutex
	ops    map[string]*Operation
	logger *zap.Logger
}

func NewMemoryLedger(logger *zap.Logger) *MemoryLedger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryLedger{ops: map[string]*Operation{}, logger: logger}
}

func (l *MemoryLedger) StartOperation(id, opType string, metadata map[string]string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ops[id] = &Operation{
		ID:        id,
		Type:      opType,
		Status:    OperationRunning,
		Metadata:  metadata,
		StartedAt: time.Now().UTC(),
	}
	l.logger.Info("operation started", zap.String("id", id), zap.String("type", opType))
}

func (l *MemoryLedger) CompleteOperation(id string) {
	l.finish(id, OperationCompleted, "")
}

func (l *MemoryLedger) FailOperation(id string, err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	l.finish(id, OperationFailed, msg)
}

func (l *MemoryLedger) finish(id, status, errMsg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	op, ok := l.ops[id]
	if !ok {
		op = &Operation{ID: id, StartedAt: time.Now().UTC()}
		l.ops[id] = op
	}
	op.Status = status
	op.Error = errMsg
	now := time.Now().UTC()
	op.EndedAt = &now
	if status == OperationFailed {
		l.logger.Warn("operation failed", zap.String("id", id), zap.String("error", errMsg))
		return
	}
	l.logger.Info("operation completed", zap.String("id", id))
}

// Operation returns a copy of the tracked operation, if present.
func (l *MemoryLedger) Operation(id string) (Operation, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	op, ok := l.ops[id]
	if !ok {
		return Operation{}, false
	}
	return *op, true
}
