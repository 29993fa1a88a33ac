package bridge

import (
	"errors"
	"testing"
)

func TestMemoryLedgerLifecycle(t *testing.T) {
	ledger := NewMemoryLedger(nil)

	ledger.StartOperation("op-1", "import", map[string]string{"sourceRepo": "proj"})
	op, ok := ledger.Operation("op-1")
	if !ok || op.Status != OperationRunning {
		t.Fatalf("after start: %+v ok=%v", op, ok)
	}
	if op.Metadata["sourceRepo"] != "proj" {
		t.Fatalf("metadata lost: %+v", op)
	}

	ledger.CompleteOperation("op-1")
	op, _ = ledger.Operation("op-1")
	if op.Status != OperationCompleted || op.EndedAt == nil {
		t.Fatalf("after complete: %+v", op)
	}

	ledger.StartOperation("op-2", "import", nil)
	ledger.FailOperation("op-2", errors.New("boom"))
	op, _ = ledger.Operation("op-2")
	if op.Status != OperationFailed || op.Error != "boom" {
		t.Fatalf("after fail: %+v", op)
	}
}

func TestMemoryLedgerFailUnknownOperation(t *testing.T) {
	ledger := NewMemoryLedger(nil)
	ledger.FailOperation("ghost", errors.New("boom"))
	op, ok := ledger.Operation("ghost")
	if !ok || op.Status != OperationFailed {
		t.Fatalf("unknown id should still record the failure: %+v ok=%v", op, ok)
	}
}
