package temporal

import (
	"context"
	"sync"
)

// MockReconciler is an in-memory Reconciler for tests.
type MockReconciler struct {
	mu      sync.Mutex
	started []ReconcilePaymentInput
	results map[string]*ReconcilePaymentResult

	// StartErr, when set, is returned by StartReconcile.
	StartErr error
}

// NewMockReconciler creates a new mock reconciler.
func NewMockReconciler() *MockReconciler {
	return &MockReconciler{results: make(map[string]*ReconcilePaymentResult)}
}

// StartReconcile records the input.
func (m *MockReconciler) StartReconcile(ctx context.Context, input ReconcilePaymentInput) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.StartErr != nil {
		return "", m.StartErr
	}
	m.started = append(m.started, input)
	return ReconcileWorkflowID(input.TransactionHash), nil
}

// ReconcileResult returns the result set with SetResult, or ErrReconcileRunning.
func (m *MockReconciler) ReconcileResult(ctx context.Context, hash string) (*ReconcilePaymentResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.results[hash]
	if !ok {
		return nil, ErrReconcileRunning
	}
	return r, nil
}

// SetResult stores the result returned for hash.
func (m *MockReconciler) SetResult(hash string, r *ReconcilePaymentResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[hash] = r
}

// Started returns a copy of every input passed to StartReconcile.
func (m *MockReconciler) Started() []ReconcilePaymentInput {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ReconcilePaymentInput, len(m.started))
	copy(out, m.started)
	return out
}
