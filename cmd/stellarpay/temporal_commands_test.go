package main

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/brojonat/stellarpay/service/temporal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const reconcileHash = "3389e9f0f1a65f19736cacf544c2e825313e8447f569233bb8db39aa607c8889"

func TestRunReconcile_NoWait(t *testing.T) {
	r := temporal.NewMockReconciler()
	var out bytes.Buffer

	input := temporal.ReconcilePaymentInput{TransactionHash: reconcileHash, Timeout: 2 * time.Minute}
	err := runReconcile(context.Background(), r, input, false, time.Millisecond, false, &out)
	require.NoError(t, err)

	started := r.Started()
	require.Len(t, started, 1)
	assert.Equal(t, input, started[0])
	assert.Contains(t, out.String(), temporal.ReconcileWorkflowID(reconcileHash))
}

func TestRunReconcile_WaitForResult(t *testing.T) {
	r := temporal.NewMockReconciler()
	r.SetResult(reconcileHash, &temporal.ReconcilePaymentResult{
		TransactionHash: reconcileHash,
		Status:          "confirmed",
		PaymentsUpdated: 1,
		Published:       true,
	})
	var out bytes.Buffer

	input := temporal.ReconcilePaymentInput{TransactionHash: reconcileHash}
	err := runReconcile(context.Background(), r, input, true, time.Millisecond, false, &out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Status:      confirmed")
	assert.Contains(t, out.String(), "Updated:     1 payments")
}

func TestRunReconcile_WaitCancelled(t *testing.T) {
	r := temporal.NewMockReconciler()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	input := temporal.ReconcilePaymentInput{TransactionHash: reconcileHash}
	err := runReconcile(ctx, r, input, true, time.Millisecond, false, &bytes.Buffer{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRunReconcile_StartError(t *testing.T) {
	r := temporal.NewMockReconciler()
	r.StartErr = errors.New("temporal down")

	input := temporal.ReconcilePaymentInput{TransactionHash: reconcileHash}
	err := runReconcile(context.Background(), r, input, false, time.Millisecond, false, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "temporal down")
}
