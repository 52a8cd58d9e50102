package main

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/brojonat/stellarpay/service/stellar"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAddress(t *testing.T) {
	now := time.UnixMilli(1700000000123)

	gen, err := generateAddress(now)
	require.NoError(t, err)

	assert.True(t, stellar.IsValidAddress(gen.Address))
	assert.True(t, stellar.IsValidSecret(gen.Secret))
	assert.Equal(t, "1700000000123", gen.Memo)
	assert.GreaterOrEqual(t, len(gen.Memo), stellar.MinMemoLength)

	kp, err := stellar.KeypairFromSecret(gen.Secret)
	require.NoError(t, err)
	assert.Equal(t, gen.Address, kp.Address)

	other, err := generateAddress(now)
	require.NoError(t, err)
	assert.NotEqual(t, gen.Address, other.Address)
}

func TestKeygenCommand_JSON(t *testing.T) {
	out, err := runApp(t, "--json", "keygen")
	require.NoError(t, err)

	var gen generatedAddress
	require.NoError(t, json.Unmarshal([]byte(out), &gen))
	assert.True(t, stellar.IsValidAddress(gen.Address))
	assert.NotEmpty(t, gen.Secret)
	assert.Len(t, gen.Memo, 13)
}
