package main

import (
	"bytes"
	"context"
	"math/big"
	"testing"
	"time"

	"txcanceller/internal/domain"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmountFlag(t *testing.T) {
	value, err := parseAmountFlag("fee", "0x10")
	require.NoError(t, err)
	assert.Equal(t, int64(16), value.Int64())

	value, err = parseAmountFlag("fee", "2500000000")
	require.NoError(t, err)
	assert.Equal(t, "2500000000", value.String())

	_, err = parseAmountFlag("fee", "lots")
	assert.ErrorContains(t, err, "--fee")
}

func TestRenderPending(t *testing.T) {
	now := time.Unix(1700000000, 0)
	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)

	renderPending(cmd, []domain.PendingTransaction{
		{Hash: "0xb", From: "0xf", Nonce: 9, MaxPriorityFeePerGas: big.NewInt(1500), GasLimit: big.NewInt(21000), Timestamp: now.Add(-2 * time.Hour)},
		{Hash: "0xa", From: "0xf", Nonce: 3, MaxPriorityFeePerGas: big.NewInt(10), Timestamp: now.Add(-time.Minute)},
	}, now)

	text := out.String()
	assert.Contains(t, text, "1,500")
	assert.Contains(t, text, "21,000")
	assert.Contains(t, text, "2 hours ago")
	assert.Less(t, bytes.Index(out.Bytes(), []byte("0xa")), bytes.Index(out.Bytes(), []byte("0xb")))
}

func TestLogReplacementAcceptsEvents(t *testing.T) {
	err := logReplacement(context.Background(), domain.ReplacementEvent{
		OriginalHash: "0xa",
		Status:       domain.ReplacementStatusFailed,
		Error:        "boom",
	})
	assert.NoError(t, err)
}

func TestDisabledSenderRefuses(t *testing.T) {
	_, err := disabledSender{}.Send(context.Background(), domain.ReplacementParams{})
	assert.Error(t, err)
}
