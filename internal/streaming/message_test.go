package streaming

import (
	"testing"
	"time"

	"txcanceller/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeReplacement(t *testing.T) {
	event := domain.ReplacementEvent{
		ID:                   "evt-1",
		OriginalHash:         "0xold",
		ReplacementHash:      "0xnew",
		From:                 "0xfrom",
		Nonce:                20,
		Status:               domain.ReplacementStatusReplaced,
		MaxPriorityFeePerGas: "13",
		MaxFeePerGas:         "13",
		GasLimit:             "2",
		FeeSampleCID:         "bafy",
		OccurredAt:           time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
	}

	payload, err := Encode(FromEvent(314, event))
	require.NoError(t, err)
	assert.Contains(t, string(payload), `"status":"replaced"`)
	assert.NotContains(t, string(payload), `"error"`)

	msg, err := Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, MessageTypeReplacement, msg.Type)
	assert.Equal(t, uint64(314), msg.ChainID)
	assert.Equal(t, event, msg.Event())
}

func TestEncodeRejectsIncompleteMessages(t *testing.T) {
	_, err := Encode(Message{})
	assert.ErrorContains(t, err, "type")

	_, err = Encode(Message{Type: MessageTypeReplacement, ID: "x", Status: "failed"})
	assert.ErrorContains(t, err, "original_hash")
}

func TestDecodeRejectsMissingFields(t *testing.T) {
	_, err := Decode([]byte(`{"type":"replacement","original_hash":"0x1","status":"failed"}`))
	assert.ErrorContains(t, err, "id")

	_, err = Decode([]byte(`not json`))
	assert.Error(t, err)
}
