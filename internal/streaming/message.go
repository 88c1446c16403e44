package streaming

import (
	"encoding/json"
	"errors"
	"time"

	"txcanceller/internal/domain"
)

type MessageType string

const (
	MessageTypeReplacement MessageType = "replacement"
)

// Message is the wire form of a settled replacement attempt.
type Message struct {
	Type                 MessageType `json:"type"`
	ID                   string      `json:"id"`
	ChainID              uint64      `json:"chain_id,omitempty"`
	TraceID              string      `json:"trace_id,omitempty"`
	Status               string      `json:"status"`
	OriginalHash         string      `json:"original_hash"`
	ReplacementHash      string      `json:"replacement_hash,omitempty"`
	From                 string      `json:"from,omitempty"`
	Nonce                uint64      `json:"nonce"`
	MaxPriorityFeePerGas string      `json:"max_priority_fee_per_gas,omitempty"`
	MaxFeePerGas         string      `json:"max_fee_per_gas,omitempty"`
	GasLimit             string      `json:"gas_limit,omitempty"`
	FeeSampleCID         string      `json:"fee_sample_cid,omitempty"`
	Error                string      `json:"error,omitempty"`
	OccurredAt           time.Time   `json:"occurred_at"`
}

func FromEvent(chainID uint64, event domain.ReplacementEvent) Message {
	return Message{
		Type:                 MessageTypeReplacement,
		ID:                   event.ID,
		ChainID:              chainID,
		Status:               string(event.Status),
		OriginalHash:         event.OriginalHash,
		ReplacementHash:      event.ReplacementHash,
		From:                 event.From,
		Nonce:                event.Nonce,
		MaxPriorityFeePerGas: event.MaxPriorityFeePerGas,
		MaxFeePerGas:         event.MaxFeePerGas,
		GasLimit:             event.GasLimit,
		FeeSampleCID:         event.FeeSampleCID,
		Error:                event.Error,
		OccurredAt:           event.OccurredAt.UTC(),
	}
}

func (m Message) Event() domain.ReplacementEvent {
	return domain.ReplacementEvent{
		ID:                   m.ID,
		OriginalHash:         m.OriginalHash,
		ReplacementHash:      m.ReplacementHash,
		From:                 m.From,
		Nonce:                m.Nonce,
		Status:               domain.ReplacementStatus(m.Status),
		MaxPriorityFeePerGas: m.MaxPriorityFeePerGas,
		MaxFeePerGas:         m.MaxFeePerGas,
		GasLimit:             m.GasLimit,
		Error:                m.Error,
		FeeSampleCID:         m.FeeSampleCID,
		OccurredAt:           m.OccurredAt,
	}
}

func Encode(msg Message) ([]byte, error) {
	if err := msg.validate(); err != nil {
		return nil, err
	}
	return json.Marshal(msg)
}

func Decode(payload []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, err
	}
	if err := msg.validate(); err != nil {
		return Message{}, err
	}
	return msg, nil
}

func (m Message) validate() error {
	switch {
	case m.Type == "":
		return errors.New("message type is required")
	case m.ID == "":
		return errors.New("message id is required")
	case m.OriginalHash == "":
		return errors.New("original_hash is required")
	case m.Status == "":
		return errors.New("status is required")
	}
	return nil
}
