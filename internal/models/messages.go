package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageType enumerates the real-time client protocol message types
type MessageType string

const (
	MessageTypeSubscribe          MessageType = "subscribe"
	MessageTypeUnsubscribe        MessageType = "unsubscribe"
	MessageTypeProbabilityUpdate  MessageType = "probability_update"
	MessageTypeGameStateUpdate    MessageType = "game_state_update"
	MessageTypePredictionComplete MessageType = "prediction_complete"
	MessageTypeHeartbeat          MessageType = "heartbeat"
	MessageTypeConnectionAck      MessageType = "connection_ack"
	MessageTypeError              MessageType = "error"
	MessageTypeGap                MessageType = "gap"
)

// Message is the wire envelope for the real-time client protocol
type Message struct {
	Type      MessageType     `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	MessageID string          `json:"messageId"`
}

// NewMessage builds an envelope with a marshaled payload
func NewMessage(msgType MessageType, payload interface{}) (*Message, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload: %w", err)
		}
		raw = data
	}
	return &Message{
		Type:      msgType,
		Payload:   raw,
		Timestamp: time.Now().UTC(),
		MessageID: uuid.New().String(),
	}, nil
}

// SubscribePayload is the client request body for subscribe/unsubscribe
type SubscribePayload struct {
	Topics []string `json:"topics"`
}

// GapPayload tells a client that messages were dropped from its queue
type GapPayload struct {
	Topic   string `json:"topic"`
	Dropped int    `json:"dropped"`
}

// ErrorPayload carries a protocol-level error to the client
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Topic helpers. Clients subscribe to these exact strings.

func TopicEventProbabilities(eventID string) string {
	return fmt.Sprintf("event:%s:probabilities", eventID)
}

func TopicEventState(eventID string) string {
	return fmt.Sprintf("event:%s:state", eventID)
}

func TopicPrediction(scenarioID string) string {
	return fmt.Sprintf("prediction:%s", scenarioID)
}
