package websocket

import (
	"encoding/json"
	"time"
)

type MessageType string

const (
	// TypeHello is the first frame the hub sends after the upgrade; it
	// carries the connection id assigned to this socket.
	TypeHello            MessageType = "hello"
	TypeSignatureRequest MessageType = "signature_request"
	TypeInvoke           MessageType = "invoke"
	TypeInvokeResult     MessageType = "invoke_result"
	TypePing             MessageType = "ping"
	TypePong             MessageType = "pong"
)

type Message struct {
	Type      MessageType     `json:"type"`
	ID        string          `json:"id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type HelloPayload struct {
	ConnectionID string `json:"connection_id"`
}

type InvokePayload struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

type InvokeResultPayload struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func NewMessage(msgType MessageType, payload interface{}) (*Message, error) {
	var payloadBytes json.RawMessage
	if payload != nil {
		bytes, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		payloadBytes = bytes
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Payload:   payloadBytes,
	}, nil
}

func (m *Message) UnmarshalPayload(v interface{}) error {
	if m.Payload == nil {
		return nil
	}
	return json.Unmarshal(m.Payload, v)
}
