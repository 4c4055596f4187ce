package service

import (
	"context"

	"signpad-agent/internal/domain"
	"signpad-agent/internal/websocket"
)

// IdentityProvider resolves the persisted device identity.
type IdentityProvider interface {
	Get(ctx context.Context) (*domain.DeviceIdentity, error)
	MarkRegistered(ctx context.Context) error
}

// BackendClient is the HTTP surface of the backend device API.
type BackendClient interface {
	RegisterDevice(ctx context.Context, req *domain.RegisterDeviceRequest) (*domain.RegisterDeviceResponse, error)
	UpdateConnection(ctx context.Context, req *domain.UpdateConnectionRequest) (*domain.UpdateConnectionResponse, error)
	OnlineDevices(ctx context.Context) ([]*domain.RegisteredDevice, error)
	SubmitSignature(ctx context.Context, req *domain.SubmitSignatureRequest) (*domain.SubmitSignatureResponse, error)
}

// RealtimeChannel is the persistent push connection owned by the
// orchestrator. The UI never touches it directly.
type RealtimeChannel interface {
	SetDeviceName(name string)
	SetToken(token string)
	Connect(ctx context.Context) error
	Close()
	ConnectionID() string
	State() websocket.ConnState
	SetConnectedHandler(handler func(connectionID string))
	SetStateObserver(observer websocket.StateObserver)
	Subscribe(msgType websocket.MessageType, handler websocket.EventHandler)
	Invoke(ctx context.Context, method string, params interface{}) (*websocket.InvokeResultPayload, error)
}
