package service

import (
	"context"
	"sync"

	"signpad-agent/internal/domain"
	"signpad-agent/internal/websocket"
)

type mockIdentity struct {
	identity   *domain.DeviceIdentity
	getErr     error
	registered bool
}

func newMockIdentity() *mockIdentity {
	return &mockIdentity{
		identity: &domain.DeviceIdentity{
			DeviceName:       "KIOSK-TEST",
			PseudoMacAddress: "02:11:22:33:44:55",
			IPOrHostname:     "10.0.0.5",
			StaffDeviceID:    "staff-1",
		},
	}
}

func (m *mockIdentity) Get(context.Context) (*domain.DeviceIdentity, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.identity, nil
}

func (m *mockIdentity) MarkRegistered(context.Context) error {
	m.registered = true
	return nil
}

type mockBackend struct {
	mu sync.Mutex

	registerCalls int
	registerErr   error
	registerResp  *domain.RegisterDeviceResponse
	registerGate  chan struct{}

	updateCalls int
	updateErr   error
	updateReqs  []*domain.UpdateConnectionRequest

	onlineDevices []*domain.RegisteredDevice
	onlineErr     error

	submitCalls int
	submitErr   error
	submitReqs  []*domain.SubmitSignatureRequest
}

func newMockBackend() *mockBackend {
	return &mockBackend{
		registerResp: &domain.RegisterDeviceResponse{
			Device: domain.RegisteredDevice{
				ID:          "dev-1",
				DeviceName:  "KIOSK-TEST",
				IsOnline:    true,
				IsAvailable: true,
			},
		},
	}
}

func (m *mockBackend) RegisterDevice(_ context.Context, _ *domain.RegisterDeviceRequest) (*domain.RegisterDeviceResponse, error) {
	m.mu.Lock()
	m.registerCalls++
	gate := m.registerGate
	m.mu.Unlock()

	if gate != nil {
		<-gate
	}

	if m.registerErr != nil {
		return nil, m.registerErr
	}
	return m.registerResp, nil
}

func (m *mockBackend) UpdateConnection(_ context.Context, req *domain.UpdateConnectionRequest) (*domain.UpdateConnectionResponse, error) {
	m.mu.Lock()
	m.updateCalls++
	m.updateReqs = append(m.updateReqs, req)
	m.mu.Unlock()

	if m.updateErr != nil {
		return nil, m.updateErr
	}
	return &domain.UpdateConnectionResponse{ConnectionID: req.ConnectionID, IsOnline: true}, nil
}

func (m *mockBackend) OnlineDevices(context.Context) ([]*domain.RegisteredDevice, error) {
	if m.onlineErr != nil {
		return nil, m.onlineErr
	}
	return m.onlineDevices, nil
}

func (m *mockBackend) SubmitSignature(_ context.Context, req *domain.SubmitSignatureRequest) (*domain.SubmitSignatureResponse, error) {
	m.mu.Lock()
	m.submitCalls++
	m.submitReqs = append(m.submitReqs, req)
	m.mu.Unlock()

	if m.submitErr != nil {
		return nil, m.submitErr
	}
	return &domain.SubmitSignatureResponse{RequestID: req.SessionID}, nil
}

func (m *mockBackend) registerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.registerCalls
}

func (m *mockBackend) updateCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateCalls
}

func (m *mockBackend) submitCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.submitCalls
}

// mockChannel reports connections synchronously so tests observe the full
// chain without sleeping.
type mockChannel struct {
	mu sync.Mutex

	deviceName   string
	token        string
	connectErr   error
	connectCalls int
	closeCalls   int
	connectionID string
	connectID    string
	state        websocket.ConnState

	onConnected func(string)
	observer    websocket.StateObserver
	handlers    map[websocket.MessageType][]websocket.EventHandler

	invokeResult *websocket.InvokeResultPayload
	invokeErr    error
}

func newMockChannel() *mockChannel {
	return &mockChannel{
		connectID: "conn-1",
		state:     websocket.StateDisconnected,
		handlers:  make(map[websocket.MessageType][]websocket.EventHandler),
	}
}

func (m *mockChannel) SetDeviceName(name string) {
	m.mu.Lock()
	m.deviceName = name
	m.mu.Unlock()
}

func (m *mockChannel) SetToken(token string) {
	m.mu.Lock()
	m.token = token
	m.mu.Unlock()
}

func (m *mockChannel) Connect(context.Context) error {
	m.mu.Lock()
	m.connectCalls++
	onConnected := m.onConnected
	connID := m.connectID
	m.mu.Unlock()

	if m.connectErr != nil {
		return m.connectErr
	}

	m.mu.Lock()
	m.state = websocket.StateConnected
	m.connectionID = connID
	m.mu.Unlock()

	if onConnected != nil {
		onConnected(connID)
	}

	return nil
}

func (m *mockChannel) Close() {
	m.mu.Lock()
	m.closeCalls++
	m.state = websocket.StateDisconnected
	m.connectionID = ""
	m.mu.Unlock()
}

func (m *mockChannel) ConnectionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectionID
}

func (m *mockChannel) State() websocket.ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *mockChannel) SetConnectedHandler(handler func(string)) {
	m.mu.Lock()
	m.onConnected = handler
	m.mu.Unlock()
}

func (m *mockChannel) SetStateObserver(observer websocket.StateObserver) {
	m.mu.Lock()
	m.observer = observer
	m.mu.Unlock()
}

func (m *mockChannel) Subscribe(msgType websocket.MessageType, handler websocket.EventHandler) {
	m.mu.Lock()
	m.handlers[msgType] = append(m.handlers[msgType], handler)
	m.mu.Unlock()
}

func (m *mockChannel) Invoke(context.Context, string, interface{}) (*websocket.InvokeResultPayload, error) {
	if m.invokeErr != nil {
		return nil, m.invokeErr
	}
	if m.invokeResult != nil {
		return m.invokeResult, nil
	}
	return &websocket.InvokeResultPayload{Success: true}, nil
}

// emitConnected replays a connected notification, as the hub does when it
// repeats the event for one connection id.
func (m *mockChannel) emitConnected(connID string) {
	m.mu.Lock()
	onConnected := m.onConnected
	m.connectionID = connID
	m.state = websocket.StateConnected
	m.mu.Unlock()

	if onConnected != nil {
		onConnected(connID)
	}
}
