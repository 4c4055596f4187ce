package domain

// SessionState tracks the orchestrator's progress from unregistered to
// actively listening for signature requests. Failures from any non-terminal
// state return to StateIdle with an attached error; there is no terminal
// failure state.
type SessionState string

const (
	StateIdle               SessionState = "idle"
	StateGettingDeviceInfo  SessionState = "getting-device-info"
	StateRegistering        SessionState = "registering"
	StateConnectingChannel  SessionState = "connecting-channel"
	StateUpdatingConnection SessionState = "updating-connection"
	StateStartingHeartbeat  SessionState = "starting-heartbeat"
	StateReady              SessionState = "ready"
)

// SessionSnapshot is the read-only view of the session the control API
// serves to the presentation layer.
type SessionSnapshot struct {
	State     SessionState      `json:"state"`
	Ready     bool              `json:"ready"`
	LastError string            `json:"last_error,omitempty"`
	Device    *RegisteredDevice `json:"device,omitempty"`
	Identity  *DeviceIdentity   `json:"identity,omitempty"`
}
