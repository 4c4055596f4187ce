package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"signpad-agent/internal/domain"
	"signpad-agent/internal/websocket"

	"github.com/rs/zerolog"
)

type sessionEvent string

const (
	eventStart          sessionEvent = "start"
	eventIdentityReady  sessionEvent = "identity-resolved"
	eventRegistered     sessionEvent = "registered"
	eventChannelUp      sessionEvent = "channel-connected"
	eventHeartbeatStart sessionEvent = "heartbeat-starting"
	eventReady          sessionEvent = "ready"
)

// sessionTransitions is the table of allowed forward transitions. Failure
// and reset always return to idle and are handled outside the table.
var sessionTransitions = map[domain.SessionState]map[sessionEvent]domain.SessionState{
	domain.StateIdle: {
		eventStart: domain.StateGettingDeviceInfo,
	},
	domain.StateGettingDeviceInfo: {
		eventIdentityReady: domain.StateRegistering,
	},
	domain.StateRegistering: {
		eventRegistered: domain.StateConnectingChannel,
	},
	domain.StateConnectingChannel: {
		eventChannelUp: domain.StateUpdatingConnection,
	},
	domain.StateUpdatingConnection: {
		eventHeartbeatStart: domain.StateStartingHeartbeat,
		eventReady:          domain.StateReady,
		// A reconnect can deliver a fresh connection id while a prior
		// binding is still in flight.
		eventChannelUp: domain.StateUpdatingConnection,
	},
	domain.StateStartingHeartbeat: {
		eventReady: domain.StateReady,
	},
	domain.StateReady: {
		// Rebind after the channel reconnected with a new connection id.
		eventChannelUp: domain.StateUpdatingConnection,
	},
}

// Callbacks are the hooks the surrounding application observes the session
// through. All are optional.
type Callbacks struct {
	OnRegistered      func(device *domain.RegisteredDevice)
	OnConnected       func(connectionID string)
	OnReady           func()
	OnHeartbeatFailed func(err error)
	OnDeviceOffline   func()
}

// Options tune the orchestrator's chaining and timing behavior.
type Options struct {
	AutoConnect       bool
	AutoHeartbeat     bool
	HeartbeatInterval time.Duration
	RetryDelay        time.Duration
	BindTimeout       time.Duration
}

// Orchestrator drives the device session end to end: identity, registration,
// realtime channel, connection binding, heartbeat, readiness. It owns the
// channel's lifecycle exclusively and exposes a read-only snapshot to the
// control API.
type Orchestrator struct {
	identity  IdentityProvider
	backend   BackendClient
	channel   RealtimeChannel
	opts      Options
	callbacks Callbacks
	logger    zerolog.Logger

	mu             sync.Mutex
	state          domain.SessionState
	lastErr        string
	device         *domain.RegisteredDevice
	deviceIdentity *domain.DeviceIdentity
	registering    bool
	registered     bool
	handledConns   map[string]bool
	ready          bool
	readyNotified  bool
	heartbeat      *heartbeatRunner
}

func NewOrchestrator(identity IdentityProvider, backend BackendClient, channel RealtimeChannel, opts Options, callbacks Callbacks, logger zerolog.Logger) *Orchestrator {
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 2 * time.Second
	}
	if opts.BindTimeout <= 0 {
		opts.BindTimeout = 10 * time.Second
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 30 * time.Second
	}

	o := &Orchestrator{
		identity:     identity,
		backend:      backend,
		channel:      channel,
		opts:         opts,
		callbacks:    callbacks,
		logger:       logger.With().Str("component", "session").Logger(),
		state:        domain.StateIdle,
		handledConns: make(map[string]bool),
	}

	channel.SetConnectedHandler(o.handleChannelConnected)
	channel.SetStateObserver(o.handleChannelState)

	return o
}

// RegisterDevice runs the registration step. A successful registration is
// cached for the session: repeated calls return the cached record without a
// network call, and a call while one is already in flight is rejected by the
// guard so at most one registration request is ever issued at a time.
func (o *Orchestrator) RegisterDevice(ctx context.Context) (*domain.RegisteredDevice, error) {
	o.mu.Lock()
	if o.registered && o.device != nil {
		device := o.device
		o.mu.Unlock()
		return device, nil
	}
	if o.registering {
		o.mu.Unlock()
		return nil, ErrRegistrationInProgress
	}
	o.registering = true
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.registering = false
		o.mu.Unlock()
	}()

	if err := o.transition(eventStart); err != nil {
		return nil, err
	}

	identity, err := o.identity.Get(ctx)
	if err != nil {
		o.fail(err)
		return nil, err
	}

	o.mu.Lock()
	o.deviceIdentity = identity
	o.mu.Unlock()

	if err := o.transition(eventIdentityReady); err != nil {
		return nil, err
	}

	resp, err := o.backend.RegisterDevice(ctx, &domain.RegisterDeviceRequest{
		DeviceName:    identity.DeviceName,
		MacAddress:    identity.PseudoMacAddress,
		IPAddress:     identity.IPOrHostname,
		StaffDeviceID: identity.StaffDeviceID,
	})
	if err != nil {
		o.fail(err)
		return nil, err
	}

	device := resp.Device

	o.mu.Lock()
	o.device = &device
	o.registered = true
	o.mu.Unlock()

	if resp.Token != "" {
		o.channel.SetToken(resp.Token)
	}

	if err := o.identity.MarkRegistered(ctx); err != nil {
		o.logger.Warn().Err(err).Msg("failed to persist registration marker")
	}

	if err := o.transition(eventRegistered); err != nil {
		return nil, err
	}

	o.logger.Info().
		Str("device_id", device.ID).
		Str("device_name", device.DeviceName).
		Msg("device registered")

	if o.callbacks.OnRegistered != nil {
		o.callbacks.OnRegistered(&device)
	}

	if o.opts.AutoConnect {
		if err := o.ConnectToChannel(ctx); err != nil {
			return nil, err
		}
	}

	return &device, nil
}

// ConnectToChannel opens the realtime channel. The device identity must
// already exist.
func (o *Orchestrator) ConnectToChannel(ctx context.Context) error {
	o.mu.Lock()
	identity := o.deviceIdentity
	o.mu.Unlock()

	if identity == nil {
		o.fail(ErrIdentityNotInitialized)
		return ErrIdentityNotInitialized
	}

	o.channel.SetDeviceName(identity.DeviceName)

	if err := o.channel.Connect(ctx); err != nil {
		o.fail(err)
		return err
	}

	return nil
}

// handleChannelConnected binds a freshly reported connection id to the
// registered device. A given connection id is processed at most once even if
// the channel repeats the notification; the guard map resets only on full
// disconnect.
func (o *Orchestrator) handleChannelConnected(connID string) {
	o.mu.Lock()
	if o.handledConns[connID] {
		o.mu.Unlock()
		return
	}
	o.handledConns[connID] = true
	device := o.device
	identity := o.deviceIdentity
	o.mu.Unlock()

	if device == nil {
		o.logger.Warn().Str("connection_id", connID).Msg("channel connected before registration; ignoring")
		return
	}

	if err := o.transition(eventChannelUp); err != nil {
		o.logger.Warn().Err(err).Msg("connected notification in unexpected state")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), o.opts.BindTimeout)
	defer cancel()

	resp, err := o.backend.UpdateConnection(ctx, &domain.UpdateConnectionRequest{
		DeviceID:      device.ID,
		DeviceName:    device.DeviceName,
		ConnectionID:  connID,
		StaffDeviceID: identity.StaffDeviceID,
	})
	if err != nil {
		o.fail(err)
		return
	}

	o.mu.Lock()
	if o.device != nil {
		o.device.ConnectionID = connID
		o.device.IsOnline = resp.IsOnline
	}
	o.mu.Unlock()

	o.logger.Info().Str("connection_id", connID).Msg("connection bound to device")

	if o.callbacks.OnConnected != nil {
		o.callbacks.OnConnected(connID)
	}

	if o.opts.AutoHeartbeat {
		o.StartHeartbeat()
	} else {
		o.declareReady()
	}
}

// StartHeartbeat begins the periodic liveness check and declares readiness.
func (o *Orchestrator) StartHeartbeat() {
	if err := o.transition(eventHeartbeatStart); err != nil {
		o.logger.Warn().Err(err).Msg("heartbeat start rejected")
		return
	}

	o.mu.Lock()
	if o.heartbeat != nil {
		o.heartbeat.stop()
	}
	device := o.device
	if device == nil {
		o.mu.Unlock()
		o.fail(ErrIdentityNotInitialized)
		return
	}

	runner := newHeartbeatRunner(
		o.backend,
		o.opts.HeartbeatInterval,
		device.ID,
		device.DeviceName,
		o.callbacks.OnHeartbeatFailed,
		o.callbacks.OnDeviceOffline,
		o.logger,
	)
	o.heartbeat = runner
	o.mu.Unlock()

	runner.start()

	o.declareReady()
}

func (o *Orchestrator) declareReady() {
	if err := o.transition(eventReady); err != nil {
		o.logger.Warn().Err(err).Msg("ready transition rejected")
		return
	}

	o.mu.Lock()
	already := o.readyNotified
	o.readyNotified = true
	o.ready = true
	o.mu.Unlock()

	o.logger.Info().Msg("session ready")

	if !already && o.callbacks.OnReady != nil {
		o.callbacks.OnReady()
	}
}

// Disconnect fully tears the session down: heartbeat stopped, channel
// closed, guard flags and registration state cleared, state back to idle.
// Safe to call from any state including idle.
func (o *Orchestrator) Disconnect() {
	o.mu.Lock()
	hb := o.heartbeat
	o.heartbeat = nil
	o.mu.Unlock()

	if hb != nil {
		hb.stop()
	}

	o.channel.Close()

	o.mu.Lock()
	o.registering = false
	o.registered = false
	o.device = nil
	o.handledConns = make(map[string]bool)
	o.ready = false
	o.readyNotified = false
	o.lastErr = ""
	o.state = domain.StateIdle
	o.mu.Unlock()

	o.logger.Info().Msg("session disconnected")
}

// Retry tears the session down, waits a short settle delay for in-flight
// network operations, then registers again.
func (o *Orchestrator) Retry(ctx context.Context) (*domain.RegisteredDevice, error) {
	o.Disconnect()

	select {
	case <-time.After(o.opts.RetryDelay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return o.RegisterDevice(ctx)
}

// State returns the current session state.
func (o *Orchestrator) State() domain.SessionState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Ready reports whether the session reached the ready state.
func (o *Orchestrator) Ready() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.ready
}

// LastError returns the most recent failure message, empty when none.
func (o *Orchestrator) LastError() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastErr
}

// Snapshot returns the read-only session view served to the presentation
// layer.
func (o *Orchestrator) Snapshot() domain.SessionSnapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	snapshot := domain.SessionSnapshot{
		State:     o.state,
		Ready:     o.ready,
		LastError: o.lastErr,
	}
	if o.device != nil {
		device := *o.device
		snapshot.Device = &device
	}
	if o.deviceIdentity != nil {
		identity := *o.deviceIdentity
		snapshot.Identity = &identity
	}

	return snapshot
}

func (o *Orchestrator) handleChannelState(state websocket.ConnState, err error) {
	switch state {
	case websocket.StateReconnecting:
		o.logger.Warn().Msg("channel reconnecting")
	case websocket.StateDisconnected:
		// A deliberate close reports no error and is handled by
		// Disconnect; only failures reset the session.
		if err != nil {
			o.fail(err)
		}
	default:
	}
}

// fail records the error, clears forward progress and returns to idle. The
// registration cache survives so Retry can rebuild the session; heartbeat
// and readiness never outlive a failed step.
func (o *Orchestrator) fail(err error) {
	o.mu.Lock()
	o.state = domain.StateIdle
	o.lastErr = err.Error()
	o.ready = false
	o.readyNotified = false
	hb := o.heartbeat
	o.heartbeat = nil
	o.mu.Unlock()

	if hb != nil {
		hb.stop()
	}

	o.logger.Error().Err(err).Msg("session step failed; returning to idle")
}

func (o *Orchestrator) transition(ev sessionEvent) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	next, ok := sessionTransitions[o.state][ev]
	if !ok {
		return fmt.Errorf("%w: %s while %s", ErrInvalidTransition, ev, o.state)
	}

	o.logger.Debug().
		Str("from", string(o.state)).
		Str("event", string(ev)).
		Str("to", string(next)).
		Msg("session transition")

	o.state = next

	return nil
}
