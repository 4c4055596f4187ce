package service

import "errors"

var (
	// ErrIdentityNotInitialized is a precondition violation: the channel
	// connect was attempted before a device identity existed.
	ErrIdentityNotInitialized = errors.New("device identity not initialized")

	// ErrRegistrationInProgress is returned when a registration attempt is
	// already in flight.
	ErrRegistrationInProgress = errors.New("registration already in progress")

	// ErrRequestInFlight is returned by the reject policy when a push
	// arrives while another request is unresolved.
	ErrRequestInFlight = errors.New("another signature request is in flight")

	// ErrNoActiveRequest means the submitted request id does not match the
	// active slot.
	ErrNoActiveRequest = errors.New("no matching active signature request")

	// ErrRequestExpired blocks submission after the countdown reached zero.
	ErrRequestExpired = errors.New("signature request has expired")

	// ErrEmptySignature is the local validation failure for a blank capture.
	ErrEmptySignature = errors.New("captured signature is empty")

	// ErrDeviceNotListed means the heartbeat did not find this device in the
	// online devices listing.
	ErrDeviceNotListed = errors.New("device not present in online devices list")

	// ErrDeviceMarkedOffline means the listing contains the device but the
	// backend considers it offline.
	ErrDeviceMarkedOffline = errors.New("device marked offline by backend")

	// ErrInvalidTransition reports a session event not allowed in the
	// current state.
	ErrInvalidTransition = errors.New("invalid session state transition")
)
