package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"signpad-agent/internal/domain"

	"github.com/rs/zerolog"
)

// heartbeatRunner periodically verifies the backend still lists this device
// as online. Ticks are periodic relative to the start time; a tick whose
// check is still in flight is skipped. Failures are reported through the
// callbacks and never tear the session down.
type heartbeatRunner struct {
	backend    BackendClient
	interval   time.Duration
	deviceID   string
	deviceName string
	onFailed   func(err error)
	onOffline  func()
	logger     zerolog.Logger

	inFlight        atomic.Bool
	offlineNotified atomic.Bool
	stopOnce        sync.Once
	quit            chan struct{}
}

func newHeartbeatRunner(backend BackendClient, interval time.Duration, deviceID, deviceName string, onFailed func(error), onOffline func(), logger zerolog.Logger) *heartbeatRunner {
	return &heartbeatRunner{
		backend:    backend,
		interval:   interval,
		deviceID:   deviceID,
		deviceName: deviceName,
		onFailed:   onFailed,
		onOffline:  onOffline,
		logger:     logger.With().Str("component", "heartbeat").Logger(),
		quit:       make(chan struct{}),
	}
}

func (h *heartbeatRunner) start() {
	go h.run()
}

func (h *heartbeatRunner) stop() {
	h.stopOnce.Do(func() {
		close(h.quit)
	})
}

func (h *heartbeatRunner) run() {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !h.inFlight.CompareAndSwap(false, true) {
				h.logger.Debug().Msg("previous heartbeat still in flight; skipping tick")
				continue
			}
			go func() {
				defer h.inFlight.Store(false)
				h.check()
			}()

		case <-h.quit:
			return
		}
	}
}

// check queries the online-devices listing and matches this device against
// it, preferring an entry that agrees on both id and name.
func (h *heartbeatRunner) check() {
	ctx, cancel := context.WithTimeout(context.Background(), h.interval)
	defer cancel()

	devices, err := h.backend.OnlineDevices(ctx)
	if err != nil {
		h.report(err, false)
		return
	}

	matched := matchDevice(devices, h.deviceID, h.deviceName)
	if matched == nil {
		h.report(ErrDeviceNotListed, true)
		return
	}

	if !matched.IsOnline {
		h.report(ErrDeviceMarkedOffline, false)
		return
	}

	h.offlineNotified.Store(false)
}

func (h *heartbeatRunner) report(err error, absent bool) {
	h.logger.Warn().Err(err).Msg("heartbeat check failed")

	if h.onFailed != nil {
		h.onFailed(err)
	}

	// Device confirmed absent from the listing escalates to the offline
	// signal, once per offline transition.
	if absent && h.onOffline != nil && h.offlineNotified.CompareAndSwap(false, true) {
		h.onOffline()
	}
}

func matchDevice(devices []*domain.RegisteredDevice, deviceID, deviceName string) *domain.RegisteredDevice {
	var loose *domain.RegisteredDevice

	for _, d := range devices {
		if d == nil {
			continue
		}
		if d.ID == deviceID && d.DeviceName == deviceName {
			return d
		}
		if loose == nil && (d.ID == deviceID || d.DeviceName == deviceName) {
			loose = d
		}
	}

	return loose
}
