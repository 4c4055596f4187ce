package identity

import (
	"context"
	"crypto/rand"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"signpad-agent/internal/domain"
	"signpad-agent/internal/store"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	keyDeviceName    = "device_name"
	keyMacAddress    = "device_mac_address"
	keyIPOrHostname  = "device_ip"
	keyStaffDeviceID = "staff_device_id"
	keyRegisteredAt  = "registered_at"

	fallbackIP = "127.0.0.1"
)

// Provider derives and persists the stable device identity. Each field is
// stored independently so partial regeneration is possible. Identity
// derivation never fails outright; every field has a generated fallback.
type Provider struct {
	store        store.IdentityStore
	probeAddr    string
	probeTimeout time.Duration
	logger       zerolog.Logger

	mu       sync.Mutex
	cached   *domain.DeviceIdentity
	cachedIP string
}

func NewProvider(st store.IdentityStore, probeAddr string, probeTimeout time.Duration, logger zerolog.Logger) *Provider {
	return &Provider{
		store:        st,
		probeAddr:    probeAddr,
		probeTimeout: probeTimeout,
		logger:       logger.With().Str("component", "identity").Logger(),
	}
}

// Get returns the device identity, generating and persisting any missing
// field. Repeated calls return identical values.
func (p *Provider) Get(ctx context.Context) (*domain.DeviceIdentity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cached != nil {
		return p.cached, nil
	}

	name := p.loadOrGenerate(ctx, keyDeviceName, p.generateDeviceName)
	mac := p.loadOrGenerate(ctx, keyMacAddress, p.generatePseudoMac)
	ip := p.loadOrGenerate(ctx, keyIPOrHostname, p.resolveIPOrHostname)
	staffID := p.loadOrGenerate(ctx, keyStaffDeviceID, func() string {
		return uuid.New().String()
	})

	identity := &domain.DeviceIdentity{
		DeviceName:       name,
		PseudoMacAddress: mac,
		IPOrHostname:     ip,
		StaffDeviceID:    staffID,
	}

	if !identity.Complete() {
		return nil, fmt.Errorf("failed to derive complete device identity: %+v", identity)
	}

	p.cached = identity
	p.logger.Info().
		Str("device_name", identity.DeviceName).
		Str("staff_device_id", identity.StaffDeviceID).
		Msg("device identity resolved")

	return identity, nil
}

// MarkRegistered records that a registration succeeded, anchoring the staff
// device id so it is never silently regenerated afterwards.
func (p *Provider) MarkRegistered(ctx context.Context) error {
	return p.store.Set(ctx, keyRegisteredAt, time.Now().UTC().Format(time.RFC3339))
}

// Clear removes all persisted identity fields and the session-cached IP.
// The next Get generates a fresh identity.
func (p *Provider) Clear(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.cached = nil
	p.cachedIP = ""

	if err := p.store.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear device identity: %w", err)
	}

	return nil
}

func (p *Provider) loadOrGenerate(ctx context.Context, key string, generate func() string) string {
	value, err := p.store.Get(ctx, key)
	if err == nil && value != "" {
		return value
	}

	if key == keyStaffDeviceID {
		if _, regErr := p.store.Get(ctx, keyRegisteredAt); regErr == nil {
			p.logger.Warn().Msg("staff device id missing after prior registration; regenerating")
		}
	}

	value = generate()
	if err := p.store.Set(ctx, key, value); err != nil {
		p.logger.Warn().Err(err).Str("key", key).Msg("failed to persist identity field")
	}

	return value
}

func (p *Provider) generateDeviceName() string {
	var b [2]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "KIOSK-0000"
	}
	return fmt.Sprintf("KIOSK-%02X%02X", b[0], b[1])
}

// generatePseudoMac produces a locally-administered unicast MAC.
func (p *Provider) generatePseudoMac() string {
	var b [6]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "02:00:00:00:00:01"
	}

	b[0] = (b[0] | 0x02) &^ 0x01

	parts := make([]string, len(b))
	for i, v := range b {
		parts[i] = fmt.Sprintf("%02X", v)
	}
	return strings.Join(parts, ":")
}

// resolveIPOrHostname probes the outbound local address with a fixed timeout
// so registration can never hang on a failed network lookup, then falls back
// to the hostname and finally a loopback literal.
func (p *Provider) resolveIPOrHostname() string {
	if p.cachedIP != "" {
		return p.cachedIP
	}

	dialer := net.Dialer{Timeout: p.probeTimeout}

	conn, err := dialer.Dial("udp", p.probeAddr)
	if err == nil {
		defer conn.Close()
		if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
			p.cachedIP = addr.IP.String()
			return p.cachedIP
		}
	}

	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		return hostname
	}

	return fallbackIP
}
