package ble

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/logging"
	"tinygo.org/x/bluetooth"
)

// TinyGoConfig configures TinyGoLink and TinyGoScanner.
type TinyGoConfig struct {
	// Adapter is the radio to use.
	// Default: bluetooth.DefaultAdapter
	Adapter *bluetooth.Adapter

	// Profile selects the services and characteristics to bind.
	Profile Profile

	// MaxWriteSize bounds writes.
	// Default: DefaultMaxWriteSize
	MaxWriteSize int

	// LoggerFactory for logging (optional).
	LoggerFactory logging.LoggerFactory
}

func (c TinyGoConfig) withDefaults() TinyGoConfig {
	if c.Adapter == nil {
		c.Adapter = bluetooth.DefaultAdapter
	}
	if c.Profile.PairingService == uuid.Nil {
		c.Profile = ProfileFor(DeviceSmartLock)
	}
	if c.MaxWriteSize <= 0 {
		c.MaxWriteSize = DefaultMaxWriteSize
	}
	return c
}

// addressBook remembers the adapter-specific address of every peer seen
// while scanning. On some platforms the address cannot be built from its
// text form, so connecting goes through a scan result.
type addressBook struct {
	mu    sync.Mutex
	known map[string]bluetooth.Address
}

func (b *addressBook) remember(addr bluetooth.Address) string {
	key := strings.ToUpper(addr.String())
	b.mu.Lock()
	if b.known == nil {
		b.known = make(map[string]bluetooth.Address)
	}
	b.known[key] = addr
	b.mu.Unlock()
	return key
}

func (b *addressBook) lookup(address string) (bluetooth.Address, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	addr, ok := b.known[strings.ToUpper(address)]
	return addr, ok
}

// TinyGoScanner implements Scanner on a tinygo bluetooth adapter.
type TinyGoScanner struct {
	adapter  *bluetooth.Adapter
	services []uuid.UUID
	book     *addressBook
	log      logging.LeveledLogger
}

// TinyGoLink implements Link on a tinygo bluetooth adapter.
type TinyGoLink struct {
	adapter      *bluetooth.Adapter
	profile      Profile
	maxWriteSize int
	scanner      *TinyGoScanner
	log          logging.LeveledLogger

	mu        sync.Mutex
	device    bluetooth.Device
	connected bool
	chars     map[Channel]bluetooth.DeviceCharacteristic
}

// NewTinyGo enables the adapter and returns a link and a scanner sharing it.
func NewTinyGo(config TinyGoConfig) (*TinyGoLink, *TinyGoScanner, error) {
	config = config.withDefaults()

	if err := config.Adapter.Enable(); err != nil {
		return nil, nil, fmt.Errorf("ble: enable adapter: %w", err)
	}

	var log logging.LeveledLogger
	if config.LoggerFactory != nil {
		log = config.LoggerFactory.NewLogger("ble-tinygo")
	}

	scanner := &TinyGoScanner{
		adapter: config.Adapter,
		services: []uuid.UUID{
			smartLockProfile.PairingService, smartLockProfile.DataService,
			openerProfile.PairingService, openerProfile.DataService,
		},
		book: &addressBook{},
		log:  log,
	}
	link := &TinyGoLink{
		adapter:      config.Adapter,
		profile:      config.Profile,
		maxWriteSize: config.MaxWriteSize,
		scanner:      scanner,
		log:          log,
		chars:        make(map[Channel]bluetooth.DeviceCharacteristic),
	}
	return link, scanner, nil
}

// Scan implements Scanner. It blocks until ctx is done.
func (s *TinyGoScanner) Scan(ctx context.Context, fn func(Advertisement)) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = s.adapter.StopScan()
		case <-stop:
		}
	}()

	err := s.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		fn(s.toAdvertisement(result))
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("ble: scan: %w", err)
	}
	return nil
}

func (s *TinyGoScanner) toAdvertisement(result bluetooth.ScanResult) Advertisement {
	adv := Advertisement{
		Address: s.book.remember(result.Address),
		Name:    result.LocalName(),
		RSSI:    result.RSSI,
	}
	for _, svc := range s.services {
		bu, err := bluetooth.ParseUUID(svc.String())
		if err == nil && result.HasServiceUUID(bu) {
			adv.ServiceUUIDs = append(adv.ServiceUUIDs, svc)
		}
	}
	for _, md := range result.ManufacturerData() {
		adv.ManufacturerData = append([]byte{byte(md.CompanyID), byte(md.CompanyID >> 8)}, md.Data...)
		if md.CompanyID == appleCompanyID {
			break
		}
	}
	return adv
}

// find scans until address shows up or ctx is done.
func (s *TinyGoScanner) find(ctx context.Context, address string) (bluetooth.Address, error) {
	if addr, ok := s.book.lookup(address); ok {
		return addr, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	err := s.Scan(ctx, func(adv Advertisement) {
		if strings.EqualFold(adv.Address, address) {
			cancel()
		}
	})
	if err != nil {
		return bluetooth.Address{}, err
	}
	if addr, ok := s.book.lookup(address); ok {
		return addr, nil
	}
	return bluetooth.Address{}, ErrDeviceNotFound
}

// Connect implements Link.
func (l *TinyGoLink) Connect(ctx context.Context, address string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.connected {
		return nil
	}

	addr, err := l.scanner.find(ctx, address)
	if err != nil {
		return err
	}
	device, err := l.adapter.Connect(addr, bluetooth.ConnectionParams{})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnectFailed, err)
	}

	chars, err := l.discover(device)
	if err != nil {
		_ = device.Disconnect()
		return err
	}

	l.device = device
	l.chars = chars
	l.connected = true
	if l.log != nil {
		l.log.Infof("connected to %s", address)
	}
	return nil
}

// discover binds the pairing and data characteristics of the profile.
// A missing service leaves its channel unbound; Subscribe reports it.
func (l *TinyGoLink) discover(device bluetooth.Device) (map[Channel]bluetooth.DeviceCharacteristic, error) {
	chars := make(map[Channel]bluetooth.DeviceCharacteristic)
	for _, ch := range []Channel{ChannelPairing, ChannelData} {
		svcID, _ := l.profile.Service(ch)
		charID, _ := l.profile.Characteristic(ch)

		svcUUID, err := bluetooth.ParseUUID(svcID.String())
		if err != nil {
			return nil, err
		}
		charUUID, err := bluetooth.ParseUUID(charID.String())
		if err != nil {
			return nil, err
		}

		services, err := device.DiscoverServices([]bluetooth.UUID{svcUUID})
		if err != nil || len(services) == 0 {
			if l.log != nil {
				l.log.Debugf("%s service %s not found: %v", ch, svcID, err)
			}
			continue
		}
		found, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{charUUID})
		if err != nil || len(found) == 0 {
			if l.log != nil {
				l.log.Debugf("%s characteristic %s not found: %v", ch, charID, err)
			}
			continue
		}
		chars[ch] = found[0]
	}
	if len(chars) == 0 {
		return nil, ErrServiceNotFound
	}
	return chars, nil
}

// Disconnect implements Link.
func (l *TinyGoLink) Disconnect() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.connected {
		return nil
	}
	l.connected = false
	l.chars = make(map[Channel]bluetooth.DeviceCharacteristic)
	if err := l.device.Disconnect(); err != nil {
		return fmt.Errorf("ble: disconnect: %w", err)
	}
	return nil
}

// IsConnected implements Link.
func (l *TinyGoLink) IsConnected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}

func (l *TinyGoLink) characteristic(ch Channel) (bluetooth.DeviceCharacteristic, error) {
	if !ch.IsValid() {
		return bluetooth.DeviceCharacteristic{}, ErrUnknownChannel
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.connected {
		return bluetooth.DeviceCharacteristic{}, ErrNotConnected
	}
	c, ok := l.chars[ch]
	if !ok {
		return bluetooth.DeviceCharacteristic{}, ErrServiceNotFound
	}
	return c, nil
}

// Subscribe implements Link.
func (l *TinyGoLink) Subscribe(ch Channel, handler NotificationHandler) error {
	c, err := l.characteristic(ch)
	if err != nil {
		return err
	}
	err = c.EnableNotifications(func(buf []byte) {
		handler(append([]byte(nil), buf...))
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSubscribeRefused, err)
	}
	return nil
}

// Write implements Link.
func (l *TinyGoLink) Write(ch Channel, data []byte) error {
	if len(data) > l.maxWriteSize {
		return ErrMessageTooLarge
	}
	c, err := l.characteristic(ch)
	if err != nil {
		return err
	}
	if _, err := writeRequest(c, data); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	return nil
}

// requestWriter is implemented by characteristics that expose an explicit
// write request (darwin, windows).
type requestWriter interface {
	Write(p []byte) (int, error)
}

// writeRequest writes data and waits for the peer's acknowledgement.
// On BlueZ, WriteWithoutResponse issues a blocking WriteValue without a
// "type" option, which BlueZ sends as a write request.
func writeRequest(c bluetooth.DeviceCharacteristic, data []byte) (int, error) {
	if w, ok := any(c).(requestWriter); ok {
		return w.Write(data)
	}
	return c.WriteWithoutResponse(data)
}

// MaxWriteSize implements Link.
func (l *TinyGoLink) MaxWriteSize() int {
	return l.maxWriteSize
}

var (
	_ Link    = (*TinyGoLink)(nil)
	_ Scanner = (*TinyGoScanner)(nil)
)
