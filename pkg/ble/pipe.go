package ble

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pion/logging"
	"github.com/pion/transport/v3/test"
)

// DefaultPipeAddress is the peripheral address of a Pipe when none is configured.
const DefaultPipeAddress = "C0:FF:EE:00:00:01"

// PipeConfig configures a Pipe.
type PipeConfig struct {
	// AutoProcess enables delivery in a background goroutine.
	// Default: true
	AutoProcess bool

	// ProcessInterval is how often the auto-processor delivers queued buffers.
	// Default: 1ms
	ProcessInterval time.Duration

	// Address is the peripheral's address.
	// Default: DefaultPipeAddress
	Address string

	// MaxWriteSize bounds writes and notifications.
	// Default: DefaultMaxWriteSize
	MaxWriteSize int

	// LoggerFactory for logging (optional).
	LoggerFactory logging.LoggerFactory
}

// DefaultPipeConfig returns the default pipe configuration.
func DefaultPipeConfig() PipeConfig {
	return PipeConfig{
		AutoProcess:     true,
		ProcessInterval: 1 * time.Millisecond,
		Address:         DefaultPipeAddress,
		MaxWriteSize:    DefaultMaxWriteSize,
	}
}

// Pipe is an in-memory BLE connection between a central (PipeLink) and a
// peripheral (PipePeripheral). It wraps pion's test.Bridge: every buffer
// crosses the bridge as [channel][data], so delivery order, manual ticking
// and goroutine hygiene behave like the rest of the pion test tooling.
type Pipe struct {
	bridge       *test.Bridge
	address      string
	maxWriteSize int
	log          logging.LeveledLogger

	mu              sync.RWMutex
	closed          bool
	autoProcess     bool
	processInterval time.Duration
	stopCh          chan struct{}
	tickWg          sync.WaitGroup

	doneCh chan struct{}
	wg     sync.WaitGroup

	link       *PipeLink
	peripheral *PipePeripheral
}

// NewPipe creates a pipe with auto-processing enabled.
func NewPipe() *Pipe {
	return NewPipeWithConfig(DefaultPipeConfig())
}

// NewPipeWithConfig creates a pipe with the given configuration.
func NewPipeWithConfig(config PipeConfig) *Pipe {
	p := &Pipe{
		bridge:          test.NewBridge(),
		address:         config.Address,
		maxWriteSize:    config.MaxWriteSize,
		autoProcess:     config.AutoProcess,
		processInterval: config.ProcessInterval,
		stopCh:          make(chan struct{}),
		doneCh:          make(chan struct{}),
	}
	if p.address == "" {
		p.address = DefaultPipeAddress
	}
	if p.maxWriteSize <= 0 {
		p.maxWriteSize = DefaultMaxWriteSize
	}
	if p.processInterval == 0 {
		p.processInterval = 1 * time.Millisecond
	}
	if config.LoggerFactory != nil {
		p.log = config.LoggerFactory.NewLogger("ble-pipe")
	}

	p.link = &PipeLink{
		pipe:     p,
		handlers: make(map[Channel]NotificationHandler),
		refused:  make(map[Channel]bool),
	}
	p.peripheral = &PipePeripheral{pipe: p}

	p.startEndpoint(p.bridge.GetConn0(), p.link.deliver)
	p.startEndpoint(p.bridge.GetConn1(), p.peripheral.deliver)

	if p.autoProcess {
		p.startAutoProcess()
	}
	return p
}

// Link returns the central side.
func (p *Pipe) Link() *PipeLink {
	return p.link
}

// Peripheral returns the peripheral side.
func (p *Pipe) Peripheral() *PipePeripheral {
	return p.peripheral
}

// Address returns the peripheral's address.
func (p *Pipe) Address() string {
	return p.address
}

func (p *Pipe) startAutoProcess() {
	p.tickWg.Add(1)
	go func() {
		defer p.tickWg.Done()
		ticker := time.NewTicker(p.processInterval)
		defer ticker.Stop()

		for {
			select {
			case <-p.stopCh:
				return
			case <-ticker.C:
				p.bridge.Tick()
			}
		}
	}()
}

// startEndpoint reads tagged buffers from conn and hands them to deliver on
// a separate goroutine. Handlers may write back into the bridge while the
// ticker is pushing, so reading and dispatch never share a goroutine.
func (p *Pipe) startEndpoint(conn interface{ Read([]byte) (int, error) }, deliver func(Channel, []byte)) {
	q := newFrameQueue()

	p.wg.Add(2)
	go func() {
		defer p.wg.Done()
		buf := make([]byte, p.maxWriteSize+1)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				return
			}
			if n < 2 {
				continue
			}
			q.push(append([]byte(nil), buf[:n]...))
		}
	}()
	go func() {
		defer p.wg.Done()
		for {
			select {
			case <-p.doneCh:
				return
			case <-q.signal:
				for _, f := range q.popAll() {
					ch := Channel(f[0])
					if !ch.IsValid() {
						continue
					}
					deliver(ch, f[1:])
				}
			}
		}
	}()
}

func (p *Pipe) send(conn interface{ Write([]byte) (int, error) }, ch Channel, data []byte) error {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	frame := make([]byte, 0, len(data)+1)
	frame = append(frame, byte(ch))
	frame = append(frame, data...)
	_, err := conn.Write(frame)
	return err
}

// SetAutoProcess enables or disables automatic delivery.
// When disabled, Tick or Process must be called manually.
func (p *Pipe) SetAutoProcess(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || p.autoProcess == enabled {
		return
	}
	p.autoProcess = enabled

	if enabled {
		p.stopCh = make(chan struct{})
		p.startAutoProcess()
	} else {
		close(p.stopCh)
		p.tickWg.Wait()
	}
}

// AutoProcess returns whether auto-processing is enabled.
func (p *Pipe) AutoProcess() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.autoProcess
}

// Tick delivers one buffer in each direction, if available.
func (p *Pipe) Tick() int {
	return p.bridge.Tick()
}

// Process delivers all queued buffers.
func (p *Pipe) Process() int {
	count := 0
	for {
		n := p.Tick()
		if n == 0 {
			return count
		}
		count += n
	}
}

// Close tears down both sides and waits for the pipe's goroutines.
func (p *Pipe) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	if p.autoProcess {
		close(p.stopCh)
	}
	p.mu.Unlock()

	p.tickWg.Wait()

	var firstErr error
	if err := p.bridge.GetConn0().Close(); err != nil {
		firstErr = err
	}
	if err := p.bridge.GetConn1().Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	// Closed bridge conns only release a blocked Read on the next Tick.
	p.bridge.Tick()
	close(p.doneCh)
	p.wg.Wait()

	p.link.drop()
	return firstErr
}

func (p *Pipe) isClosed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}

// PipeLink is the central side of a Pipe. It implements Link and exposes
// failure injection for tests.
type PipeLink struct {
	pipe *Pipe

	mu           sync.Mutex
	connected    bool
	handlers     map[Channel]NotificationHandler
	refused      map[Channel]bool
	failConnects int
	connects     int
}

// Connect implements Link.
func (l *PipeLink) Connect(ctx context.Context, address string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if l.pipe.isClosed() {
		return ErrClosed
	}

	l.mu.Lock()
	if l.connected {
		l.mu.Unlock()
		return nil
	}
	if !strings.EqualFold(address, l.pipe.address) {
		l.mu.Unlock()
		return ErrDeviceNotFound
	}
	l.connects++
	if l.failConnects > 0 {
		l.failConnects--
		l.mu.Unlock()
		if l.pipe.log != nil {
			l.pipe.log.Debugf("injected connect failure to %s", address)
		}
		return ErrConnectFailed
	}
	l.connected = true
	l.mu.Unlock()

	if l.pipe.log != nil {
		l.pipe.log.Debugf("connected to %s", address)
	}
	l.pipe.peripheral.connectionChanged(true)
	return nil
}

// Disconnect implements Link.
func (l *PipeLink) Disconnect() error {
	if l.drop() {
		if l.pipe.log != nil {
			l.pipe.log.Debug("disconnected")
		}
		l.pipe.peripheral.connectionChanged(false)
	}
	return nil
}

// drop clears the connection and reports whether one existed.
func (l *PipeLink) drop() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	was := l.connected
	l.connected = false
	for ch := range l.handlers {
		delete(l.handlers, ch)
	}
	return was
}

// IsConnected implements Link.
func (l *PipeLink) IsConnected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}

// Subscribe implements Link.
func (l *PipeLink) Subscribe(ch Channel, handler NotificationHandler) error {
	if !ch.IsValid() {
		return ErrUnknownChannel
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.connected {
		return ErrNotConnected
	}
	if l.refused[ch] {
		return ErrSubscribeRefused
	}
	l.handlers[ch] = handler
	return nil
}

// Write implements Link.
func (l *PipeLink) Write(ch Channel, data []byte) error {
	if !ch.IsValid() {
		return ErrUnknownChannel
	}
	if len(data) > l.pipe.maxWriteSize {
		return ErrMessageTooLarge
	}
	if !l.IsConnected() {
		return ErrNotConnected
	}
	return l.pipe.send(l.pipe.bridge.GetConn0(), ch, data)
}

// MaxWriteSize implements Link.
func (l *PipeLink) MaxWriteSize() int {
	return l.pipe.maxWriteSize
}

// FailNextConnects makes the next n Connect calls fail with ErrConnectFailed.
func (l *PipeLink) FailNextConnects(n int) {
	l.mu.Lock()
	l.failConnects = n
	l.mu.Unlock()
}

// RefuseSubscription makes Subscribe on ch fail while refuse is set.
func (l *PipeLink) RefuseSubscription(ch Channel, refuse bool) {
	l.mu.Lock()
	l.refused[ch] = refuse
	l.mu.Unlock()
}

// ConnectAttempts returns how many Connect calls reached the peripheral.
func (l *PipeLink) ConnectAttempts() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connects
}

func (l *PipeLink) deliver(ch Channel, data []byte) {
	l.mu.Lock()
	h := l.handlers[ch]
	connected := l.connected
	l.mu.Unlock()

	if !connected || h == nil {
		if l.pipe.log != nil {
			l.pipe.log.Tracef("dropping %d bytes on unsubscribed %s channel", len(data), ch)
		}
		return
	}
	h(data)
}

var _ Link = (*PipeLink)(nil)

// WriteHandler receives a central's write on a peripheral.
type WriteHandler func(ch Channel, data []byte)

// PipePeripheral is the peripheral side of a Pipe.
type PipePeripheral struct {
	pipe *Pipe

	mu           sync.Mutex
	onWrite      WriteHandler
	onConnection func(connected bool)
	writes       int
}

// SetWriteHandler installs the handler for central writes.
func (p *PipePeripheral) SetWriteHandler(h WriteHandler) {
	p.mu.Lock()
	p.onWrite = h
	p.mu.Unlock()
}

// SetConnectionHandler installs a callback for connection changes.
func (p *PipePeripheral) SetConnectionHandler(fn func(connected bool)) {
	p.mu.Lock()
	p.onConnection = fn
	p.mu.Unlock()
}

// Notify sends data to the central on ch.
func (p *PipePeripheral) Notify(ch Channel, data []byte) error {
	if !ch.IsValid() {
		return ErrUnknownChannel
	}
	if len(data) > p.pipe.maxWriteSize {
		return ErrMessageTooLarge
	}
	if !p.pipe.link.IsConnected() {
		return ErrNotConnected
	}
	return p.pipe.send(p.pipe.bridge.GetConn1(), ch, data)
}

// Disconnect drops the connection from the peripheral side, the way a lock
// ends a quiet connection on its own.
func (p *PipePeripheral) Disconnect() {
	if p.pipe.link.drop() {
		p.connectionChanged(false)
	}
}

// Writes returns the number of writes received.
func (p *PipePeripheral) Writes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writes
}

func (p *PipePeripheral) connectionChanged(connected bool) {
	p.mu.Lock()
	fn := p.onConnection
	p.mu.Unlock()
	if fn != nil {
		fn(connected)
	}
}

func (p *PipePeripheral) deliver(ch Channel, data []byte) {
	p.mu.Lock()
	p.writes++
	h := p.onWrite
	p.mu.Unlock()
	if h != nil {
		h(ch, data)
	}
}

// frameQueue is an unbounded FIFO between a bridge reader and its dispatcher.
type frameQueue struct {
	mu     sync.Mutex
	items  [][]byte
	signal chan struct{}
}

func newFrameQueue() *frameQueue {
	return &frameQueue{signal: make(chan struct{}, 1)}
}

func (q *frameQueue) push(b []byte) {
	q.mu.Lock()
	q.items = append(q.items, b)
	q.mu.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *frameQueue) popAll() [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}
