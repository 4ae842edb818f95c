package ble

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pion/transport/v3/test"
)

func connectedPipe(t *testing.T) *Pipe {
	t.Helper()
	p := NewPipe()
	if err := p.Link().Connect(context.Background(), p.Address()); err != nil {
		p.Close()
		t.Fatalf("Connect: %v", err)
	}
	return p
}

func TestPipe_WriteReachesPeripheral(t *testing.T) {
	defer test.CheckRoutines(t)()

	p := connectedPipe(t)
	defer p.Close()

	type write struct {
		ch   Channel
		data []byte
	}
	got := make(chan write, 1)
	p.Peripheral().SetWriteHandler(func(ch Channel, data []byte) {
		got <- write{ch, data}
	})

	if err := p.Link().Write(ChannelData, []byte{1, 2, 3}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	select {
	case w := <-got:
		if w.ch != ChannelData || !bytes.Equal(w.data, []byte{1, 2, 3}) {
			t.Fatalf("got %v %x", w.ch, w.data)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for write")
	}
	if p.Peripheral().Writes() != 1 {
		t.Errorf("Writes() = %d, want 1", p.Peripheral().Writes())
	}
}

func TestPipe_NotifyReachesSubscriber(t *testing.T) {
	defer test.CheckRoutines(t)()

	p := connectedPipe(t)
	defer p.Close()

	pairing := make(chan []byte, 1)
	data := make(chan []byte, 1)
	if err := p.Link().Subscribe(ChannelPairing, func(b []byte) { pairing <- b }); err != nil {
		t.Fatalf("Subscribe pairing: %v", err)
	}
	if err := p.Link().Subscribe(ChannelData, func(b []byte) { data <- b }); err != nil {
		t.Fatalf("Subscribe data: %v", err)
	}

	if err := p.Peripheral().Notify(ChannelPairing, []byte("gdio")); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if err := p.Peripheral().Notify(ChannelData, []byte("usdio")); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	for _, tc := range []struct {
		name string
		ch   chan []byte
		want string
	}{
		{"pairing", pairing, "gdio"},
		{"data", data, "usdio"},
	} {
		select {
		case b := <-tc.ch:
			if string(b) != tc.want {
				t.Errorf("%s: got %q, want %q", tc.name, b, tc.want)
			}
		case <-time.After(time.Second):
			t.Fatalf("%s: timeout", tc.name)
		}
	}
}

func TestPipe_ManualProcess(t *testing.T) {
	p := NewPipeWithConfig(PipeConfig{AutoProcess: false})
	defer p.Close()

	if p.AutoProcess() {
		t.Fatal("AutoProcess should be false")
	}
	if err := p.Link().Connect(context.Background(), p.Address()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	got := make(chan []byte, 1)
	p.Peripheral().SetWriteHandler(func(_ Channel, data []byte) { got <- data })

	if err := p.Link().Write(ChannelPairing, []byte{0xAA}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	select {
	case <-got:
		t.Fatal("delivered without Process")
	case <-time.After(20 * time.Millisecond):
	}

	if n := p.Process(); n != 1 {
		t.Fatalf("Process() = %d, want 1", n)
	}
	select {
	case b := <-got:
		if !bytes.Equal(b, []byte{0xAA}) {
			t.Fatalf("got %x", b)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout after Process")
	}
}

func TestPipe_ConnectErrors(t *testing.T) {
	p := NewPipe()
	defer p.Close()
	ctx := context.Background()

	if err := p.Link().Connect(ctx, "11:22:33:44:55:66"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("wrong address: got %v, want ErrDeviceNotFound", err)
	}

	p.Link().FailNextConnects(2)
	for i := 0; i < 2; i++ {
		if err := p.Link().Connect(ctx, p.Address()); !errors.Is(err, ErrConnectFailed) {
			t.Errorf("attempt %d: got %v, want ErrConnectFailed", i, err)
		}
	}
	if err := p.Link().Connect(ctx, p.Address()); err != nil {
		t.Fatalf("third attempt: %v", err)
	}
	if got := p.Link().ConnectAttempts(); got != 3 {
		t.Errorf("ConnectAttempts() = %d, want 3", got)
	}

	// Connecting again while connected is a no-op.
	if err := p.Link().Connect(ctx, p.Address()); err != nil {
		t.Errorf("reconnect: %v", err)
	}
	if got := p.Link().ConnectAttempts(); got != 3 {
		t.Errorf("ConnectAttempts() = %d after no-op, want 3", got)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	p.Link().Disconnect()
	if err := p.Link().Connect(cancelled, p.Address()); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled ctx: got %v", err)
	}
}

func TestPipe_RequiresConnection(t *testing.T) {
	p := NewPipe()
	defer p.Close()

	if err := p.Link().Write(ChannelData, []byte{1}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Write: got %v, want ErrNotConnected", err)
	}
	if err := p.Link().Subscribe(ChannelData, func([]byte) {}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Subscribe: got %v, want ErrNotConnected", err)
	}
	if err := p.Peripheral().Notify(ChannelData, []byte{1}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Notify: got %v, want ErrNotConnected", err)
	}
}

func TestPipe_Validation(t *testing.T) {
	p := NewPipeWithConfig(PipeConfig{AutoProcess: true, MaxWriteSize: 8})
	defer p.Close()
	if err := p.Link().Connect(context.Background(), p.Address()); err != nil {
		t.Fatal(err)
	}

	if err := p.Link().Write(Channel(9), []byte{1}); !errors.Is(err, ErrUnknownChannel) {
		t.Errorf("unknown channel: got %v", err)
	}
	if err := p.Link().Write(ChannelData, make([]byte, 9)); !errors.Is(err, ErrMessageTooLarge) {
		t.Errorf("oversize: got %v", err)
	}
	if p.Link().MaxWriteSize() != 8 {
		t.Errorf("MaxWriteSize() = %d", p.Link().MaxWriteSize())
	}

	p.Link().RefuseSubscription(ChannelPairing, true)
	if err := p.Link().Subscribe(ChannelPairing, func([]byte) {}); !errors.Is(err, ErrSubscribeRefused) {
		t.Errorf("refused: got %v", err)
	}
	if err := p.Link().Subscribe(ChannelData, func([]byte) {}); err != nil {
		t.Errorf("data: %v", err)
	}
}

func TestPipe_DisconnectDropsSubscriptions(t *testing.T) {
	defer test.CheckRoutines(t)()

	p := connectedPipe(t)
	defer p.Close()

	events := make(chan bool, 4)
	p.Peripheral().SetConnectionHandler(func(c bool) { events <- c })

	got := make(chan []byte, 4)
	if err := p.Link().Subscribe(ChannelData, func(b []byte) { got <- b }); err != nil {
		t.Fatal(err)
	}

	p.Peripheral().Disconnect()
	if p.Link().IsConnected() {
		t.Fatal("still connected after peripheral disconnect")
	}
	if c := <-events; c {
		t.Fatal("expected disconnect event")
	}

	if err := p.Link().Connect(context.Background(), p.Address()); err != nil {
		t.Fatal(err)
	}
	if c := <-events; !c {
		t.Fatal("expected connect event")
	}

	// The old subscription did not survive the reconnect.
	if err := p.Peripheral().Notify(ChannelData, []byte{7}); err != nil {
		t.Fatal(err)
	}
	select {
	case b := <-got:
		t.Fatalf("stale handler received %x", b)
	case <-time.After(30 * time.Millisecond):
	}
}

func TestPipe_Close(t *testing.T) {
	defer test.CheckRoutines(t)()

	p := connectedPipe(t)
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if p.Link().IsConnected() {
		t.Error("connected after Close")
	}
	if err := p.Link().Connect(context.Background(), p.Address()); !errors.Is(err, ErrClosed) {
		t.Errorf("Connect after Close: got %v, want ErrClosed", err)
	}
}

func TestPipe_CloseReturnsPromptly(t *testing.T) {
	defer test.CheckRoutines(t)()

	for _, auto := range []bool{true, false} {
		config := DefaultPipeConfig()
		config.AutoProcess = auto
		p := NewPipeWithConfig(config)

		done := make(chan error, 1)
		go func() { done <- p.Close() }()
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("Close(auto=%v): %v", auto, err)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("Close(auto=%v) did not return on an unused pipe", auto)
		}
	}
}

func TestPipe_SetAutoProcess(t *testing.T) {
	defer test.CheckRoutines(t)()

	p := connectedPipe(t)
	defer p.Close()

	p.SetAutoProcess(false)
	if p.AutoProcess() {
		t.Fatal("AutoProcess should be false")
	}
	p.SetAutoProcess(true)
	if !p.AutoProcess() {
		t.Fatal("AutoProcess should be true")
	}

	got := make(chan struct{}, 1)
	p.Peripheral().SetWriteHandler(func(Channel, []byte) { got <- struct{}{} })
	if err := p.Link().Write(ChannelData, []byte{1}); err != nil {
		t.Fatal(err)
	}
	select {
	case <-got:
	case <-time.After(time.Second):
		t.Fatal("auto-process not restarted")
	}
}
