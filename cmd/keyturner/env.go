package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pion/logging"

	"github.com/backkem/keyturner/internal/config"
	"github.com/backkem/keyturner/pkg/ble"
	"github.com/backkem/keyturner/pkg/keyturner"
	"github.com/backkem/keyturner/pkg/metrics"
	"github.com/backkem/keyturner/pkg/simulator"
	"github.com/backkem/keyturner/pkg/storage"
	"github.com/backkem/keyturner/pkg/storage/badgerstore"
)

// env holds everything a command needs: the client and the resources
// behind it.
type env struct {
	config    config.File
	log       logging.LeveledLogger
	client    *keyturner.Client
	scanner   ble.Scanner
	store     storage.Store
	metrics   *metrics.Metrics
	server    *http.Server
	pipe      *ble.Pipe
	simulated bool
	events    chan keyturner.Event
}

func newEnv(f config.File, simulate bool) (*env, error) {
	lf := f.LoggerFactory()
	e := &env{
		config:    f,
		log:       lf.NewLogger("cli"),
		simulated: simulate,
		events:    make(chan keyturner.Event, 16),
	}

	kc := f.Keyturner()
	kc.LoggerFactory = lf

	if err := e.openStore(lf); err != nil {
		return nil, err
	}
	kc.Store = e.store

	link, err := e.openLink(kc, lf)
	if err != nil {
		_ = e.Close()
		return nil, err
	}
	kc.Link = link

	if f.Metrics.Addr != "" {
		e.metrics = metrics.New()
		e.serveMetrics(f.Metrics.Addr)
		kc.Metrics = e.metrics
	}
	kc.OnEvent = func(ev keyturner.Event) {
		select {
		case e.events <- ev:
		default:
		}
	}

	e.client, err = keyturner.NewClient(kc)
	if err != nil {
		_ = e.Close()
		return nil, err
	}
	return e, nil
}

// openStore opens the configured credential store. The simulator holds no
// state across runs, so simulation always uses memory.
func (e *env) openStore(lf logging.LoggerFactory) error {
	if e.simulated {
		e.store = storage.NewMemoryStore()
		return nil
	}
	switch e.config.Storage.Backend {
	case config.BackendFile:
		s, err := storage.OpenFileStore(e.config.Storage.Path)
		if err != nil {
			return err
		}
		e.store = s
	case config.BackendBadger:
		s, err := badgerstore.Open(badgerstore.Config{
			Dir:           e.config.Storage.Path,
			SyncWrites:    true,
			LoggerFactory: lf,
		})
		if err != nil {
			return err
		}
		e.store = s
	default:
		e.store = storage.NewMemoryStore()
	}
	return nil
}

func (e *env) openLink(kc keyturner.Config, lf logging.LoggerFactory) (ble.Link, error) {
	if e.simulated {
		pipeConfig := ble.DefaultPipeConfig()
		pipeConfig.LoggerFactory = lf
		e.pipe = ble.NewPipeWithConfig(pipeConfig)
		lock, err := simulator.New(e.pipe, simulator.Config{
			Type:          kc.DeviceType,
			PairingMode:   true,
			LoggerFactory: lf,
		})
		if err != nil {
			return nil, err
		}
		e.scanner = simulator.NewScanner(lock)
		return e.pipe.Link(), nil
	}

	link, scanner, err := ble.NewTinyGo(ble.TinyGoConfig{
		Profile:       ble.ProfileFor(kc.DeviceType),
		LoggerFactory: lf,
	})
	if err != nil {
		return nil, err
	}
	e.scanner = scanner
	return link, nil
}

func (e *env) serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", e.metrics.Handler())
	e.server = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := e.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.log.Warnf("metrics server: %v", err)
		}
	}()
	e.log.Infof("serving metrics on %s/metrics", addr)
}

// paired makes sure the client holds credentials. A simulated lock is
// discovered and paired on the spot.
func (e *env) paired(ctx context.Context) error {
	if e.client.IsPaired() {
		return nil
	}
	if !e.simulated {
		return fmt.Errorf("%w: run \"keyturner pair\" first", keyturner.ErrNotPaired)
	}
	_, err := e.pair(ctx)
	return err
}

// pair discovers a device in pairing mode unless an address is known, then
// runs the handshake.
func (e *env) pair(ctx context.Context) (keyturner.PairingResult, error) {
	if e.client.Session().Address == "" {
		address, err := e.client.Discover(ctx, e.scanner)
		if err != nil {
			return keyturner.PairingPairing, fmt.Errorf("discover: %w", err)
		}
		e.log.Infof("found device at %s", address)
	}
	return e.client.Pair()
}

// Close releases the client, the store and the metrics server.
func (e *env) Close() error {
	var errs []error
	if e.client != nil {
		errs = append(errs, e.client.Close())
	}
	if e.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		errs = append(errs, e.server.Shutdown(ctx))
		cancel()
	}
	if e.pipe != nil {
		errs = append(errs, e.pipe.Close())
	}
	if c, ok := e.store.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
