// Package device runs the device daemon: storage sessions, the scripting
// loop with its timer bridge, and the optional admin surface.
package device

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/danmuck/devctl/internal/admin"
	"github.com/danmuck/devctl/internal/config"
	"github.com/danmuck/devctl/internal/eventloop"
	"github.com/danmuck/devctl/internal/script"
	"github.com/danmuck/devctl/internal/storage"
	"github.com/danmuck/devctl/internal/timers"
	"github.com/danmuck/devctl/internal/uploader"
	"github.com/rs/zerolog/log"
)

var ErrNotBootstrapped = errors.New("device: service not bootstrapped")

// Service owns the daemon lifecycle.
type Service struct {
	cfg     config.DeviceConfig
	root    string
	loop    *eventloop.Loop
	bridge  *timers.Bridge
	runtime *script.Runtime
	storage *uploader.Server
	admin   *admin.Server

	storageAddr net.Addr
	ready       chan struct{}
	once        sync.Once
}

func NewService(cfg config.DeviceConfig) *Service {
	return &Service{cfg: cfg, ready: make(chan struct{})}
}

// Run blocks until SIGINT or SIGTERM.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := s.bootstrap(); err != nil {
		return err
	}
	return s.serve(ctx)
}

// bootstrap mounts the storage root and builds the loop, bridge, and servers.
func (s *Service) bootstrap() error {
	abs, err := filepath.Abs(s.cfg.StorageRoot)
	if err != nil {
		return fmt.Errorf("device: resolve storage root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return fmt.Errorf("device: mount storage root: %w", err)
	}
	s.root = filepath.ToSlash(abs)

	s.loop = eventloop.New(s.cfg.QueueDepth)
	s.bridge = timers.NewBridge(timers.NewGoPlatform(), s.loop)
	if s.runtime, err = script.New(s.bridge); err != nil {
		return err
	}

	s.storage = uploader.NewServer(uploader.Config{
		Root:          s.root,
		MaxChunkBytes: s.cfg.MaxChunkBytes,
	}, s.loop, storage.NewOSFS(s.root), nil)

	if s.cfg.AdminAddr != "" {
		s.admin = admin.New(s.cfg.ID, s.cfg.AdminAddr, s.cfg.CorsOrigins, s, s.storage)
	}

	log.Info().
		Str("device", s.cfg.ID).
		Str("root", s.root).
		Int("queue_depth", s.cfg.QueueDepth).
		Msg("device bootstrap ready")
	return nil
}

func (s *Service) serve(ctx context.Context) error {
	if s.loop == nil {
		return ErrNotBootstrapped
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		_ = s.loop.Run(ctx)
	}()
	defer func() {
		<-loopDone
		// The loop has stopped; firings can only fail to schedule now.
		s.bridge.Close()
		log.Info().Str("device", s.cfg.ID).Msg("device stopped")
	}()

	s.runBootScript()

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("device: listen %s: %w", s.cfg.ListenAddr, err)
	}
	s.storageAddr = ln.Addr()

	errCh := make(chan error, 2)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		errCh <- s.storage.Serve(ctx, ln)
	}()
	if s.admin != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errCh <- s.admin.Serve(ctx)
		}()
	}
	s.once.Do(func() { close(s.ready) })

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Str("device", s.cfg.ID).Msg("device.Service.serve shutdown")
	case runErr = <-errCh:
		if runErr != nil {
			log.Error().Err(runErr).Msg("device listener failed")
		}
	}
	cancel()
	wg.Wait()
	return runErr
}

// runBootScript queues the configured script on the loop. A missing file or
// a script error is logged and does not stop the daemon.
func (s *Service) runBootScript() {
	if s.cfg.BootScript == "" {
		return
	}
	path := filepath.Join(filepath.FromSlash(s.root), s.cfg.BootScript)
	if _, err := os.Stat(path); err != nil {
		log.Info().Str("script", path).Msg("boot script not present")
		return
	}
	s.loop.Schedule(func() {
		if err := s.runtime.RunFile(path); err != nil {
			log.Error().Str("script", path).Err(err).Msg("boot script failed")
		}
	})
}

// Ready is closed once the listeners are accepting.
func (s *Service) Ready() <-chan struct{} {
	return s.ready
}

// StorageAddr is the bound storage listener address.
func (s *Service) StorageAddr() net.Addr {
	return s.storageAddr
}

func (s *Service) SessionBusy() bool {
	return s.storage != nil && s.storage.Gate().Busy()
}

// ActiveTimers reads the timer registry on the loop.
func (s *Service) ActiveTimers(ctx context.Context) ([]int, error) {
	if s.loop == nil {
		return nil, ErrNotBootstrapped
	}
	var ids []int
	if err := s.loop.Do(ctx, func() { ids = s.bridge.Active() }); err != nil {
		return nil, err
	}
	return ids, nil
}
