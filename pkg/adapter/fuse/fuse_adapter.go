// Package fuse mounts the projection as a local read-only directory.
//
// The kernel talks to a raw go-fuse filesystem whose node ids are the
// projection inodes, so the mount holds no per-node state:
//
//	plevy serve --config ~/.config/plevy/config.yaml
//	ls -l /mnt/plevy
package fuse

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/marmos91/plevy/internal/logger"
	"github.com/marmos91/plevy/pkg/registry"
)

const protocolName = "fuse"

// FUSEConfig holds configuration parameters for the FUSE adapter.
//
// Default values (applied by New if zero):
//   - FsName: "plevy"
//   - EntryTimeout: 1s
//   - AttrTimeout: 1s
//   - MountRetries: 3
//   - UnmountTimeout: 10s
type FUSEConfig struct {
	// Enabled controls whether the FUSE adapter is active.
	Enabled bool `mapstructure:"enabled"`

	// MountPoint is the directory the projection is mounted on. It is
	// created when missing.
	MountPoint string `mapstructure:"mount_point" validate:"required_if=Enabled true"`

	// FsName is the source name shown in the mount table.
	FsName string `mapstructure:"fs_name"`

	// AllowOther lets users other than the mounting one access the mount.
	// Requires user_allow_other in /etc/fuse.conf.
	AllowOther bool `mapstructure:"allow_other"`

	// Debug logs every FUSE request and reply.
	Debug bool `mapstructure:"debug"`

	// EntryTimeout is how long the kernel caches successful name lookups.
	// Misses are never cached, so a new entry resolves as soon as it is added.
	EntryTimeout time.Duration `mapstructure:"entry_timeout" validate:"min=0"`

	// AttrTimeout is how long the kernel caches attributes.
	AttrTimeout time.Duration `mapstructure:"attr_timeout" validate:"min=0"`

	// MaxReadAhead caps kernel readahead in bytes. Zero keeps the go-fuse
	// default.
	MaxReadAhead int `mapstructure:"max_read_ahead" validate:"min=0"`

	// MountRetries is how many times mounting is attempted. Each failed
	// attempt detaches the mount point before the next.
	MountRetries int `mapstructure:"mount_retries" validate:"min=0"`

	// UnmountTimeout bounds how long Stop keeps retrying a busy unmount
	// before detaching lazily.
	UnmountTimeout time.Duration `mapstructure:"unmount_timeout" validate:"min=0"`
}

func (c *FUSEConfig) applyDefaults() {
	if c.FsName == "" {
		c.FsName = "plevy"
	}
	if c.EntryTimeout == 0 {
		c.EntryTimeout = time.Second
	}
	if c.AttrTimeout == 0 {
		c.AttrTimeout = time.Second
	}
	if c.MountRetries == 0 {
		c.MountRetries = 3
	}
	if c.UnmountTimeout == 0 {
		c.UnmountTimeout = 10 * time.Second
	}
}

func (c *FUSEConfig) validate() error {
	if c.MountPoint == "" {
		return errors.New("mount point is required")
	}
	if c.EntryTimeout < 0 || c.AttrTimeout < 0 {
		return errors.New("cache timeouts must be >= 0")
	}
	if c.MountRetries < 0 {
		return fmt.Errorf("invalid MountRetries %d: must be >= 0", c.MountRetries)
	}
	return nil
}

// FUSEAdapter implements the adapter.Adapter interface for a local mount.
//
// Shutdown flow:
//  1. Context cancelled or Stop() called
//  2. requestCtx cancelled (in-flight projection calls abort with EINTR)
//  3. Unmount retried until UnmountTimeout while the mount is busy
//  4. Lazy detach if the mount is still busy
//  5. Serve returns once the go-fuse server loop exits
type FUSEAdapter struct {
	config   FUSEConfig
	registry *registry.Registry

	mu      sync.Mutex
	server  *fuse.Server
	stopped bool

	// serveDone is closed when the go-fuse server loop exits
	serveDone chan struct{}

	shutdownOnce sync.Once
	shutdown     chan struct{}

	requestCtx     context.Context
	cancelRequests context.CancelFunc
}

// New creates a FUSE adapter in a stopped state.
func New(config FUSEConfig) (*FUSEAdapter, error) {
	config.applyDefaults()
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid FUSE config: %w", err)
	}

	requestCtx, cancelRequests := context.WithCancel(context.Background())
	return &FUSEAdapter{
		config:         config,
		serveDone:      make(chan struct{}),
		shutdown:       make(chan struct{}),
		requestCtx:     requestCtx,
		cancelRequests: cancelRequests,
	}, nil
}

// SetRegistry injects the shared registry.
func (a *FUSEAdapter) SetRegistry(reg *registry.Registry) {
	a.registry = reg
	logger.Debug("FUSE adapter registry configured")
}

func (a *FUSEAdapter) mountOptions() *fuse.MountOptions {
	return &fuse.MountOptions{
		FsName:       a.config.FsName,
		Name:         "plevy",
		AllowOther:   a.config.AllowOther,
		Debug:        a.config.Debug,
		MaxReadAhead: a.config.MaxReadAhead,
		Options:      []string{"ro", "default_permissions"},
	}
}

// mount creates the go-fuse server, retrying after detaching the mount
// point when the kernel refuses the mount.
func (a *FUSEAdapter) mount(ctx context.Context, fs fuse.RawFileSystem) (*fuse.Server, error) {
	var server *fuse.Server
	err := retry.Do(
		func() error {
			s, err := fuse.NewServer(fs, a.config.MountPoint, a.mountOptions())
			if err != nil {
				return err
			}
			server = s
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(a.config.MountRetries)),
		retry.Delay(200*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn("FUSE mount attempt %d on %s failed: %v", n+1, a.config.MountPoint, err)
			if uerr := forceUnmount(a.config.MountPoint); uerr != nil {
				logger.Debug("Detach before retry failed: %v", uerr)
			}
		}),
	)
	return server, err
}

// Serve mounts the projection and blocks until the context is cancelled,
// Stop is called or the mount disappears.
//
// Returns:
//   - nil on graceful shutdown
//   - error if mounting fails or the mount is removed externally
func (a *FUSEAdapter) Serve(ctx context.Context) error {
	if a.registry == nil {
		return fmt.Errorf("FUSE adapter: registry not set")
	}

	select {
	case <-a.shutdown:
		return nil
	default:
	}

	if err := prepareMountPoint(a.config.MountPoint); err != nil {
		return err
	}

	raw := newRawFS(a.requestCtx, a.registry.Filesystem(), a.config.EntryTimeout, a.config.AttrTimeout)
	server, err := a.mount(ctx, raw)
	if err != nil {
		return fmt.Errorf("failed to mount %s: %w", a.config.MountPoint, err)
	}

	go func() {
		defer close(a.serveDone)
		server.Serve()
	}()

	if err := server.WaitMount(); err != nil {
		a.initiateShutdown()
		a.unmount(server)
		return fmt.Errorf("FUSE mount on %s did not come up: %w", a.config.MountPoint, err)
	}

	a.mu.Lock()
	a.server = server
	stopped := a.stopped
	a.mu.Unlock()

	// Stop ran while the mount was coming up and found nothing to unmount
	if stopped {
		a.unmount(server)
		return a.waitServe()
	}

	a.registry.RecordMount(protocolName, a.config.MountPoint, time.Now().Unix())
	logger.Info("FUSE projection mounted on %s", a.config.MountPoint)

	select {
	case <-ctx.Done():
		logger.Info("FUSE shutdown signal received: %v", ctx.Err())
		a.initiateShutdown()
		return a.waitServe()

	case <-a.shutdown:
		return a.waitServe()

	case <-a.serveDone:
		select {
		case <-a.shutdown:
			return nil
		default:
		}
		// Nothing left to unmount
		a.mu.Lock()
		a.server = nil
		a.mu.Unlock()
		a.initiateShutdown()
		return fmt.Errorf("FUSE mount on %s was removed externally", a.config.MountPoint)
	}
}

// waitServe waits for the server loop to exit after an unmount.
func (a *FUSEAdapter) waitServe() error {
	select {
	case <-a.serveDone:
		return nil
	case <-time.After(a.config.UnmountTimeout):
		return fmt.Errorf("FUSE server on %s did not exit after unmount", a.config.MountPoint)
	}
}

// initiateShutdown aborts in-flight requests and unmounts. Safe to call
// multiple times and from multiple goroutines.
func (a *FUSEAdapter) initiateShutdown() {
	a.shutdownOnce.Do(func() {
		logger.Debug("FUSE shutdown initiated")
		close(a.shutdown)
		a.cancelRequests()

		a.mu.Lock()
		a.stopped = true
		server := a.server
		a.mu.Unlock()

		if server != nil {
			a.unmount(server)
		}
		if a.registry != nil {
			a.registry.RemoveAllMounts(protocolName)
		}
	})
}

// unmount asks the kernel to release the mount, retrying while it is busy,
// and falls back to a lazy detach.
func (a *FUSEAdapter) unmount(server *fuse.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), a.config.UnmountTimeout)
	defer cancel()

	err := retry.Do(
		server.Unmount,
		retry.Context(ctx),
		retry.Attempts(0),
		retry.Delay(100*time.Millisecond),
		retry.MaxDelay(time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
	if err == nil {
		logger.Info("FUSE projection unmounted from %s", a.config.MountPoint)
		return
	}

	logger.Warn("FUSE unmount of %s failed (%v), detaching lazily", a.config.MountPoint, err)
	if err := forceUnmount(a.config.MountPoint); err != nil {
		logger.Error("FUSE detach of %s failed: %v", a.config.MountPoint, err)
	}
}

// Stop unmounts the projection and waits for the server loop until ctx is
// done. Safe to call multiple times and concurrently with Serve().
func (a *FUSEAdapter) Stop(ctx context.Context) error {
	a.initiateShutdown()

	a.mu.Lock()
	mounted := a.server != nil
	a.mu.Unlock()
	if !mounted {
		return nil
	}

	select {
	case <-a.serveDone:
		return nil
	case <-ctx.Done():
		logger.Warn("FUSE shutdown context cancelled before the server loop exited: %v", ctx.Err())
		return ctx.Err()
	}
}

// MountPoint returns the configured mount point.
func (a *FUSEAdapter) MountPoint() string {
	return a.config.MountPoint
}

// Port returns 0: a FUSE mount does not listen on a port.
func (a *FUSEAdapter) Port() int {
	return 0
}

// Protocol returns "FUSE" as the protocol identifier.
func (a *FUSEAdapter) Protocol() string {
	return "FUSE"
}
