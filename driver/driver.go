package driver

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Dark-Captcha/Firefox-WebDriver/internal/common"
	"github.com/Dark-Captcha/Firefox-WebDriver/internal/pool"
	"github.com/Dark-Captcha/Firefox-WebDriver/internal/supervisor"
)

// Driver is the long-lived factory at the core's boundary: it binds the
// connection pool (one listening socket for the driver's entire
// lifetime) and the process/profile supervisor, and hands out Window
// handles for every spawned browser session. Multiple Drivers may
// coexist in the same process; each binds its own port.
type Driver struct {
	cfg    Config
	pool   *pool.Pool
	sup    *supervisor.Supervisor
	logger *common.Logger

	mu      sync.Mutex
	windows map[common.SessionId]*Window

	closeOnce sync.Once
	closeErr  error
}

// New validates cfg, binds the pool's listener, and returns a ready
// Driver. The caller must eventually call Close.
func New(cfg Config) (*Driver, error) {
	if cfg.FirefoxPath == "" {
		return nil, common.NewConfigError("firefox binary path is required")
	}
	if cfg.Extension.Dir == "" && cfg.Extension.XPIPath == "" && cfg.Extension.XPIBytes == "" {
		return nil, common.NewConfigError("extension source is required")
	}

	logger := cfg.logger()

	poolOpts := []pool.Option{
		pool.WithLogger(logger),
		pool.WithConnectionOptions(cfg.connectionOptions()...),
	}
	if cfg.PoolAddr != "" {
		poolOpts = append(poolOpts, pool.WithAddr(cfg.PoolAddr))
	}
	if cfg.HandshakeTimeout > 0 {
		poolOpts = append(poolOpts, pool.WithHandshakeTimeout(cfg.HandshakeTimeout))
	}

	p, err := pool.New(poolOpts...)
	if err != nil {
		return nil, err
	}

	var supOpts []supervisor.Option
	if cfg.HandshakeTimeout > 0 {
		supOpts = append(supOpts, supervisor.WithHandshakeTimeout(cfg.HandshakeTimeout))
	}
	sup := supervisor.New(p, cfg.fs(), logger, supOpts...)

	return &Driver{
		cfg:     cfg,
		pool:    p,
		sup:     sup,
		logger:  logger,
		windows: make(map[common.SessionId]*Window),
	}, nil
}

// URL returns the pool's bound WebSocket base URL.
func (d *Driver) URL() string { return d.pool.URL() }

// Spawn materializes a profile, launches a Firefox process, and blocks
// until that process's extension completes the READY handshake.
// Per-spawn SpawnOptions override the Config defaults supplied to New.
func (d *Driver) Spawn(ctx context.Context, opts ...SpawnOption) (*Window, error) {
	spawnOpts := supervisor.SpawnOptions{
		Launch: supervisor.LaunchOptions{
			BinaryPath: d.cfg.FirefoxPath,
			Headless:   d.cfg.Headless,
			Width:      d.cfg.Width,
			Height:     d.cfg.Height,
			Env:        d.cfg.Env,
		},
		Extension:   d.cfg.Extension,
		ProfilePath: d.cfg.ProfilePath,
		Proxy:       d.cfg.Proxy,
	}
	for _, opt := range opts {
		opt(&spawnOpts)
	}

	sess, err := d.sup.Spawn(ctx, spawnOpts)
	if err != nil {
		return nil, err
	}

	w := newWindow(sess, d.pool.URL(), func() {
		d.mu.Lock()
		delete(d.windows, sess.SessionId)
		d.mu.Unlock()
	})

	d.mu.Lock()
	d.windows[sess.SessionId] = w
	d.mu.Unlock()

	return w, nil
}

// Close closes every live Window (best-effort, concurrently), whether or
// not clones of it are still open, and then releases the pool's
// listener. Idempotent.
func (d *Driver) Close() error {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		windows := make([]*Window, 0, len(d.windows))
		for _, w := range d.windows {
			windows = append(windows, w)
		}
		d.mu.Unlock()

		// Tear each session down directly rather than through w.Close,
		// which only drops one reference and would leave a window with
		// outstanding clones (or an already-closed original) running.
		var g errgroup.Group
		for _, w := range windows {
			w := w
			g.Go(func() error {
				err := w.core.session.Close()
				if w.core.onClose != nil {
					w.core.onClose()
				}
				return err
			})
		}
		if err := g.Wait(); err != nil {
			d.closeErr = err
		}

		if err := d.pool.Close(); err != nil && d.closeErr == nil {
			d.closeErr = err
		}
	})
	return d.closeErr
}
