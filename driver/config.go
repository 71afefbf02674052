// Package driver exposes the control core's public boundary: Driver
// binds the connection pool and process supervisor, and Window is the
// handle returned for each spawned browser session.
package driver

import (
	"time"

	"github.com/spf13/afero"

	"github.com/Dark-Captcha/Firefox-WebDriver/internal/common"
	"github.com/Dark-Captcha/Firefox-WebDriver/internal/connection"
	"github.com/Dark-Captcha/Firefox-WebDriver/internal/supervisor"
)

// Config gathers every builder-settable knob for a Driver. Zero values
// fall back to the defaults noted per-field.
type Config struct {
	// FirefoxPath is the path to the Firefox binary. Required.
	FirefoxPath string

	// Extension is the companion extension's source. Required.
	Extension supervisor.ExtensionSource

	// Headless launches Firefox with -headless when true.
	Headless bool

	// Width/Height set the initial window size. Zero means Firefox's
	// own default.
	Width, Height int

	// ProfilePath pins every spawned window to one caller-owned profile
	// directory instead of an ephemeral per-window one.
	ProfilePath string

	// Proxy sets window-level proxy preferences at profile materialization
	// time. A later proxy.setWindowProxy command overwrites it at runtime.
	Proxy *supervisor.ProxyPrefs

	// Env is appended to Firefox's inherited environment.
	Env []string

	// PoolAddr overrides the pool's bind address; empty means
	// "127.0.0.1:0" (an OS-assigned free port).
	PoolAddr string

	// SendTimeout/ReplyTimeout override the per-Connection 30s defaults;
	// zero keeps the connection package default.
	SendTimeout, ReplyTimeout time.Duration

	// HandshakeTimeout overrides the pool's READY-handshake deadline;
	// zero keeps pool.DefaultHandshakeTimeout.
	HandshakeTimeout time.Duration

	// Logger receives structured logs from every internal component; nil
	// installs a discarding null logger.
	Logger *common.Logger

	// FS backs all profile-directory materialization; nil installs
	// afero.NewOsFs(). Tests substitute afero.NewMemMapFs().
	FS afero.Fs
}

func (c Config) connectionOptions() []connection.Option {
	var opts []connection.Option
	if c.SendTimeout > 0 {
		opts = append(opts, connection.WithSendTimeout(c.SendTimeout))
	}
	if c.ReplyTimeout > 0 {
		opts = append(opts, connection.WithReplyTimeout(c.ReplyTimeout))
	}
	return opts
}

func (c Config) logger() *common.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return common.NewNullLogger()
}

func (c Config) fs() afero.Fs {
	if c.FS != nil {
		return c.FS
	}
	return afero.NewOsFs()
}
