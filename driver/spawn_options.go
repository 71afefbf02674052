package driver

import "github.com/Dark-Captcha/Firefox-WebDriver/internal/supervisor"

// SpawnOption overrides a single field of the Config defaults for one
// Driver.Spawn call.
type SpawnOption func(*supervisor.SpawnOptions)

// WithSpawnProfilePath pins this spawn to an explicit, caller-owned
// profile directory instead of the Config default (or an ephemeral one).
func WithSpawnProfilePath(path string) SpawnOption {
	return func(o *supervisor.SpawnOptions) { o.ProfilePath = path }
}

// WithSpawnProxy overrides the window-level proxy preferences written
// into this spawn's profile.
func WithSpawnProxy(proxy *supervisor.ProxyPrefs) SpawnOption {
	return func(o *supervisor.SpawnOptions) { o.Proxy = proxy }
}

// WithSpawnExtension overrides the companion extension source for this
// spawn only.
func WithSpawnExtension(ext supervisor.ExtensionSource) SpawnOption {
	return func(o *supervisor.SpawnOptions) { o.Extension = ext }
}
