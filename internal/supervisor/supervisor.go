package supervisor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/afero"

	"github.com/Dark-Captcha/Firefox-WebDriver/internal/common"
	"github.com/Dark-Captcha/Firefox-WebDriver/internal/connection"
)

// DefaultHandshakeTimeout bounds how long Spawn waits for the launched
// process's session to appear in the pool before giving up and killing
// it.
const DefaultHandshakeTimeout = 30 * time.Second

// Pool is the subset of *pool.Pool the supervisor depends on. Declared
// here (rather than importing the pool package directly) to keep the
// dependency direction pool -> connection -> common and
// supervisor -> pool one-way without a cycle.
type Pool interface {
	URL() string
	WaitForSession(ctx context.Context, id common.SessionId, timeout time.Duration) (*connection.Connection, error)
	Remove(id common.SessionId)
}

// SpawnOptions configures a single window spawn.
type SpawnOptions struct {
	Launch      LaunchOptions
	Extension   ExtensionSource
	ProfilePath string // explicit profile path; empty means ephemeral
	Proxy       *ProxyPrefs
}

// Session is the result of a successful Spawn: a live Connection plus
// everything needed to tear the window down again.
type Session struct {
	SessionId common.SessionId
	Conn      *connection.Connection
	Profile   *Profile
	proc      *process
	fs        afero.Fs
	pool      Pool
	logger    *common.Logger
}

// Supervisor assigns SessionIds and spawns/kills Firefox processes
// against a shared Pool.
type Supervisor struct {
	pool             Pool
	fs               afero.Fs
	logger           *common.Logger
	handshakeTimeout time.Duration

	nextID uint32
}

// Option configures optional Supervisor parameters.
type Option func(*Supervisor)

// WithHandshakeTimeout overrides DefaultHandshakeTimeout for every Spawn.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(s *Supervisor) { s.handshakeTimeout = d }
}

// New builds a Supervisor bound to pool, using fs for all profile
// filesystem operations (afero.NewOsFs() in production).
func New(pool Pool, fs afero.Fs, logger *common.Logger, opts ...Option) *Supervisor {
	if logger == nil {
		logger = common.NewNullLogger()
	}
	s := &Supervisor{pool: pool, fs: fs, logger: logger, handshakeTimeout: DefaultHandshakeTimeout}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Supervisor) allocateSessionId() common.SessionId {
	v := atomic.AddUint32(&s.nextID, 1)
	id, _ := common.NewSessionId(v) // v is never zero: AddUint32 starts at 1
	return id
}

// Spawn materializes a profile, registers a waiter with the pool,
// launches Firefox against a bootstrap data URI, and blocks until the
// session's handshake routes a Connection or the handshake timeout
// elapses. A failed spawn leaves no side effects: the process is killed,
// the routing entry removed, and an ephemeral profile deleted.
func (s *Supervisor) Spawn(ctx context.Context, opts SpawnOptions) (*Session, error) {
	sessionID := s.allocateSessionId()

	profile, err := MaterializeProfile(s.fs, opts.ProfilePath, opts.Extension, opts.Proxy)
	if err != nil {
		return nil, err
	}

	bootstrapURL, err := buildBootstrapURL(s.pool.URL(), sessionID)
	if err != nil {
		_ = profile.Remove(s.fs)
		return nil, err
	}

	waitCtx, cancelWait := context.WithCancel(ctx)
	defer cancelWait()

	var wg sync.WaitGroup
	var conn *connection.Connection
	var waitErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		conn, waitErr = s.pool.WaitForSession(waitCtx, sessionID, s.handshakeTimeout)
	}()

	proc, err := launchProcess(opts.Launch, profile.Path, bootstrapURL, s.logger)
	if err != nil {
		cancelWait()
		wg.Wait()
		_ = profile.Remove(s.fs)
		return nil, err
	}

	wg.Wait()
	if waitErr != nil {
		proc.Close()
		s.pool.Remove(sessionID)
		_ = profile.Remove(s.fs)
		return nil, waitErr
	}

	return &Session{
		SessionId: sessionID,
		Conn:      conn,
		Profile:   profile,
		proc:      proc,
		fs:        s.fs,
		pool:      s.pool,
		logger:    s.logger,
	}, nil
}

// PID returns the Firefox process id backing this session.
func (sess *Session) PID() int { return sess.proc.PID() }

// Close sends the graceful-then-forced termination sequence to the
// Firefox process, removes the pool's routing entry, and deletes the
// profile directory if it was ephemeral. Idempotent.
func (sess *Session) Close() error {
	sess.proc.Close()
	sess.pool.Remove(sess.SessionId)
	return sess.Profile.Remove(sess.fs)
}
