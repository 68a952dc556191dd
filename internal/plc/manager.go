package plc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Default timings for the controller link.
const (
	// defaultReconnectDelay is the fixed wait between connection attempts.
	defaultReconnectDelay = 5 * time.Second

	// defaultKeepAliveInterval is how often the idle loop checks for stop or connection loss.
	defaultKeepAliveInterval = 1 * time.Second

	// defaultPublishingInterval is the server-side publishing interval of the change subscription.
	defaultPublishingInterval = 500 * time.Millisecond

	// defaultRequestTimeout bounds every single request sent to the controller.
	defaultRequestTimeout = 10 * time.Second

	// defaultStartupWait is how long Start waits for a previous link goroutine to unwind.
	defaultStartupWait = 2 * time.Second

	// jobQueueSize is the buffer size of the cross-goroutine job queue.
	jobQueueSize = 64
)

// errStreamClosed is returned when the session's event channel closes under us.
var errStreamClosed = errors.New("notification stream closed")

// ManagerOptions holds configuration for creating a Manager.
type ManagerOptions struct {
	// Dialer opens controller sessions. Required.
	Dialer Dialer

	// Store receives every value change. Required.
	Store *Store

	// Registry holds the subscriptions applied on every (re)connect.
	// A new empty registry is used if nil.
	Registry *Registry

	// Executor delivers per-subscription callbacks. Default: Inline.
	Executor Executor

	// Logger is optional.
	Logger Logger

	// ReconnectDelay is the fixed delay between connection attempts. Default: 5s.
	ReconnectDelay time.Duration

	// KeepAliveInterval is the idle loop check period. Default: 1s.
	KeepAliveInterval time.Duration

	// PublishingInterval is the server-side subscription interval. Default: 500ms.
	PublishingInterval time.Duration

	// RequestTimeout bounds each request to the controller. Default: 10s.
	RequestTimeout time.Duration

	// StartupWait bounds how long Start waits for a stopping link. Default: 2s.
	StartupWait time.Duration
}

// job is a unit of work marshalled onto the link goroutine.
type job struct {
	name   string
	run    func(ctx context.Context, s *liveSession) error
	result chan error // optional, buffered
}

// liveSession is a connected session plus the nodes already monitored on it.
// Only the link goroutine touches monitored.
type liveSession struct {
	Session
	monitored map[Key]bool
}

// Stats holds link statistics.
type Stats struct {
	State           State     `json:"state"`
	URL             string    `json:"url"`
	Connected       bool      `json:"connected"`
	NotificationsRx uint64    `json:"notifications_rx"`
	Unmatched       uint64    `json:"unmatched"`
	WritesTx        uint64    `json:"writes_tx"`
	WritesFailed    uint64    `json:"writes_failed"`
	WritesDropped   uint64    `json:"writes_dropped"`
	AttachFailures  uint64    `json:"attach_failures"`
	ReconnectsTotal uint64    `json:"reconnects_total"`
	Subscriptions   int       `json:"subscriptions"`
	Variables       int       `json:"variables"`
	LastActivity    time.Time `json:"last_activity,omitzero"`
	ConnectedSince  time.Time `json:"connected_since,omitzero"`
}

// Manager owns the single connection to the controller.
//
// One background goroutine per Start performs all network I/O: it connects,
// applies the registry, dispatches notifications and runs queued jobs. Every
// other goroutine talks to it through Subscribe and Write, which never block.
//
// Auto-Reconnection:
//   - Any failure marks the link not-connected, waits ReconnectDelay and tries again.
//   - The whole registry is re-applied after each successful connect.
//   - Reconnection stops only when Stop is called.
type Manager struct {
	dialer     Dialer
	store      *Store
	registry   *Registry
	dispatcher *Dispatcher
	logger     Logger

	reconnectDelay     time.Duration
	keepAliveInterval  time.Duration
	publishingInterval time.Duration
	requestTimeout     time.Duration
	startupWait        time.Duration

	// Lifecycle (guarded by mu). Each Start gets its own job queue so a
	// run that is still unwinding never touches the queue of its successor.
	mu     sync.Mutex
	stopCh chan struct{}
	done   chan struct{}
	jobs   chan job

	url       atomic.Pointer[string]
	running   atomic.Bool
	connected atomic.Bool
	state     atomic.Int32

	onStateChange func(State)
	callbackMu    sync.RWMutex

	// Statistics
	writesTx        atomic.Uint64
	writesFailed    atomic.Uint64
	writesDropped   atomic.Uint64
	attachFailures  atomic.Uint64
	reconnectsTotal atomic.Uint64
	notificationsRx atomic.Uint64
	lastActivity    atomic.Int64
	connectedSince  atomic.Int64
}

// NewManager creates a stopped manager. Call Start to connect.
func NewManager(opts ManagerOptions) (*Manager, error) {
	if opts.Dialer == nil {
		return nil, fmt.Errorf("dialer is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if opts.Registry == nil {
		opts.Registry = NewRegistry()
	}

	m := &Manager{
		dialer:             opts.Dialer,
		store:              opts.Store,
		registry:           opts.Registry,
		logger:             orNop(opts.Logger),
		reconnectDelay:     orDefault(opts.ReconnectDelay, defaultReconnectDelay),
		keepAliveInterval:  orDefault(opts.KeepAliveInterval, defaultKeepAliveInterval),
		publishingInterval: orDefault(opts.PublishingInterval, defaultPublishingInterval),
		requestTimeout:     orDefault(opts.RequestTimeout, defaultRequestTimeout),
		startupWait:        orDefault(opts.StartupWait, defaultStartupWait),
		jobs:               make(chan job, jobQueueSize),
	}
	m.dispatcher = NewDispatcher(opts.Store, opts.Registry, opts.Executor, m.logger)
	return m, nil
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// Start begins maintaining a connection to url. It is a no-op if already running.
//
// If a previous link goroutine is still unwinding after Stop, Start waits up
// to StartupWait for it before spawning a new one.
func (m *Manager) Start(url string) {
	m.mu.Lock()
	if m.running.Load() {
		m.mu.Unlock()
		return
	}
	prev := m.done
	m.mu.Unlock()

	if prev != nil {
		select {
		case <-prev:
		case <-time.After(m.startupWait):
			m.logger.Warn("previous PLC link still shutting down, starting anyway")
		}
	}

	m.mu.Lock()
	if m.running.Load() {
		m.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	jobs := make(chan job, jobQueueSize)
	m.stopCh = stop
	m.done = done
	m.jobs = jobs
	m.running.Store(true)
	m.mu.Unlock()

	m.url.Store(&url)
	m.setState(StateConnecting)

	go m.run(url, stop, done, jobs)
}

// Stop asks the link goroutine to finish. In-flight requests are not aborted;
// the goroutine notices at its next loop boundary. Use Wait to block until it exits.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.running.Store(false)
	m.connected.Store(false)
	if m.stopCh != nil {
		select {
		case <-m.stopCh:
		default:
			close(m.stopCh)
		}
	}
}

// Wait blocks until the current link goroutine has exited or ctx is done.
func (m *Manager) Wait(ctx context.Context) error {
	m.mu.Lock()
	done := m.done
	m.mu.Unlock()

	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe registers interest in a variable. The record is stored
// immediately; if the link is connected the variable is also attached to the
// live subscription, otherwise it is picked up on the next connect.
// cb may be nil.
func (m *Manager) Subscribe(ns Namespace, name string, cb Callback) {
	sub := Subscription{Namespace: ns, Name: name, Callback: cb}
	m.registry.Add(sub)

	if !m.connected.Load() {
		return
	}
	err := m.enqueue(job{
		name: "monitor",
		run: func(ctx context.Context, s *liveSession) error {
			return m.attach(ctx, s, sub)
		},
	})
	if err != nil {
		m.logger.Warn("could not schedule monitor, will retry on reconnect",
			"key", string(sub.Key()), "error", err)
	}
}

// Write schedules a Boolean write. It returns immediately: nil when the
// write was queued, ErrNotConnected when it was dropped because the link is
// down, ErrQueueFull when the link is saturated. The controller's answer is
// only logged; use WriteWait to observe it.
func (m *Manager) Write(ns Namespace, name string, value bool) error {
	if !m.connected.Load() {
		m.dropWrite(ns, name)
		return ErrNotConnected
	}
	return m.enqueue(m.writeJob(ns, name, value, nil))
}

// WriteWait schedules a Boolean write and waits for the controller's answer.
func (m *Manager) WriteWait(ctx context.Context, ns Namespace, name string, value bool) error {
	if !m.connected.Load() {
		m.dropWrite(ns, name)
		return ErrNotConnected
	}

	result := make(chan error, 1)
	if err := m.enqueue(m.writeJob(ns, name, value, result)); err != nil {
		return err
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) dropWrite(ns Namespace, name string) {
	m.writesDropped.Add(1)
	m.logger.Warn("write dropped, PLC not connected", "key", string(NewKey(ns, name)))
}

func (m *Manager) writeJob(ns Namespace, name string, value bool, result chan error) job {
	key := NewKey(ns, name)
	return job{
		name:   "write",
		result: result,
		run: func(ctx context.Context, s *liveSession) error {
			if err := s.Write(ctx, ns, name, value); err != nil {
				m.writesFailed.Add(1)
				m.logger.Error("failed to write variable", "key", string(key), "value", value, "error", err)
				return fmt.Errorf("%w: %s: %w", ErrWriteFailed, key, err)
			}
			m.writesTx.Add(1)
			m.touch()
			m.logger.Info("wrote variable", "key", string(key), "value", value)
			return nil
		},
	}
}

// queue returns the job queue of the current run.
func (m *Manager) queue() chan job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.jobs
}

// enqueue hands a job to the link goroutine without blocking.
func (m *Manager) enqueue(j job) error {
	select {
	case m.queue() <- j:
		return nil
	default:
		if j.name == "write" {
			m.writesDropped.Add(1)
		}
		return ErrQueueFull
	}
}

// run is the link goroutine: the supervised reconnect loop.
func (m *Manager) run(url string, stop, done chan struct{}, jobs chan job) {
	defer close(done)
	defer m.finish(stop, jobs)

	m.logger.Info("connecting to PLC", "url", url)

	connects := 0
	for m.isRunning(stop) {
		m.setState(StateConnecting)

		err := m.serve(url, stop, jobs, &connects)

		m.release(stop)
		m.failPending(jobs)

		if !m.isRunning(stop) {
			break
		}

		m.logger.Error("PLC connection error", "url", url, "error", err,
			"retry_in", m.reconnectDelay.String())
		m.setState(StateReconnecting)

		if !m.sleep(stop, m.reconnectDelay) {
			break
		}
	}

	m.logger.Info("PLC link stopped", "url", url)
}

// serve connects once and runs until the connection is lost or stop is requested.
func (m *Manager) serve(url string, stop chan struct{}, jobs chan job, connects *int) error {
	ctx, cancel := context.WithTimeout(context.Background(), m.requestTimeout)
	sess, err := m.dialer.Dial(ctx, url)
	cancel()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	defer m.closeSession(sess)

	// Anything still queued was accepted for an older connection.
	m.failPending(jobs)

	if !m.claim(stop) {
		return nil
	}
	m.touch()
	m.setState(StateConnected)
	*connects++
	if *connects > 1 {
		m.reconnectsTotal.Add(1)
	}
	m.logger.Info("connected to PLC", "url", url)

	if err := m.call(func(ctx context.Context) error {
		return sess.Subscribe(ctx, m.publishingInterval)
	}); err != nil {
		return fmt.Errorf("create subscription: %w", err)
	}

	// Flag first, snapshot second: a Subscribe racing the connect may land in
	// the snapshot and also queue a monitor job. attach skips the second one.
	live := &liveSession{Session: sess, monitored: make(map[Key]bool)}
	for _, sub := range m.registry.Snapshot() {
		_ = m.call(func(ctx context.Context) error { return m.attach(ctx, live, sub) })
	}

	ticker := time.NewTicker(m.keepAliveInterval)
	defer ticker.Stop()

	events := sess.Events()
	for {
		select {
		case <-stop:
			return nil
		case j := <-jobs:
			m.runJob(live, j)
		case ev, ok := <-events:
			if !ok {
				return errStreamClosed
			}
			m.notificationsRx.Add(1)
			m.touch()
			m.dispatcher.Handle(ev)
		case <-ticker.C:
			if !m.isRunning(stop) || !m.connected.Load() {
				return nil
			}
			if !sess.Alive() {
				return fmt.Errorf("%w: connection lost", ErrNotConnected)
			}
		}
	}
}

// attach monitors one subscription. A node is monitored at most once per
// session; every matching record still gets the notification through the
// registry. Failures are logged per item and retried by the next attach.
func (m *Manager) attach(ctx context.Context, s *liveSession, sub Subscription) error {
	node := NewKey(Namespace(sub.Namespace.Canonical()), sub.Name)
	if s.monitored[node] {
		return nil
	}
	if err := s.Monitor(ctx, sub.Namespace, sub.Name); err != nil {
		m.attachFailures.Add(1)
		m.logger.Warn("failed to monitor variable", "key", string(sub.Key()), "error", err)
		return fmt.Errorf("%w: %s: %w", ErrAttachFailed, sub.Key(), err)
	}
	s.monitored[node] = true
	m.logger.Debug("monitoring variable", "key", string(sub.Key()))
	return nil
}

func (m *Manager) runJob(s *liveSession, j job) {
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("job %s panicked: %v", j.name, r)
				m.logger.Error("link job panic", "job", j.name, "error", err)
			}
		}()
		err = m.call(func(ctx context.Context) error { return j.run(ctx, s) })
	}()
	if j.result != nil {
		j.result <- err
	}
}

// failPending completes every job queued on jobs with ErrNotConnected.
func (m *Manager) failPending(jobs chan job) {
	for {
		select {
		case j := <-jobs:
			if j.name == "write" {
				m.writesDropped.Add(1)
			}
			if j.result != nil {
				j.result <- ErrNotConnected
			}
		default:
			return
		}
	}
}

func (m *Manager) call(fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), m.requestTimeout)
	defer cancel()
	return fn(ctx)
}

func (m *Manager) closeSession(s Session) {
	ctx, cancel := context.WithTimeout(context.Background(), m.requestTimeout)
	defer cancel()
	if err := s.Close(ctx); err != nil {
		m.logger.Debug("closing PLC session", "error", err)
	}
}

// claim marks the link connected if the run identified by stop still owns it.
func (m *Manager) claim(stop chan struct{}) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopCh != stop || !m.isRunning(stop) {
		return false
	}
	m.connected.Store(true)
	m.connectedSince.Store(time.Now().UnixNano())
	return true
}

// release clears the connected flag if the run identified by stop still owns
// the link. A newer Start owns the state once stopCh has been replaced.
func (m *Manager) release(stop chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopCh != stop {
		return
	}
	m.connected.Store(false)
	m.connectedSince.Store(0)
}

// finish runs when the link goroutine exits.
func (m *Manager) finish(stop chan struct{}, jobs chan job) {
	m.mu.Lock()
	current := m.stopCh == stop
	if current {
		m.running.Store(false)
		m.connected.Store(false)
		m.connectedSince.Store(0)
	}
	m.mu.Unlock()

	m.failPending(jobs)
	if current {
		m.setState(StateStopped)
	}
}

func (m *Manager) isRunning(stop <-chan struct{}) bool {
	select {
	case <-stop:
		return false
	default:
		return m.running.Load()
	}
}

// sleep waits d, returning false if stop was requested first.
func (m *Manager) sleep(stop <-chan struct{}, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-stop:
		return false
	case <-timer.C:
		return m.running.Load()
	}
}

func (m *Manager) touch() {
	m.lastActivity.Store(time.Now().UnixNano())
}

func (m *Manager) setState(s State) {
	old := State(m.state.Swap(int32(s)))
	if old == s {
		return
	}
	m.logger.Debug("PLC link state changed", "from", old.String(), "to", s.String())

	m.callbackMu.RLock()
	callback := m.onStateChange
	m.callbackMu.RUnlock()
	if callback == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("state change callback panic", "error", fmt.Errorf("%v", r))
		}
	}()
	callback(s)
}

// SetOnStateChange sets a callback invoked on every state transition.
// It runs on the link goroutine and must not block.
func (m *Manager) SetOnStateChange(callback func(State)) {
	m.callbackMu.Lock()
	m.onStateChange = callback
	m.callbackMu.Unlock()
}

// State returns the current connection state.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// IsConnected reports whether the link is connected.
func (m *Manager) IsConnected() bool {
	return m.connected.Load()
}

// IsRunning reports whether Start has been called without a matching Stop.
func (m *Manager) IsRunning() bool {
	return m.running.Load()
}

// URL returns the endpoint of the current or last run.
func (m *Manager) URL() string {
	if u := m.url.Load(); u != nil {
		return *u
	}
	return ""
}

// Store returns the store the manager writes to.
func (m *Manager) Store() *Store {
	return m.store
}

// Registry returns the subscription registry.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// HealthCheck returns ErrNotConnected unless the link is up.
func (m *Manager) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("plc health check: %w", ctx.Err())
	default:
	}
	if !m.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// Stats returns current link statistics.
func (m *Manager) Stats() Stats {
	ds := m.dispatcher.Stats()
	return Stats{
		State:           m.State(),
		URL:             m.URL(),
		Connected:       m.IsConnected(),
		NotificationsRx: m.notificationsRx.Load(),
		Unmatched:       ds.Unmatched,
		WritesTx:        m.writesTx.Load(),
		WritesFailed:    m.writesFailed.Load(),
		WritesDropped:   m.writesDropped.Load(),
		AttachFailures:  m.attachFailures.Load(),
		ReconnectsTotal: m.reconnectsTotal.Load(),
		Subscriptions:   m.registry.Len(),
		Variables:       m.store.Len(),
		LastActivity:    unixNanoTime(m.lastActivity.Load()),
		ConnectedSince:  unixNanoTime(m.connectedSince.Load()),
	}
}

func unixNanoTime(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
