package trigger

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/plclink/internal/plc"
)

// Action is what an evaluation did.
type Action string

const (
	// ActionNone means no write was issued.
	ActionNone Action = "none"

	// ActionSet means true was written to the outputs.
	ActionSet Action = "set"

	// ActionReset means false was written to the outputs.
	ActionReset Action = "reset"
)

// ErrDisabled is returned by Evaluate on a latch built from a disabled config.
var ErrDisabled = errors.New("trigger: latch disabled")

// Reader reads boolean variables. *plc.Store satisfies it.
type Reader interface {
	Bool(key plc.Key) (bool, error)
}

// Writer issues Boolean writes. *plc.Manager satisfies it.
type Writer interface {
	Write(ns plc.Namespace, name string, value bool) error
}

// Config names the variables the latch works with.
type Config struct {
	Enabled     bool
	Namespace   plc.Namespace
	TriggerName string
	SignalName  string
	Outputs     []string

	// RearmAfter clears an outstanding pulse after this long without an
	// echo. Zero waits forever.
	RearmAfter time.Duration
}

// Result describes one evaluation.
type Result struct {
	Action        Action    `json:"action"`
	Detected      bool      `json:"detected"`
	TriggerActive bool      `json:"trigger_active"`
	TriggerSet    bool      `json:"trigger_set"`
	SignalActive  bool      `json:"signal_active"`
	SignalSet     bool      `json:"signal_set"`
	Sent          bool      `json:"sent"`
	At            time.Time `json:"at"`
}

// Latch remembers whether a pulse is outstanding. It is safe for
// concurrent use; evaluations are serialised.
type Latch struct {
	cfg    Config
	reader Reader
	writer Writer
	logger plc.Logger
	now    func() time.Time

	mu     sync.Mutex
	sent   bool
	sentAt time.Time
	last   Result

	onAction   func(Result)
	callbackMu sync.RWMutex
}

// NewLatch creates a latch. Outputs default to the signal variable.
func NewLatch(cfg Config, reader Reader, writer Writer, logger plc.Logger) (*Latch, error) {
	if reader == nil || writer == nil {
		return nil, errors.New("trigger: reader and writer are required")
	}
	if cfg.Enabled && (cfg.TriggerName == "" || cfg.SignalName == "") {
		return nil, errors.New("trigger: trigger and signal names are required")
	}
	if len(cfg.Outputs) == 0 {
		cfg.Outputs = []string{cfg.SignalName}
	}
	if logger == nil {
		logger = nopLogger{}
	}
	return &Latch{cfg: cfg, reader: reader, writer: writer, logger: logger, now: time.Now}, nil
}

// Evaluate feeds one detection result to the latch and returns the action taken.
func (l *Latch) Evaluate(detected bool) (Action, error) {
	res, err := l.Check(detected)
	return res.Action, err
}

// Check is Evaluate with the full evaluation details.
func (l *Latch) Check(detected bool) (Result, error) {
	if !l.cfg.Enabled {
		return Result{Action: ActionNone, Detected: detected}, ErrDisabled
	}

	res, err := l.evaluate(detected)
	if res.Action != ActionNone {
		l.callbackMu.RLock()
		cb := l.onAction
		l.callbackMu.RUnlock()
		if cb != nil {
			cb(res)
		}
	}
	return res, err
}

func (l *Latch) evaluate(detected bool) (Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if l.sent && l.cfg.RearmAfter > 0 && now.Sub(l.sentAt) >= l.cfg.RearmAfter {
		l.logger.Warn("no echo from controller, re-arming trigger",
			"signal", l.cfg.SignalName, "after", l.cfg.RearmAfter)
		l.sent = false
	}

	res := Result{Action: ActionNone, Detected: detected, At: now}
	res.TriggerActive, res.TriggerSet = l.read(l.cfg.TriggerName)
	res.SignalActive, res.SignalSet = l.read(l.cfg.SignalName)

	var err error
	switch {
	case detected && !l.sent && res.TriggerActive:
		if err = l.writeOutputs(true); err == nil {
			l.sent, l.sentAt = true, now
			res.Action = ActionSet
			l.logger.Info("trigger sent", "value", true)
		}
	case res.SignalActive && l.sent:
		if err = l.writeOutputs(false); err == nil {
			l.sent = false
			res.Action = ActionReset
			l.logger.Info("trigger sent", "value", false)
		}
	}
	res.Sent = l.sent
	l.last = res
	return res, err
}

// SetOnAction sets a callback invoked after every evaluation that wrote.
func (l *Latch) SetOnAction(callback func(Result)) {
	l.callbackMu.Lock()
	l.onAction = callback
	l.callbackMu.Unlock()
}

// Last returns the most recent evaluation.
func (l *Latch) Last() Result {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last
}

// Sent reports whether a pulse is outstanding.
func (l *Latch) Sent() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sent
}

// Reset clears an outstanding pulse without writing.
func (l *Latch) Reset() {
	l.mu.Lock()
	l.sent = false
	l.mu.Unlock()
}

// Enabled reports whether the latch acts on detections.
func (l *Latch) Enabled() bool {
	return l.cfg.Enabled
}

// read returns the variable's value and whether it was set. Unset and
// non-boolean values read as false.
func (l *Latch) read(name string) (active, set bool) {
	key := plc.NewKey(plc.Namespace(l.cfg.Namespace.Canonical()), name)
	v, err := l.reader.Bool(key)
	switch {
	case err == nil:
		return v, true
	case errors.Is(err, plc.ErrNotSet):
		return false, false
	default:
		l.logger.Warn("trigger variable unreadable", "key", string(key), "error", err)
		return false, true
	}
}

func (l *Latch) writeOutputs(value bool) error {
	var errs []error
	for _, name := range l.cfg.Outputs {
		if err := l.writer.Write(l.cfg.Namespace, name, value); err != nil {
			errs = append(errs, fmt.Errorf("writing %s: %w", plc.NewKey(l.cfg.Namespace, name), err))
		}
	}
	return errors.Join(errs...)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
