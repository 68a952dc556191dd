package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/plclink/internal/infrastructure/mqtt"
	"github.com/nerrad567/plclink/internal/plc"
	"github.com/nerrad567/plclink/internal/trigger"
)

const (
	// defaultQueueSize bounds outbound publishes waiting for the broker.
	defaultQueueSize = 256

	// commandTimeout bounds a confirmed write.
	commandTimeout = 5 * time.Second

	// qosAtLeastOnce is used for commands, acks and link state.
	qosAtLeastOnce = 1
)

// MQTTClient is the part of *mqtt.Client the bridge uses.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
}

// Link is the part of *plc.Manager the bridge uses.
type Link interface {
	Write(ns plc.Namespace, name string, value bool) error
	WriteWait(ctx context.Context, ns plc.Namespace, name string, value bool) error
	State() plc.State
	URL() string
}

// Detector evaluates detections. *trigger.Latch satisfies it.
type Detector interface {
	Check(detected bool) (trigger.Result, error)
}

// Options configures a Bridge.
type Options struct {
	MQTT  MQTTClient
	Link  Link
	Store *plc.Store

	// Detector is optional; detections are ignored without one.
	Detector Detector

	// QueueSize bounds pending outbound publishes. Default: 256.
	QueueSize int

	Logger plc.Logger
}

// Bridge translates between the controller link and MQTT.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	mqtt     MQTTClient
	link     Link
	store    *plc.Store
	detector Detector
	topics   mqtt.Topics
	logger   plc.Logger

	queue    *plc.Queue
	observer plc.Observer

	ctx       context.Context
	ctxCancel context.CancelFunc
	wg        sync.WaitGroup
	stopOnce  sync.Once

	now func() time.Time
}

// New creates a bridge. Call Start to subscribe and begin publishing.
func New(opts Options) (*Bridge, error) {
	if opts.MQTT == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Link == nil {
		return nil, fmt.Errorf("link is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	size := opts.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = nopLogger{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		mqtt:      opts.MQTT,
		link:      opts.Link,
		store:     opts.Store,
		detector:  opts.Detector,
		logger:    logger,
		queue:     plc.NewQueue(size, logger),
		ctx:       ctx,
		ctxCancel: cancel,
		now:       time.Now,
	}
	b.observer = plc.Deliver(b.queue, plc.ObserverFunc(b.publishState))
	return b, nil
}

// Start subscribes to command and detection topics, publishes the current
// store contents and begins mirroring changes.
func (b *Bridge) Start() error {
	if err := b.mqtt.Subscribe(b.topics.AllCommands(), qosAtLeastOnce, b.handleCommand); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	if b.detector != nil {
		if err := b.mqtt.Subscribe(b.topics.Detection(), qosAtLeastOnce, b.handleDetection); err != nil {
			return fmt.Errorf("subscribe to detections: %w", err)
		}
	}

	if err := b.store.AddObserver(b.observer); err != nil {
		return fmt.Errorf("attach to store: %w", err)
	}
	for key, value := range b.store.Snapshot() {
		b.observer.VariableChanged(key, value)
	}
	b.LinkStateChanged(b.link.State())

	b.logger.Info("MQTT bridge started", "commands", b.topics.AllCommands())
	return nil
}

// Stop detaches from the store, waits for in-flight commands and drains
// pending publishes. Safe to call more than once.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.store.RemoveObserver(b.observer)
		b.ctxCancel()
		b.wg.Wait()
		b.queue.Close()
		b.logger.Info("MQTT bridge stopped")
	})
}

// LinkStateChanged publishes a link state transition. It does not block and
// may be called from the link goroutine.
func (b *Bridge) LinkStateChanged(state plc.State) {
	url := b.link.URL()
	b.queue.Post(func() {
		msg := LinkMessage{State: state, URL: url, Timestamp: b.now().UTC()}
		if err := b.publishJSON(b.topics.SystemLink(), msg, true); err != nil {
			b.logger.Warn("publishing link state failed", "state", state.String(), "error", err)
		}
	})
}

// Dropped returns how many publishes were discarded because the queue was full.
func (b *Bridge) Dropped() uint64 {
	return b.queue.Dropped()
}

func (b *Bridge) publishState(key plc.Key, value any) {
	ns, name, err := plc.ParseKey(string(key))
	if err != nil {
		b.logger.Warn("skipping unpublishable key", "key", string(key), "error", err)
		return
	}
	msg := StateMessage{
		Key:       key,
		Namespace: ns.Canonical(),
		Name:      name,
		Value:     value,
		Timestamp: b.now().UTC(),
	}
	if err := b.publishJSON(b.topics.State(msg.Namespace, name), msg, true); err != nil {
		b.logger.Warn("publishing state failed", "key", string(key), "error", err)
	}
}

func (b *Bridge) handleCommand(topic string, payload []byte) error {
	kind, ns, name, err := b.topics.ParseVariable(topic)
	if err != nil {
		return err
	}
	if kind != "command" {
		return fmt.Errorf("%w: %s", mqtt.ErrInvalidTopic, topic)
	}
	key := plc.NewKey(plc.Namespace(ns), name)

	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.ack(ns, name, AckMessage{ID: uuid.NewString(), Key: key, Status: AckFailed, Error: "invalid JSON"})
		return fmt.Errorf("decoding command for %s: %w", key, err)
	}
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	if cmd.Value == nil {
		b.ack(ns, name, AckMessage{ID: cmd.ID, Key: key, Status: AckFailed, Error: "value is required"})
		return fmt.Errorf("command %s for %s has no value", cmd.ID, key)
	}
	value := *cmd.Value

	if !cmd.Wait {
		ack := AckMessage{ID: cmd.ID, Key: key, Status: AckAccepted}
		if err := b.link.Write(plc.Namespace(ns), name, value); err != nil {
			ack.Status, ack.Error = AckFailed, err.Error()
		}
		b.ack(ns, name, ack)
		return nil
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
		defer cancel()

		ack := AckMessage{ID: cmd.ID, Key: key, Status: AckConfirmed}
		if err := b.link.WriteWait(ctx, plc.Namespace(ns), name, value); err != nil {
			ack.Status, ack.Error = AckFailed, err.Error()
		}
		b.ack(ns, name, ack)
	}()
	return nil
}

func (b *Bridge) ack(ns, name string, msg AckMessage) {
	msg.Timestamp = b.now().UTC()
	if err := b.publishJSON(b.topics.Ack(ns, name), msg, false); err != nil {
		b.logger.Warn("publishing ack failed", "id", msg.ID, "error", err)
	}
}

func (b *Bridge) handleDetection(_ string, payload []byte) error {
	var msg DetectionMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("decoding detection: %w", err)
	}
	res, err := b.detector.Check(msg.Detected)
	if errors.Is(err, trigger.ErrDisabled) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("evaluating detection: %w", err)
	}
	if res.Action != trigger.ActionNone {
		b.logger.Debug("detection acted", "action", string(res.Action))
	}
	return nil
}

func (b *Bridge) publishJSON(topic string, v any, retained bool) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", topic, err)
	}
	return b.mqtt.Publish(topic, payload, qosAtLeastOnce, retained)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
