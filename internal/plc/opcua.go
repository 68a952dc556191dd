package plc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"
)

const (
	// notifyQueueSize buffers publish notifications from the client library.
	notifyQueueSize = 256

	// eventQueueSize buffers decoded change events for the link goroutine.
	eventQueueSize = 256
)

// errNoSubscription is returned by Monitor before Subscribe succeeded.
var errNoSubscription = errors.New("subscription not created")

// OPCUADialer opens sessions against an OPC UA server using gopcua.
//
// Sessions are anonymous and unsecured, matching controllers that expose
// their symbol table on the local machine network.
type OPCUADialer struct {
	// RequestTimeout is passed to the client. Default: 10s.
	RequestTimeout time.Duration

	// Options are appended to the client options, for example security settings.
	Options []opcua.Option
}

// Dial connects to url and returns a ready session.
func (d OPCUADialer) Dial(ctx context.Context, url string) (Session, error) {
	opts := []opcua.Option{
		opcua.SecurityMode(ua.MessageSecurityModeNone),
		opcua.AutoReconnect(false),
		opcua.RequestTimeout(orDefault(d.RequestTimeout, defaultRequestTimeout)),
	}
	opts = append(opts, d.Options...)

	client, err := opcua.NewClient(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating client: %w", err)
	}
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", url, err)
	}

	s := &opcuaSession{
		client:  client,
		notify:  make(chan *opcua.PublishNotificationData, notifyQueueSize),
		events:  make(chan ChangeEvent, eventQueueSize),
		done:    make(chan struct{}),
		handles: make(map[uint32]nodeRef),
	}
	go s.pump()
	return s, nil
}

type nodeRef struct {
	ns   uint16
	name string
}

// opcuaSession adapts a gopcua client to Session.
type opcuaSession struct {
	client *opcua.Client
	sub    *opcua.Subscription

	notify chan *opcua.PublishNotificationData
	events chan ChangeEvent
	done   chan struct{}

	// handles maps client handles to monitored nodes; the pump reads it.
	mu         sync.RWMutex
	handles    map[uint32]nodeRef
	nextHandle atomic.Uint32

	closeOnce sync.Once
	pumpErr   atomic.Pointer[error]
}

func nodeID(ns Namespace, name string) (*ua.NodeID, uint16, error) {
	idx, err := ns.Index()
	if err != nil {
		return nil, 0, err
	}
	return ua.NewStringNodeID(idx, name), idx, nil
}

func (s *opcuaSession) Subscribe(ctx context.Context, interval time.Duration) error {
	sub, err := s.client.Subscribe(ctx, &opcua.SubscriptionParameters{Interval: interval}, s.notify)
	if err != nil {
		return err
	}
	s.sub = sub
	return nil
}

func (s *opcuaSession) Monitor(ctx context.Context, ns Namespace, name string) error {
	if s.sub == nil {
		return errNoSubscription
	}
	id, idx, err := nodeID(ns, name)
	if err != nil {
		return err
	}

	handle := s.nextHandle.Add(1)
	s.mu.Lock()
	s.handles[handle] = nodeRef{ns: idx, name: name}
	s.mu.Unlock()

	req := opcua.NewMonitoredItemCreateRequestWithDefaults(id, ua.AttributeIDValue, handle)
	res, err := s.sub.Monitor(ctx, ua.TimestampsToReturnBoth, req)
	if err == nil && (res == nil || len(res.Results) == 0) {
		err = errors.New("empty monitor response")
	}
	if err == nil && res.Results[0].StatusCode != ua.StatusOK {
		err = res.Results[0].StatusCode
	}
	if err != nil {
		s.mu.Lock()
		delete(s.handles, handle)
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *opcuaSession) Read(ctx context.Context, ns Namespace, name string) (any, error) {
	id, _, err := nodeID(ns, name)
	if err != nil {
		return nil, err
	}
	v, err := s.client.Node(id).Value(ctx)
	if err != nil {
		return nil, err
	}
	return Normalize(v), nil
}

func (s *opcuaSession) Write(ctx context.Context, ns Namespace, name string, value bool) error {
	id, _, err := nodeID(ns, name)
	if err != nil {
		return err
	}
	req := &ua.WriteRequest{
		NodesToWrite: []*ua.WriteValue{{
			NodeID:      id,
			AttributeID: ua.AttributeIDValue,
			Value: &ua.DataValue{
				EncodingMask: ua.DataValueValue,
				Value:        ua.MustVariant(value),
			},
		}},
	}
	res, err := s.client.Write(ctx, req)
	if err != nil {
		return err
	}
	if len(res.Results) == 0 {
		return errors.New("empty write response")
	}
	if res.Results[0] != ua.StatusOK {
		return res.Results[0]
	}
	return nil
}

func (s *opcuaSession) Events() <-chan ChangeEvent {
	return s.events
}

func (s *opcuaSession) Alive() bool {
	if s.pumpErr.Load() != nil {
		return false
	}
	return s.client.State() == opcua.Connected
}

func (s *opcuaSession) Close(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		if s.sub != nil {
			// Cancel fails once the channel is gone; Close reports the real error.
			_ = s.sub.Cancel(ctx)
		}
		err = s.client.Close(ctx)
	})
	return err
}

// pump decodes publish notifications into change events.
func (s *opcuaSession) pump() {
	defer close(s.events)
	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-s.notify:
			if !ok {
				return
			}
			if msg.Error != nil {
				err := msg.Error
				s.pumpErr.Store(&err)
				continue
			}
			dc, ok := msg.Value.(*ua.DataChangeNotification)
			if !ok {
				continue
			}
			for _, item := range dc.MonitoredItems {
				s.mu.RLock()
				ref, known := s.handles[item.ClientHandle]
				s.mu.RUnlock()
				if !known {
					continue
				}
				ev := ChangeEvent{Namespace: ref.ns, Identifier: ref.name, Value: item.Value}
				select {
				case s.events <- ev:
				case <-s.done:
					return
				}
			}
		}
	}
}
