// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/ManuGH/lure/internal/log"
	"github.com/ManuGH/lure/internal/metrics"
)

const subscriberBuffer = 64

// Broker fans realtime frames out to the connections of one user, possibly
// across processes.
type Broker interface {
	Publish(ctx context.Context, userID string, frame []byte) error
	Subscribe(ctx context.Context, userID string) (Subscription, error)
	Close() error
}

// Subscription receives the frames published for one user.
type Subscription interface {
	C() <-chan []byte
	Close() error
}

// Channel returns the redis channel / NATS subject for a user.
func Channel(userID string) string { return "lure.notifications." + userID }

// MemoryBroker is an in-process broker. Frames for slow subscribers are
// dropped rather than blocking the publisher.
type MemoryBroker struct {
	mu     sync.RWMutex
	subs   map[string][]*memSub
	closed bool
}

// NewMemoryBroker returns an empty MemoryBroker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: make(map[string][]*memSub)}
}

// Publish implements Broker.
func (b *MemoryBroker) Publish(ctx context.Context, userID string, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs[userID] {
		select {
		case s.ch <- frame:
		default:
			metrics.IncBrokerDrop("memory", "full")
		}
	}
	return nil
}

// Subscribe implements Broker.
func (b *MemoryBroker) Subscribe(_ context.Context, userID string) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errors.New("notify: broker closed")
	}
	s := &memSub{b: b, userID: userID, ch: make(chan []byte, subscriberBuffer)}
	b.subs[userID] = append(b.subs[userID], s)
	return s, nil
}

// Subscribers returns the number of live subscriptions for userID.
func (b *MemoryBroker) Subscribers(userID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[userID])
}

// Close closes every subscription.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for user, subs := range b.subs {
		for _, s := range subs {
			close(s.ch)
		}
		delete(b.subs, user)
	}
	b.closed = true
	return nil
}

type memSub struct {
	b      *MemoryBroker
	userID string
	ch     chan []byte
}

func (s *memSub) C() <-chan []byte { return s.ch }

func (s *memSub) Close() error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	lst := s.b.subs[s.userID]
	found := false
	out := lst[:0]
	for _, c := range lst {
		if c == s {
			found = true
			continue
		}
		out = append(out, c)
	}
	if !found {
		return nil
	}
	if len(out) == 0 {
		delete(s.b.subs, s.userID)
	} else {
		s.b.subs[s.userID] = out
	}
	close(s.ch)
	return nil
}

// RedisBroker uses redis pub/sub so every API process sees every frame.
type RedisBroker struct {
	client *redis.Client
}

// NewRedisBroker returns a broker on client.
func NewRedisBroker(client *redis.Client) *RedisBroker {
	return &RedisBroker{client: client}
}

// Publish implements Broker.
func (b *RedisBroker) Publish(ctx context.Context, userID string, frame []byte) error {
	if err := b.client.Publish(ctx, Channel(userID), frame).Err(); err != nil {
		metrics.IncBrokerDrop("redis", "error")
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Subscribe implements Broker. It returns once the subscription is active.
func (b *RedisBroker) Subscribe(ctx context.Context, userID string) (Subscription, error) {
	ps := b.client.Subscribe(ctx, Channel(userID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}
	s := &redisSub{ps: ps, ch: make(chan []byte, subscriberBuffer), done: make(chan struct{})}
	go s.pump()
	return s, nil
}

// Close is a no-op; the client is owned by the caller.
func (b *RedisBroker) Close() error { return nil }

type redisSub struct {
	ps   *redis.PubSub
	ch   chan []byte
	done chan struct{}
	once sync.Once
}

func (s *redisSub) pump() {
	defer close(s.ch)
	in := s.ps.Channel()
	for {
		select {
		case <-s.done:
			return
		case m, ok := <-in:
			if !ok {
				return
			}
			select {
			case s.ch <- []byte(m.Payload):
			default:
				metrics.IncBrokerDrop("redis", "full")
			}
		}
	}
}

func (s *redisSub) C() <-chan []byte { return s.ch }

func (s *redisSub) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}

// NATSBroker publishes frames on NATS subjects.
type NATSBroker struct {
	nc *nats.Conn
}

// ConnectNATS dials url and returns a broker owning the connection.
func ConnectNATS(url string) (*NATSBroker, error) {
	logger := log.WithComponent("notify")
	nc, err := nats.Connect(url,
		nats.Name("lure"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Str(log.FieldEvent, "notify.nats_disconnected").Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str(log.FieldEvent, "notify.nats_reconnected").Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &NATSBroker{nc: nc}, nil
}

// Publish implements Broker.
func (b *NATSBroker) Publish(_ context.Context, userID string, frame []byte) error {
	if err := b.nc.Publish(Channel(userID), frame); err != nil {
		metrics.IncBrokerDrop("nats", "error")
		return fmt.Errorf("nats publish: %w", err)
	}
	return nil
}

// Subscribe implements Broker.
func (b *NATSBroker) Subscribe(_ context.Context, userID string) (Subscription, error) {
	s := &natsSub{ch: make(chan []byte, subscriberBuffer)}
	sub, err := b.nc.Subscribe(Channel(userID), func(m *nats.Msg) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			return
		}
		select {
		case s.ch <- m.Data:
		default:
			metrics.IncBrokerDrop("nats", "full")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("nats subscribe: %w", err)
	}
	s.sub = sub
	return s, nil
}

// Close drains the connection.
func (b *NATSBroker) Close() error { return b.nc.Drain() }

type natsSub struct {
	sub    *nats.Subscription
	ch     chan []byte
	mu     sync.Mutex
	closed bool
}

func (s *natsSub) C() <-chan []byte { return s.ch }

func (s *natsSub) Close() error {
	err := s.sub.Unsubscribe()
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	return err
}
