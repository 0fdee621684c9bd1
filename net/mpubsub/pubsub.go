// Package mpubsub implements a Multicast PubSub.
// Publish: a CBOR envelope carrying a topic and a CBOR payload is sent to a multicast group.
// Subscribe: a listener receives envelopes and hands the payload to the handler registered for the topic.
package mpubsub

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/fxamacker/cbor/v2"

	log "github.com/sirupsen/logrus"
)

const maxDatagram = 1024

type envelope struct {
	Topic   string          `cbor:"1,keyasint,omitempty"`
	Payload cbor.RawMessage `cbor:"2,keyasint,omitempty"`
}

// Handler receives the raw CBOR payload of a message and the sender's address.
type Handler func(payload cbor.RawMessage, from *net.UDPAddr)

type PubSub struct {
	rc *net.UDPConn
	wc *net.UDPConn

	mu       sync.RWMutex
	handlers map[string]Handler
}

func New(rconn *net.UDPConn, wconn *net.UDPConn) *PubSub {
	return &PubSub{
		rc:       rconn,
		wc:       wconn,
		handlers: make(map[string]Handler),
	}
}

// Join opens a reader on the multicast group and a writer sending to it.
func Join(group string) (*PubSub, error) {
	addr, err := net.ResolveUDPAddr("udp4", group)
	if err != nil {
		return nil, fmt.Errorf("resolve multicast group %s: %w", group, err)
	}

	rc, err := net.ListenMulticastUDP("udp4", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("listen on multicast group %s: %w", group, err)
	}
	rc.SetReadBuffer(maxDatagram)

	wc, err := net.DialUDP("udp4", nil, addr)
	if err != nil {
		rc.Close()
		return nil, fmt.Errorf("dial multicast group %s: %w", group, err)
	}

	return New(rc, wc), nil
}

func (ps *PubSub) Subscribe(topic string, h Handler) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if _, ok := ps.handlers[topic]; ok {
		log.Warnf("mpubsub: replacing handler for %s", topic)
	}
	ps.handlers[topic] = h
	log.Debugf("mpubsub: subscribed to %s", topic)
}

// SubscribeTo registers a handler that receives payloads decoded into T.
func SubscribeTo[T any](ps *PubSub, topic string, h func(msg *T, from *net.UDPAddr)) {
	ps.Subscribe(topic, func(payload cbor.RawMessage, from *net.UDPAddr) {
		msg := new(T)
		if err := cbor.Unmarshal(payload, msg); err != nil {
			log.Errorf("mpubsub: failed to unmarshal %s payload from %s: %v", topic, from, err)
			return
		}
		h(msg, from)
	})
}

func (ps *PubSub) Publish(topic string, msg any) error {
	payload, err := cbor.Marshal(msg)
	if err != nil {
		return err
	}

	buf, err := cbor.Marshal(envelope{Topic: topic, Payload: payload})
	if err != nil {
		return err
	}
	if len(buf) > maxDatagram {
		return fmt.Errorf("mpubsub: %s message is %d bytes, limit is %d", topic, len(buf), maxDatagram)
	}

	_, err = ps.wc.Write(buf)
	return err
}

// Listen dispatches incoming messages until ctx is cancelled. Cancelling ctx closes the reader.
func (ps *PubSub) Listen(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		ps.rc.Close()
	})
	defer stop()

	buf := make([]byte, maxDatagram)
	for {
		n, from, err := ps.rc.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			log.Errorf("mpubsub: failed to read message: %v", err)
			continue
		}

		ps.dispatch(buf[:n], from)
	}
}

func (ps *PubSub) Close() error {
	return errors.Join(ps.rc.Close(), ps.wc.Close())
}

func (ps *PubSub) dispatch(buf []byte, from *net.UDPAddr) {
	var env envelope
	if err := cbor.Unmarshal(buf, &env); err != nil {
		log.Errorf("mpubsub: failed to unmarshal message from %s: %v", from, err)
		return
	}

	ps.mu.RLock()
	h, ok := ps.handlers[env.Topic]
	ps.mu.RUnlock()
	if !ok {
		log.Debugf("mpubsub: no handler for %q", env.Topic)
		return
	}

	h(env.Payload, from)
}
