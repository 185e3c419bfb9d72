package mocknet

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/coinbase/mpcstep-go/pkg/mpcstep"
)

// Net is a set of sequenced mailboxes shared by the endpoints created from it.
type Net struct {
	mu sync.Mutex
	q  map[queueKey]chan []byte
}

func New() *Net { return &Net{q: make(map[queueKey]chan []byte)} }

type queueKey struct {
	from mpcstep.Role
	to   mpcstep.Role
	seq  uint64
}

func (n *Net) slot(key queueKey) chan []byte {
	n.mu.Lock()
	defer n.mu.Unlock()
	ch := n.q[key]
	if ch == nil {
		ch = make(chan []byte, 1)
		n.q[key] = ch
	}
	return ch
}

func (n *Net) deliver(ctx context.Context, key queueKey, payload []byte) error {
	ch := n.slot(key)
	msg := append([]byte(nil), payload...)
	select {
	case ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *Net) await(ctx context.Context, key queueKey) ([]byte, error) {
	ch := n.slot(key)
	select {
	case msg := <-ch:
		n.mu.Lock()
		delete(n.q, key)
		n.mu.Unlock()
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Pending reports how many delivered messages have not been received yet.
func (n *Net) Pending() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, ch := range n.q {
		count += len(ch)
	}
	return count
}

// Endpoint is one role's view of the network. Send and Receive may be called
// from different goroutines; concurrent sends are serialized.
type Endpoint struct {
	net  *Net
	self mpcstep.Role
	peer mpcstep.Role

	sendMu  sync.Mutex
	sendSeq uint64
	recvMu  sync.Mutex
	recvSeq uint64
}

// Endpoint returns the endpoint of role self talking to its counterpart.
func (n *Net) Endpoint(self mpcstep.Role) *Endpoint {
	return &Endpoint{net: n, self: self, peer: self.Peer()}
}

// Pair returns connected endpoints for RoleP1 and RoleP2.
func (n *Net) Pair() (*Endpoint, *Endpoint) {
	return n.Endpoint(mpcstep.RoleP1), n.Endpoint(mpcstep.RoleP2)
}

// Role returns the role this endpoint speaks for.
func (e *Endpoint) Role() mpcstep.Role { return e.self }

func (e *Endpoint) check(other mpcstep.Role) error {
	if other == e.self {
		return errors.New("mocknet: self-addressed message")
	}
	if other != e.peer {
		return fmt.Errorf("mocknet: unknown peer %d", other)
	}
	return nil
}

func (e *Endpoint) Send(ctx context.Context, to mpcstep.Role, msg []byte) error {
	if err := e.check(to); err != nil {
		return err
	}
	e.sendMu.Lock()
	defer e.sendMu.Unlock()

	if err := e.net.deliver(ctx, queueKey{from: e.self, to: to, seq: e.sendSeq}, msg); err != nil {
		return err
	}
	e.sendSeq++
	return nil
}

func (e *Endpoint) Receive(ctx context.Context, from mpcstep.Role) ([]byte, error) {
	if err := e.check(from); err != nil {
		return nil, err
	}
	e.recvMu.Lock()
	defer e.recvMu.Unlock()

	msg, err := e.net.await(ctx, queueKey{from: from, to: e.self, seq: e.recvSeq})
	if err != nil {
		return nil, err
	}
	e.recvSeq++
	return msg, nil
}

var _ mpcstep.Transport = (*Endpoint)(nil)
