// Package loopback is an in-process transport for tests and local play.
// Every endpoint of a Hub can reach the others by address. Loss and stalls
// can be injected per endpoint.
package loopback

import (
	"context"
	"fmt"
	"net/netip"
	"sync"

	"github.com/automoto/kartsync/network/transport"
	"github.com/automoto/kartsync/shared/netconfig"
)

// Hub connects endpoints.
type Hub struct {
	mu        sync.Mutex
	listeners map[string]*Endpoint
}

func NewHub() *Hub {
	return &Hub{listeners: make(map[string]*Endpoint)}
}

// Listen creates an endpoint reachable at address.
func (h *Hub) Listen(address string, addr netip.Addr) *Endpoint {
	e := h.Endpoint(addr)
	h.mu.Lock()
	h.listeners[address] = e
	h.mu.Unlock()
	return e
}

// Endpoint creates an endpoint that can only dial out.
func (h *Hub) Endpoint(addr netip.Addr) *Endpoint {
	return &Endpoint{hub: h, addr: addr, links: make(map[int]*link)}
}

type link struct {
	remote     *Endpoint
	remoteNode int
}

// Endpoint is one side of the hub. It implements transport.Dialer.
type Endpoint struct {
	hub  *Hub
	addr netip.Addr

	mu      sync.Mutex
	links   map[int]*link
	inbox   []transport.Packet
	stalled bool
	drop    func(data []byte) bool
	closed  bool
	sent    int
}

var _ transport.Dialer = (*Endpoint)(nil)

// SetStalled makes the endpoint silently discard everything it sends or
// receives.
func (e *Endpoint) SetStalled(stalled bool) {
	e.mu.Lock()
	e.stalled = stalled
	e.mu.Unlock()
}

// SetLoss installs a predicate that drops matching unreliable packets
// on send. A nil predicate disables loss.
func (e *Endpoint) SetLoss(drop func(data []byte) bool) {
	e.mu.Lock()
	e.drop = drop
	e.mu.Unlock()
}

// Sent counts packets handed to Send, delivered or not.
func (e *Endpoint) Sent() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sent
}

func (e *Endpoint) Open(ctx context.Context, address string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	e.hub.mu.Lock()
	remote, ok := e.hub.listeners[address]
	e.hub.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("loopback: no listener at %q", address)
	}
	local, err := e.addLink(nil, 0)
	if err != nil {
		return 0, err
	}
	theirs, err := remote.addLink(e, local)
	if err != nil {
		e.mu.Lock()
		delete(e.links, local)
		e.mu.Unlock()
		return 0, err
	}
	e.mu.Lock()
	e.links[local] = &link{remote: remote, remoteNode: theirs}
	e.mu.Unlock()
	return local, nil
}

func (e *Endpoint) addLink(remote *Endpoint, remoteNode int) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return 0, transport.ErrClosed
	}
	for n := 1; n < netconfig.MaxNetNodes; n++ {
		if _, used := e.links[n]; !used {
			e.links[n] = &link{remote: remote, remoteNode: remoteNode}
			return n, nil
		}
	}
	return 0, transport.ErrNoNodes
}

func (e *Endpoint) Send(node int, data []byte, reliable bool) error {
	if len(data) > netconfig.HardPacketLength {
		return fmt.Errorf("%w: %d bytes", transport.ErrTooLarge, len(data))
	}
	e.mu.Lock()
	l, ok := e.links[node]
	stalled, drop := e.stalled, e.drop
	e.sent++
	e.mu.Unlock()
	if !ok || l.remote == nil {
		return fmt.Errorf("%w: %d", transport.ErrUnknownNode, node)
	}
	if stalled || (!reliable && drop != nil && drop(data)) {
		return nil
	}
	l.remote.deliver(transport.Packet{Node: l.remoteNode, Data: append([]byte(nil), data...)})
	return nil
}

func (e *Endpoint) deliver(p transport.Packet) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || (e.stalled && !p.Closed) {
		return
	}
	e.inbox = append(e.inbox, p)
}

func (e *Endpoint) Poll() (transport.Packet, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.inbox) == 0 {
		return transport.Packet{}, false
	}
	p := e.inbox[0]
	e.inbox = e.inbox[1:]
	return p, true
}

func (e *Endpoint) CloseNode(node int) {
	e.mu.Lock()
	l, ok := e.links[node]
	delete(e.links, node)
	e.mu.Unlock()
	if ok && l.remote != nil {
		l.remote.dropLink(l.remoteNode)
	}
}

func (e *Endpoint) dropLink(node int) {
	e.mu.Lock()
	_, ok := e.links[node]
	delete(e.links, node)
	e.mu.Unlock()
	if ok {
		e.deliver(transport.Packet{Node: node, Closed: true})
	}
}

func (e *Endpoint) Addr(node int) (netip.Addr, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.links[node]
	if !ok || l.remote == nil {
		return netip.Addr{}, false
	}
	return l.remote.addr, true
}

func (e *Endpoint) Close() error {
	e.mu.Lock()
	links := e.links
	e.links = make(map[int]*link)
	e.closed = true
	e.mu.Unlock()
	for _, l := range links {
		if l.remote != nil {
			l.remote.dropLink(l.remoteNode)
		}
	}
	e.hub.mu.Lock()
	for address, ep := range e.hub.listeners {
		if ep == e {
			delete(e.hub.listeners, address)
		}
	}
	e.hub.mu.Unlock()
	return nil
}
