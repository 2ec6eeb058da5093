// Package transport is the datagram layer under the netcode: unordered,
// possibly lossy delivery keyed by an opaque node number.
package transport

import (
	"context"
	"errors"
	"net/netip"
)

var (
	ErrUnknownNode = errors.New("transport: unknown node")
	ErrClosed      = errors.New("transport: closed")
	ErrNoNodes     = errors.New("transport: node table full")
	ErrTooLarge    = errors.New("transport: packet too large")
)

// Packet is one inbound datagram. Closed packets carry no data and report
// that the remote end of Node went away.
type Packet struct {
	Node   int
	Data   []byte
	Closed bool
}

// Transport moves datagrams between this process and its nodes.
type Transport interface {
	// Send queues data for node. Reliable packets are retransmitted by the
	// transport until delivered; others may be dropped.
	Send(node int, data []byte, reliable bool) error
	// Poll returns the next pending packet without blocking.
	Poll() (Packet, bool)
	CloseNode(node int)
	// Addr is the remote address of node, used for bans.
	Addr(node int) (netip.Addr, bool)
	Close() error
}

// Dialer is a Transport that can open connections.
type Dialer interface {
	Transport
	Open(ctx context.Context, address string) (int, error)
}
