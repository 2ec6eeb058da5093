// Package wstransport carries datagrams over WebSocket connections, one
// binary message per packet.
package wstransport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"

	"github.com/automoto/kartsync/network/transport"
	"github.com/automoto/kartsync/shared/netconfig"
)

const (
	// Path is where the server accepts connections.
	Path = "/ws"

	sendQueue  = 256
	inboxSize  = 1024
	writeLimit = 5 * time.Second
)

type peer struct {
	ws   *websocket.Conn
	addr netip.Addr
	out  chan []byte
	done chan struct{}
	once sync.Once
	// flush asks the writer to send what is queued, then close.
	flush     chan struct{}
	flushOnce sync.Once
}

func (p *peer) stop() {
	p.once.Do(func() { close(p.done) })
}

func (p *peer) closeAfterFlush() {
	p.flushOnce.Do(func() { close(p.flush) })
}

// Transport implements transport.Dialer over WebSockets.
type Transport struct {
	mu     sync.Mutex
	peers  map[int]*peer
	inbox  chan transport.Packet
	ctx    context.Context
	cancel context.CancelFunc
	srv    *http.Server
	ln     net.Listener
	log    logrus.FieldLogger
}

var _ transport.Dialer = (*Transport)(nil)

func newTransport(log logrus.FieldLogger) *Transport {
	ctx, cancel := context.WithCancel(context.Background())
	return &Transport{
		peers:  make(map[int]*peer),
		inbox:  make(chan transport.Packet, inboxSize),
		ctx:    ctx,
		cancel: cancel,
		log:    log.WithField("component", "wstransport"),
	}
}

// NewDialer returns a client-side transport.
func NewDialer(log logrus.FieldLogger) *Transport {
	return newTransport(log)
}

// Listen accepts connections on addr.
func Listen(addr string, log logrus.FieldLogger) (*Transport, error) {
	t := newTransport(log)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("wstransport: listen: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle(Path, t.Handler())
	t.ln = ln
	t.srv = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := t.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.log.WithError(err).Error("http server stopped")
		}
	}()
	t.log.WithField("addr", ln.Addr().String()).Info("listening")
	return t, nil
}

// ListenAddr is the bound address of a listening transport.
func (t *Transport) ListenAddr() string {
	if t.ln == nil {
		return ""
	}
	return t.ln.Addr().String()
}

// Handler upgrades requests to WebSocket nodes. It can be mounted on any mux.
func (t *Transport) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			t.log.WithError(err).Warn("accept failed")
			return
		}
		var addr netip.Addr
		if ap, err := netip.ParseAddrPort(r.RemoteAddr); err == nil {
			addr = ap.Addr().Unmap()
		}
		node, err := t.add(ws, addr)
		if err != nil {
			ws.Close(websocket.StatusTryAgainLater, "server full")
			return
		}
		t.log.WithFields(logrus.Fields{"node": node, "addr": addr}).Debug("node connected")
		t.serve(node)
	})
}

func (t *Transport) add(ws *websocket.Conn, addr netip.Addr) (int, error) {
	ws.SetReadLimit(netconfig.HardPacketLength)
	t.mu.Lock()
	defer t.mu.Unlock()
	for n := 1; n < netconfig.MaxNetNodes; n++ {
		if _, used := t.peers[n]; !used {
			t.peers[n] = &peer{
				ws:    ws,
				addr:  addr,
				out:   make(chan []byte, sendQueue),
				done:  make(chan struct{}),
				flush: make(chan struct{}),
			}
			return n, nil
		}
	}
	return 0, transport.ErrNoNodes
}

// serve runs the writer in the background and reads until the connection
// ends.
func (t *Transport) serve(node int) {
	t.mu.Lock()
	p := t.peers[node]
	t.mu.Unlock()
	go t.writeLoop(p)
	defer t.drop(node, p)
	for {
		typ, data, err := p.ws.Read(t.ctx)
		if err != nil {
			return
		}
		if typ != websocket.MessageBinary {
			continue
		}
		if !t.current(node, p) {
			return
		}
		select {
		case t.inbox <- transport.Packet{Node: node, Data: data}:
		case <-p.done:
			return
		case <-t.ctx.Done():
			return
		}
	}
}

// current reports whether p still owns node.
func (t *Transport) current(node int, p *peer) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.peers[node] == p
}

func (t *Transport) writeLoop(p *peer) {
	for {
		select {
		case data := <-p.out:
			if err := t.write(p, data); err != nil {
				p.ws.Close(websocket.StatusInternalError, "write failed")
				return
			}
		case <-p.flush:
			t.flushAndClose(p)
			return
		case <-p.done:
			return
		case <-t.ctx.Done():
			return
		}
	}
}

func (t *Transport) flushAndClose(p *peer) {
	defer p.stop()
	for {
		select {
		case data := <-p.out:
			if t.write(p, data) != nil {
				p.ws.Close(websocket.StatusInternalError, "write failed")
				return
			}
		default:
			p.ws.Close(websocket.StatusNormalClosure, "")
			return
		}
	}
}

func (t *Transport) write(p *peer, data []byte) error {
	ctx, cancel := context.WithTimeout(t.ctx, writeLimit)
	defer cancel()
	return p.ws.Write(ctx, websocket.MessageBinary, data)
}

func (t *Transport) drop(node int, p *peer) {
	t.mu.Lock()
	cur, ok := t.peers[node]
	if ok && cur == p {
		delete(t.peers, node)
	}
	t.mu.Unlock()
	if !ok || cur != p {
		// Closed locally; the writer owns the shutdown.
		return
	}
	p.stop()
	p.ws.Close(websocket.StatusNormalClosure, "")
	select {
	case t.inbox <- transport.Packet{Node: node, Closed: true}:
	case <-t.ctx.Done():
	}
}

// Open dials a server. address may be host:port or a ws:// URL.
func (t *Transport) Open(ctx context.Context, address string) (int, error) {
	u := address
	if !strings.HasPrefix(u, "ws://") && !strings.HasPrefix(u, "wss://") {
		u = "ws://" + u + Path
	}
	ws, _, err := websocket.Dial(ctx, u, nil)
	if err != nil {
		return 0, fmt.Errorf("wstransport: dial %s: %w", u, err)
	}
	var addr netip.Addr
	host := strings.TrimPrefix(strings.TrimPrefix(u, "ws://"), "wss://")
	host, _, _ = strings.Cut(host, "/")
	if ap, err := netip.ParseAddrPort(host); err == nil {
		addr = ap.Addr()
	}
	node, err := t.add(ws, addr)
	if err != nil {
		ws.Close(websocket.StatusNormalClosure, "")
		return 0, err
	}
	go t.serve(node)
	return node, nil
}

func (t *Transport) Send(node int, data []byte, reliable bool) error {
	if len(data) > netconfig.HardPacketLength {
		return fmt.Errorf("%w: %d bytes", transport.ErrTooLarge, len(data))
	}
	t.mu.Lock()
	p, ok := t.peers[node]
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %d", transport.ErrUnknownNode, node)
	}
	select {
	case p.out <- append([]byte(nil), data...):
		return nil
	default:
	}
	if reliable {
		return fmt.Errorf("wstransport: node %d send queue full", node)
	}
	return nil
}

func (t *Transport) Poll() (transport.Packet, bool) {
	select {
	case p := <-t.inbox:
		return p, true
	default:
		return transport.Packet{}, false
	}
}

// CloseNode forgets node at once. Packets already queued to it are still
// written before the connection closes.
func (t *Transport) CloseNode(node int) {
	t.mu.Lock()
	p, ok := t.peers[node]
	delete(t.peers, node)
	t.mu.Unlock()
	if ok {
		p.closeAfterFlush()
	}
}

func (t *Transport) Addr(node int) (netip.Addr, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.peers[node]
	if !ok {
		return netip.Addr{}, false
	}
	return p.addr, true
}

func (t *Transport) Close() error {
	t.mu.Lock()
	peers := t.peers
	t.peers = make(map[int]*peer)
	t.mu.Unlock()
	for _, p := range peers {
		p.stop()
		p.ws.Close(websocket.StatusGoingAway, "shutdown")
	}
	t.cancel()
	if t.srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		return t.srv.Shutdown(ctx)
	}
	return nil
}
