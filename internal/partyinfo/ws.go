package partyinfo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Ap3pp3rs94/txmanager/internal/b64"
	"github.com/Ap3pp3rs94/txmanager/internal/payload"
)

// WSPublisher publishes over a persistent websocket connection per peer,
// grounded on services/crypto-stream/main.go's dial-with-reconnect loop:
// a connection is opened lazily on first publish and reused; a failed
// write drops the stale connection so the next publish redials.
type WSPublisher struct {
	Resolver    Resolver
	DialTimeout time.Duration

	mu    sync.Mutex
	conns map[string]*websocket.Conn
}

func NewWSPublisher(resolver Resolver) *WSPublisher {
	return &WSPublisher{
		Resolver:    resolver,
		DialTimeout: 10 * time.Second,
		conns:       map[string]*websocket.Conn{},
	}
}

func (w *WSPublisher) Publish(ctx context.Context, recipient payload.PublicKey, envelope payload.EncodedPayload) error {
	addr, ok := w.Resolver.AddressFor(recipient)
	if !ok {
		return fmt.Errorf("partyinfo: no known address for recipient %s", b64.Encode(recipient))
	}
	body, err := payload.Encode(envelope)
	if err != nil {
		return fmt.Errorf("partyinfo: encode envelope: %w", err)
	}

	conn, err := w.connFor(ctx, addr)
	if err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, body); err != nil {
		w.drop(addr)
		return fmt.Errorf("partyinfo: ws write to %s: %w", addr, err)
	}
	return nil
}

func (w *WSPublisher) connFor(ctx context.Context, addr string) (*websocket.Conn, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if c, ok := w.conns[addr]; ok {
		return c, nil
	}
	dialer := websocket.Dialer{HandshakeTimeout: w.DialTimeout}
	conn, _, err := dialer.DialContext(ctx, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("partyinfo: ws dial %s: %w", addr, err)
	}
	w.conns[addr] = conn
	return conn, nil
}

func (w *WSPublisher) drop(addr string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if c, ok := w.conns[addr]; ok {
		_ = c.Close()
		delete(w.conns, addr)
	}
}

// Close tears down every held connection.
func (w *WSPublisher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for addr, c := range w.conns {
		_ = c.Close()
		delete(w.conns, addr)
	}
	return nil
}
