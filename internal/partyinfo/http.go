package partyinfo

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Ap3pp3rs94/txmanager/internal/b64"
	"github.com/Ap3pp3rs94/txmanager/internal/payload"
)

// HTTPPublisher posts the encoded envelope to the peer's resolved
// address, grounded on services/control-plane/aggregator/main.go's POST
// pattern (net/http client, binary payload.Encode body sent as
// application/octet-stream, bounded timeout, drain+close the response
// body).
type HTTPPublisher struct {
	Client   *http.Client
	Resolver Resolver
	// PathSuffix is appended to the resolved base address, default
	// "/partyinfo/push".
	PathSuffix string
}

func NewHTTPPublisher(resolver Resolver) *HTTPPublisher {
	return &HTTPPublisher{
		Client:     &http.Client{Timeout: 10 * time.Second},
		Resolver:   resolver,
		PathSuffix: "/partyinfo/push",
	}
}

func (h *HTTPPublisher) Publish(ctx context.Context, recipient payload.PublicKey, envelope payload.EncodedPayload) error {
	addr, ok := h.Resolver.AddressFor(recipient)
	if !ok {
		return fmt.Errorf("partyinfo: no known address for recipient %s", b64.Encode(recipient))
	}
	body, err := payload.Encode(envelope)
	if err != nil {
		return fmt.Errorf("partyinfo: encode envelope: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, addr+h.PathSuffix, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("partyinfo: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := h.Client.Do(req)
	if err != nil {
		return fmt.Errorf("partyinfo: publish to %s: %w", addr, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("partyinfo: peer %s responded %d", addr, resp.StatusCode)
	}
	return nil
}
