package resend

import (
	"context"
	"testing"

	"github.com/Ap3pp3rs94/txmanager/internal/payload"
)

func TestMemResendManagerRecordsAccepted(t *testing.T) {
	m := NewMemResendManager(2)
	env := payload.EncodedPayload{SenderKey: payload.PublicKey("alice")}

	if err := m.AcceptOwnMessage(context.Background(), []byte("raw1"), env); err != nil {
		t.Fatalf("AcceptOwnMessage: %v", err)
	}
	if err := m.AcceptOwnMessage(context.Background(), []byte("raw2"), env); err != nil {
		t.Fatalf("AcceptOwnMessage: %v", err)
	}
	if err := m.AcceptOwnMessage(context.Background(), []byte("raw3"), env); err != nil {
		t.Fatalf("AcceptOwnMessage: %v", err)
	}

	snap := m.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected bounded snapshot of 2, got %d", len(snap))
	}
	if string(snap[0].Raw) != "raw2" || string(snap[1].Raw) != "raw3" {
		t.Fatalf("expected oldest entry evicted, got %+v", snap)
	}
}
