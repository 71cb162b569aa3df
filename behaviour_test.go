package xstream

import (
	"context"
	"io"
	"testing"
	"time"
)

func newAdapterPair(t *testing.T, cfg Config) (a, b *Adapter) {
	t.Helper()
	sa, sb := NewPipeSessionPair()
	a = NewAdapter(cfg, sa, "b", "conn-1")
	b = NewAdapter(cfg, sb, "a", "conn-1")
	a.Start()
	b.Start()
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return a, b
}

func TestAdapterOpenAndAcceptAutoApprove(t *testing.T) {
	a, b := newAdapterPair(t, DefaultConfig())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	opened, err := a.Open(ctx)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	var accepted *XStream
	select {
	case accepted = <-b.Incoming():
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for inbound XStream")
	}

	if accepted.ID() != opened.ID() {
		t.Fatalf("id mismatch: opener %v, acceptor %v", opened.ID(), accepted.ID())
	}
	if accepted.Direction() != Inbound {
		t.Fatalf("expected Inbound on the accepting side, got %v", accepted.Direction())
	}
	if opened.Direction() != Outbound {
		t.Fatalf("expected Outbound on the opening side, got %v", opened.Direction())
	}

	go func() {
		opened.WriteAll([]byte("ping"))
		opened.WriteEOF()
	}()
	got, err := accepted.ReadToEnd()
	if err != nil {
		t.Fatalf("ReadToEnd: %v", err)
	}
	if string(got) != "ping" {
		t.Fatalf("got %q, want %q", got, "ping")
	}
}

func TestAdapterApproveViaEvent(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InboundPolicy = ApproveViaEvent
	a, b := newAdapterPair(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := a.Open(ctx); err != nil {
		t.Fatalf("Open: %v", err)
	}

	select {
	case req := <-b.UpgradeRequests():
		req.Approve()
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for InboundUpgradeRequest")
	}

	select {
	case <-b.Incoming():
	case <-time.After(time.Second):
		t.Fatalf("approved stream never surfaced on Incoming")
	}
}

func TestAdapterApproveViaEventRejectClosesBothSubstreams(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InboundPolicy = ApproveViaEvent
	a, b := newAdapterPair(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	opened, err := a.Open(ctx)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	select {
	case req := <-b.UpgradeRequests():
		req.Reject([]byte("nope"))
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for InboundUpgradeRequest")
	}

	select {
	case <-b.Incoming():
		t.Fatalf("a rejected pair should never surface on Incoming")
	case <-time.After(100 * time.Millisecond):
	}

	buf := make([]byte, 8)
	if _, err := opened.Read(buf); err == nil {
		t.Fatalf("expected the opener to observe the rejection as an error or EOF")
	}
}

func TestAdapterDiagnosticsSnapshot(t *testing.T) {
	a, b := newAdapterPair(t, DefaultConfig())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	opened, err := a.Open(ctx)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	accepted := <-b.Incoming()

	snaps := a.Streams()
	if len(snaps) != 1 || snaps[0].ID != opened.ID() {
		t.Fatalf("expected one tracked stream matching %v, got %v", opened.ID(), snaps)
	}

	// The opener's Close waits for the error substream's EOF, which the
	// accepting side's Close delivers.
	accepted.Close()
	opened.Close()
	select {
	case sc := <-a.Closed():
		if sc.ID != opened.ID() {
			t.Fatalf("closed notification id mismatch: %v", sc.ID)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for close notification")
	}
}

func TestAdapterSameRoleAttackIsSurfacedAsPairingFailure(t *testing.T) {
	sa, sb := NewPipeSessionPair()
	a := NewAdapter(DefaultConfig(), sa, "b", "conn-1")
	b := NewAdapter(DefaultConfig(), sb, "a", "conn-1")
	a.Start()
	b.Start()
	defer a.Close()
	defer b.Close()

	id := NewXStreamID()
	ctx := context.Background()

	s1, err := sa.OpenStream(ctx)
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	if err := WriteHeader(s1, id, RoleMain); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
	s2, err := sa.OpenStream(ctx)
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	if err := WriteHeader(s2, id, RoleMain); err != nil { // same role: attack
		t.Fatalf("WriteHeader: %v", err)
	}

	select {
	case f := <-b.PairingFailures():
		if f.Kind != PairingSameRole {
			t.Fatalf("expected PairingSameRole, got %v", f.Kind)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for PairingFailure")
	}
}

var _ io.Reader = (*XStream)(nil)
var _ io.Writer = (*XStream)(nil)
