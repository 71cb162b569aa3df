package xstream

import "testing"

func TestRegisterMonotonicLattice(t *testing.T) {
	var r Register
	if got := r.Load(); got != StateOpen {
		t.Fatalf("fresh register: got %v, want Open", got)
	}

	if got := r.CloseLocal(); got != StateLocalClosed {
		t.Fatalf("after CloseLocal: got %v, want LocalClosed", got)
	}
	if got := r.CloseRemote(); got != StateFullyClosed {
		t.Fatalf("after CloseLocal+CloseRemote: got %v, want FullyClosed", got)
	}
}

func TestRegisterErrorAbsorbing(t *testing.T) {
	var r Register
	r.CloseLocal()
	r.CloseRemote()
	if got := r.SetError(); got != StateError {
		t.Fatalf("after FullyClosed+SetError: got %v, want Error", got)
	}
	// further transitions never move the state away from Error.
	r.CloseLocal()
	if got := r.Load(); got != StateError {
		t.Fatalf("Error did not absorb a later CloseLocal: got %v", got)
	}
}

func TestRegisterOppositeOrder(t *testing.T) {
	var r Register
	r.CloseRemote()
	if got := r.Load(); got != StateRemoteClosed {
		t.Fatalf("got %v, want RemoteClosed", got)
	}
	if got := r.CloseLocal(); got != StateFullyClosed {
		t.Fatalf("got %v, want FullyClosed regardless of call order", got)
	}
}

func TestCanReadWritePerState(t *testing.T) {
	var r Register
	if !r.CanReadMain() || !r.CanWriteMain() {
		t.Fatalf("Open state should permit both read and write")
	}
	r.CloseLocal()
	if r.CanWriteMain() {
		t.Fatalf("LocalClosed should forbid further main writes")
	}
	if !r.CanReadMain() {
		t.Fatalf("LocalClosed should still permit main reads")
	}
}

func TestCanWriteErrorInboundOnly(t *testing.T) {
	var r Register
	if r.CanWriteError(Outbound) {
		t.Fatalf("Outbound must never be permitted to write the error substream")
	}
	if !r.CanWriteError(Inbound) {
		t.Fatalf("Inbound should be permitted to write the error substream while Open")
	}
}
