package fsm

import (
	"errors"
	"testing"
	"time"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func dialGen(t *testing.T, effects []Effect) uint64 {
	t.Helper()
	for _, e := range effects {
		if d, ok := e.(Dial); ok {
			return d.Gen
		}
	}
	t.Fatalf("effects=%v, want a Dial", effects)
	return 0
}

func hasEffect[T Effect](effects []Effect) bool {
	for _, e := range effects {
		if _, ok := e.(T); ok {
			return true
		}
	}
	return false
}

func TestMachineDefault(t *testing.T) {
	m := New(Config{})
	if got := m.State().Phase; got != PhaseConnecting {
		t.Fatalf("phase=%s, want %s", got, PhaseConnecting)
	}
	if m.cfg.ReconnectDelay != DefaultReconnectDelay || m.cfg.MaxReconnectAttempts != DefaultMaxReconnectAttempts {
		t.Fatalf("cfg=%+v, want defaults", m.cfg)
	}
}

func TestMachineOpenRequestsStatus(t *testing.T) {
	m := New(Config{})
	gen := dialGen(t, m.Start())
	effects := m.Handle(ConnectionOpened{Gen: gen}, epoch)
	if !hasEffect[RequestStatus](effects) {
		t.Fatalf("effects=%v, want RequestStatus", effects)
	}
	if got := m.State(); got.Phase != PhaseOpen || got.Attempt != 0 {
		t.Fatalf("state=%+v, want open/0", got)
	}
}

func TestMachineCloseSchedulesRetry(t *testing.T) {
	m := New(Config{ReconnectDelay: 3 * time.Second, MaxReconnectAttempts: 10})
	gen := dialGen(t, m.Start())
	m.Handle(ConnectionOpened{Gen: gen}, epoch)

	effects := m.Handle(ConnectionClosed{Gen: gen}, epoch)
	var retry ScheduleRetry
	found := false
	for _, e := range effects {
		if r, ok := e.(ScheduleRetry); ok {
			retry, found = r, true
		}
	}
	if !found || retry.Delay != 3*time.Second || retry.Gen != gen {
		t.Fatalf("effects=%v, want ScheduleRetry{gen,3s}", effects)
	}
	st := m.State()
	if st.Phase != PhaseReconnecting || st.Attempt != 1 {
		t.Fatalf("state=%+v, want reconnecting/1", st)
	}
	if !st.NextRetryAt.Equal(epoch.Add(3 * time.Second)) {
		t.Fatalf("next_retry_at=%v, want %v", st.NextRetryAt, epoch.Add(3*time.Second))
	}

	next := dialGen(t, m.Handle(RetryElapsed{Gen: gen}, epoch.Add(3*time.Second)))
	if next != gen+1 {
		t.Fatalf("gen=%d, want %d", next, gen+1)
	}
	if got := m.State().Phase; got != PhaseConnecting {
		t.Fatalf("phase=%s, want connecting", got)
	}
}

func TestMachineExhaustsAfterMaxAttempts(t *testing.T) {
	const maxAttempts = 3
	m := New(Config{ReconnectDelay: time.Millisecond, MaxReconnectAttempts: maxAttempts})
	gen := dialGen(t, m.Start())
	cause := errors.New("refused")

	for attempt := 1; attempt < maxAttempts; attempt++ {
		m.Handle(ConnectionClosed{Gen: gen, Err: cause}, epoch)
		if got := m.State(); got.Phase != PhaseReconnecting || got.Attempt != attempt {
			t.Fatalf("state=%+v, want reconnecting/%d", got, attempt)
		}
		gen = dialGen(t, m.Handle(RetryElapsed{Gen: gen}, epoch))
	}

	effects := m.Handle(ConnectionClosed{Gen: gen, Err: cause}, epoch)
	var terminal Terminal
	found := false
	for _, e := range effects {
		if tm, ok := e.(Terminal); ok {
			terminal, found = tm, true
		}
	}
	if !found || !errors.Is(terminal.Err, ErrAttemptsExhausted) || !errors.Is(terminal.Err, cause) {
		t.Fatalf("effects=%v, want Terminal wrapping exhaustion and cause", effects)
	}
	if got := m.State(); got.Phase != PhaseClosed || got.Attempt != maxAttempts {
		t.Fatalf("state=%+v, want closed/%d", got, maxAttempts)
	}
	if effects := m.Handle(RetryElapsed{Gen: gen}, epoch); len(effects) != 0 {
		t.Fatalf("closed machine effects=%v, want none", effects)
	}
}

func TestMachineManualReconnectResets(t *testing.T) {
	m := New(Config{MaxReconnectAttempts: 5})
	gen := dialGen(t, m.Start())
	m.Handle(ConnectionClosed{Gen: gen}, epoch)
	m.Handle(RetryElapsed{Gen: gen}, epoch)
	gen = m.State().Gen
	m.Handle(ConnectionClosed{Gen: gen}, epoch)

	effects := m.Handle(ManualReconnect{}, epoch)
	if len(effects) != 3 {
		t.Fatalf("effects=%v, want CancelRetry, CloseConn, Dial", effects)
	}
	if _, ok := effects[0].(CancelRetry); !ok {
		t.Fatalf("effects[0]=%T, want CancelRetry", effects[0])
	}
	if _, ok := effects[1].(CloseConn); !ok {
		t.Fatalf("effects[1]=%T, want CloseConn", effects[1])
	}
	if _, ok := effects[2].(Dial); !ok {
		t.Fatalf("effects[2]=%T, want Dial", effects[2])
	}
	if got := m.State(); got.Phase != PhaseConnecting || got.Attempt != 0 {
		t.Fatalf("state=%+v, want connecting/0", got)
	}
}

func TestMachineManualReconnectFromClosed(t *testing.T) {
	m := New(Config{MaxReconnectAttempts: 1})
	gen := dialGen(t, m.Start())
	m.Handle(ConnectionClosed{Gen: gen}, epoch)
	if got := m.State().Phase; got != PhaseClosed {
		t.Fatalf("phase=%s, want closed", got)
	}
	dialGen(t, m.Handle(ManualReconnect{}, epoch))
	if got := m.State().Phase; got != PhaseConnecting {
		t.Fatalf("phase=%s, want connecting", got)
	}
}

func TestMachineIgnoresStaleGenerations(t *testing.T) {
	m := New(Config{})
	old := dialGen(t, m.Start())
	m.Handle(ManualReconnect{}, epoch)

	if effects := m.Handle(ConnectionOpened{Gen: old}, epoch); len(effects) != 0 {
		t.Fatalf("stale open effects=%v, want none", effects)
	}
	if effects := m.Handle(ConnectionClosed{Gen: old}, epoch); len(effects) != 0 {
		t.Fatalf("stale close effects=%v, want none", effects)
	}
	if effects := m.Handle(RetryElapsed{Gen: old}, epoch); len(effects) != 0 {
		t.Fatalf("stale retry effects=%v, want none", effects)
	}
	if got := m.State(); got.Phase != PhaseConnecting || got.Attempt != 0 {
		t.Fatalf("state=%+v, want connecting/0", got)
	}
}

func TestMachineShutdownIsFinal(t *testing.T) {
	m := New(Config{})
	gen := dialGen(t, m.Start())
	effects := m.Handle(Shutdown{}, epoch)
	if !hasEffect[CancelRetry](effects) || !hasEffect[CloseConn](effects) {
		t.Fatalf("effects=%v, want CancelRetry and CloseConn", effects)
	}
	if effects := m.Handle(ManualReconnect{}, epoch); len(effects) != 0 {
		t.Fatalf("effects after shutdown=%v, want none", effects)
	}
	if effects := m.Handle(ConnectionOpened{Gen: gen}, epoch); len(effects) != 0 {
		t.Fatalf("effects after shutdown=%v, want none", effects)
	}
	if got := m.State().Phase; got != PhaseClosed {
		t.Fatalf("phase=%s, want closed", got)
	}
}
