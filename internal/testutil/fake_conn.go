// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"encoding/json"
	"errors"
	"sync"

	"classhub/pkg/types"
)

// ErrFakeClosed is returned by FakeConn.Send after Close.
var ErrFakeClosed = errors.New("fake connection closed")

// ErrFakeSendFailure is returned by FakeConn.Send when FailSend is set.
var ErrFakeSendFailure = errors.New("fake send failure")

// FakeConn records frames instead of writing them to a socket.
type FakeConn struct {
	id string

	mu       sync.Mutex
	frames   [][]byte
	pings    int
	failSend bool

	done      chan struct{}
	closeOnce sync.Once
}

func NewFakeConn(id string) *FakeConn {
	return &FakeConn{id: id, done: make(chan struct{})}
}

func (f *FakeConn) ID() string { return f.id }

func (f *FakeConn) Send(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.isClosed() {
		return ErrFakeClosed
	}
	if f.failSend {
		return ErrFakeSendFailure
	}
	f.frames = append(f.frames, append([]byte(nil), frame...))
	return nil
}

func (f *FakeConn) Ping() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.isClosed() {
		return ErrFakeClosed
	}
	f.pings++
	return nil
}

func (f *FakeConn) Close() error {
	f.closeOnce.Do(func() { close(f.done) })
	return nil
}

func (f *FakeConn) Done() <-chan struct{} { return f.done }

func (f *FakeConn) isClosed() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Closed reports whether Close has been called.
func (f *FakeConn) Closed() bool { return f.isClosed() }

// FailSend makes every later Send fail.
func (f *FakeConn) FailSend(fail bool) {
	f.mu.Lock()
	f.failSend = fail
	f.mu.Unlock()
}

// Pings returns how many pings were requested.
func (f *FakeConn) Pings() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pings
}

// Envelopes decodes every recorded frame.
func (f *FakeConn) Envelopes() []types.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]types.Envelope, 0, len(f.frames))
	for _, frame := range f.frames {
		var env types.Envelope
		if err := json.Unmarshal(frame, &env); err == nil {
			out = append(out, env)
		}
	}
	return out
}

// OfKind returns the recorded envelopes of one kind.
func (f *FakeConn) OfKind(kind types.Kind) []types.Envelope {
	var out []types.Envelope
	for _, env := range f.Envelopes() {
		if env.Kind == kind {
			out = append(out, env)
		}
	}
	return out
}

// Last returns the most recent envelope of kind and whether one exists.
func (f *FakeConn) Last(kind types.Kind) (types.Envelope, bool) {
	envs := f.OfKind(kind)
	if len(envs) == 0 {
		return types.Envelope{}, false
	}
	return envs[len(envs)-1], true
}

// Reset forgets recorded frames.
func (f *FakeConn) Reset() {
	f.mu.Lock()
	f.frames = nil
	f.mu.Unlock()
}

// Payload decodes an envelope's data into a generic map.
func Payload(env types.Envelope) map[string]any {
	out := map[string]any{}
	_ = json.Unmarshal(env.Data, &out)
	return out
}
