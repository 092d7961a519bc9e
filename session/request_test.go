package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
)

func TestTrackerIDsMonotonic(t *testing.T) {
	rt := newRequestTracker()

	var last int64
	for i := 0; i < 100; i++ {
		id, _ := rt.Register()
		if id <= last {
			t.Fatalf("id %d not greater than previous %d", id, last)
		}
		last = id
	}
	if first, _ := newRequestTracker().Register(); first != 1 {
		t.Errorf("fresh tracker issued id %d, want 1", first)
	}
}

func TestTrackerResolve(t *testing.T) {
	rt := newRequestTracker()
	id, ch := rt.Register()

	resp := &Response{JSONRPC: jsonRPCVersion, ID: &id}
	if !rt.Resolve(resp) {
		t.Fatal("Resolve returned false for a pending id")
	}

	res := <-ch
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if res.Response != resp {
		t.Error("resolved with a different response")
	}

	// Second resolve of the same id must be unmatched.
	if rt.Resolve(resp) {
		t.Error("Resolve matched an already-resolved id")
	}
}

func TestTrackerUnmatched(t *testing.T) {
	rt := newRequestTracker()

	stray := int64(42)
	if rt.Resolve(&Response{ID: &stray}) {
		t.Error("Resolve matched an unknown id")
	}
	if rt.Resolve(&Response{ID: nil}) {
		t.Error("Resolve matched a nil id")
	}

	stats := rt.Stats()
	if stats.UnmatchedResponses != 1 {
		t.Errorf("unmatched count = %d, want 1", stats.UnmatchedResponses)
	}
}

func TestTrackerFailAll(t *testing.T) {
	rt := newRequestTracker()

	var chans []<-chan callResult
	for i := 0; i < 5; i++ {
		_, ch := rt.Register()
		chans = append(chans, ch)
	}

	cause := errors.New("connection lost")
	rt.FailAll(cause)
	rt.FailAll(errors.New("later reason")) // first reason wins

	for i, ch := range chans {
		res := <-ch
		if !errors.Is(res.Err, cause) {
			t.Errorf("request %d failed with %v, want %v", i, res.Err, cause)
		}
	}

	// Registration after failure resolves immediately with the first cause.
	_, ch := rt.Register()
	if res := <-ch; !errors.Is(res.Err, cause) {
		t.Errorf("post-failure registration got %v, want %v", res.Err, cause)
	}

	if pending := rt.Stats().Pending; pending != 0 {
		t.Errorf("pending = %d after FailAll, want 0", pending)
	}
}

func TestTrackerCancel(t *testing.T) {
	rt := newRequestTracker()
	id, ch := rt.Register()
	rt.Cancel(id)

	if rt.Resolve(&Response{ID: &id}) {
		t.Error("Resolve matched a cancelled id")
	}
	select {
	case res := <-ch:
		t.Errorf("cancelled request received a result: %+v", res)
	default:
	}
}

func TestTrackerConcurrentRegister(t *testing.T) {
	rt := newRequestTracker()

	const workers = 16
	const perWorker = 50

	ids := make(chan int64, workers*perWorker)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				id, _ := rt.Register()
				ids <- id
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[int64]bool)
	for id := range ids {
		if seen[id] {
			t.Fatalf("duplicate id %d", id)
		}
		seen[id] = true
	}
	if len(seen) != workers*perWorker {
		t.Errorf("issued %d ids, want %d", len(seen), workers*perWorker)
	}
}

func TestEncodeRequest(t *testing.T) {
	tests := []struct {
		name   string
		params any
		want   string
	}{
		{"nil params", nil, `{"jsonrpc":"2.0","id":7,"method":"ping"}`},
		{"raw params", json.RawMessage(`{"a":1}`), `{"jsonrpc":"2.0","id":7,"method":"ping","params":{"a":1}}`},
		{"struct params", struct {
			A int `json:"a"`
		}{1}, `{"jsonrpc":"2.0","id":7,"method":"ping","params":{"a":1}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := encodeRequest(7, "ping", tt.params)
			if err != nil {
				t.Fatalf("encodeRequest: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}

	if _, err := encodeRequest(1, "bad", func() {}); err == nil {
		t.Error("expected error for unmarshalable params")
	}
}

func TestRPCErrorMessage(t *testing.T) {
	err := &RPCError{Code: -1, Message: "authorization request declined"}
	want := fmt.Sprintf("jsonrpc error %d: %s", -1, "authorization request declined")
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
