package ipc

import (
	"path/filepath"
	"testing"
)

func TestRouterRoundTrip(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "ipc.sock")
	r := NewRouter(socketPath, false)
	r.Register(HandlerFunc{
		CommandName: "echo",
		Fn: func(payload any) (any, error) {
			return payload, nil
		},
	})

	if err := r.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer r.Stop()

	resp, err := DialAndCall(socketPath, Request{Name: "echo", Payload: "hello"})
	if err != nil {
		t.Fatalf("DialAndCall() error = %v", err)
	}
	if !resp.OK {
		t.Fatalf("resp.OK = false, error = %q", resp.Error)
	}
	if resp.Payload != "hello" {
		t.Errorf("resp.Payload = %v, want %q", resp.Payload, "hello")
	}
}

func TestRouterUnknownCommand(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "ipc.sock")
	r := NewRouter(socketPath, false)
	if err := r.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer r.Stop()

	resp, err := DialAndCall(socketPath, Request{Name: "missing"})
	if err != nil {
		t.Fatalf("DialAndCall() error = %v", err)
	}
	if resp.OK {
		t.Error("resp.OK = true, want false for unknown command")
	}
	if resp.Error == "" {
		t.Error("resp.Error is empty, want a message naming the unknown command")
	}
}

func TestRouterHandlerError(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "ipc.sock")
	r := NewRouter(socketPath, false)
	r.Register(HandlerFunc{
		CommandName: "fail",
		Fn: func(any) (any, error) {
			return nil, errBoom
		},
	})
	if err := r.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer r.Stop()

	resp, err := DialAndCall(socketPath, Request{Name: "fail"})
	if err != nil {
		t.Fatalf("DialAndCall() error = %v", err)
	}
	if resp.OK {
		t.Error("resp.OK = true, want false when handler errors")
	}

	// The router must keep serving after a handler error: a second call, on
	// a fresh connection to the same socket, should still be answered.
	resp2, err := DialAndCall(socketPath, Request{Name: "fail"})
	if err != nil {
		t.Fatalf("second DialAndCall() error = %v", err)
	}
	if resp2.OK {
		t.Error("second resp.OK = true, want false")
	}
}

type boomErr struct{}

func (boomErr) Error() string { return "boom" }

var errBoom = boomErr{}
