package builtins

import (
	"context"
	"testing"
)

func TestRegistry_CallNotFound(t *testing.T) {
	r := NewRegistry()
	_, ok := r.Call(context.Background(), "svc", "fn", CallContext{})
	if ok {
		t.Fatal("Call on empty registry returned ok=true, want false")
	}
}

func TestRegistry_ExtendAndCall(t *testing.T) {
	r := NewRegistry()
	r.Extend("svc", "echo", func(ctx context.Context, call CallContext) CallOutcome {
		return CallOutcome{Result: call.Arguments, Success: true}
	})

	out, ok := r.Call(context.Background(), "svc", "echo", CallContext{Arguments: []byte("hi")})
	if !ok {
		t.Fatal("Call() ok = false, want true")
	}
	if !out.Success || string(out.Result) != "hi" {
		t.Fatalf("got %+v, want Success=true Result=hi", out)
	}

	if _, ok := r.Call(context.Background(), "svc", "missing", CallContext{}); ok {
		t.Fatal("Call on unregistered function returned ok=true")
	}
}

func TestRegistry_RemoveSingleFunction(t *testing.T) {
	r := NewRegistry()
	r.Extend("svc", "a", func(ctx context.Context, call CallContext) CallOutcome { return CallOutcome{} })
	r.Extend("svc", "b", func(ctx context.Context, call CallContext) CallOutcome { return CallOutcome{} })

	r.Remove("svc", "a")
	if _, ok := r.Call(context.Background(), "svc", "a", CallContext{}); ok {
		t.Fatal("removed function still resolves")
	}
	if _, ok := r.Call(context.Background(), "svc", "b", CallContext{}); !ok {
		t.Fatal("unrelated function was removed too")
	}
}

func TestRegistry_RemoveWholeService(t *testing.T) {
	r := NewRegistry()
	r.Extend("svc", "a", func(ctx context.Context, call CallContext) CallOutcome { return CallOutcome{} })
	r.Extend("svc", "b", func(ctx context.Context, call CallContext) CallOutcome { return CallOutcome{} })

	r.Remove("svc", "")
	if _, ok := r.Call(context.Background(), "svc", "a", CallContext{}); ok {
		t.Fatal("service removal left function a resolvable")
	}
	if _, ok := r.Call(context.Background(), "svc", "b", CallContext{}); ok {
		t.Fatal("service removal left function b resolvable")
	}
}

func TestErrServiceNotFound_Error(t *testing.T) {
	err := &ErrServiceNotFound{ServiceID: "svc", FunctionName: "fn"}
	want := "builtins: svc.fn not found"
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}
}
