package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestNewCapturesTypeAndStack(t *testing.T) {
	err := New(ErrorTypePoolExhausted, "no capacity")

	if err.Type != ErrorTypePoolExhausted {
		t.Errorf("expected pool_exhausted, got %s", err.Type)
	}
	if len(err.Stack) == 0 {
		t.Error("expected captured stack frames")
	}
	if err.Error() != "pool_exhausted: no capacity" {
		t.Errorf("unexpected message: %s", err.Error())
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := Wrap(cause, ErrorTypeCoordination, "backend call failed")

	if !errors.Is(err, cause) {
		t.Error("wrapped error should unwrap to its cause")
	}
	if Wrap(nil, ErrorTypeInternal, "nothing") != nil {
		t.Error("wrapping nil should return nil")
	}
}

func TestIsRejection(t *testing.T) {
	if !IsRejection(New(ErrorTypeLoadShed, "shed")) {
		t.Error("load_shed should be a rejection")
	}
	if !IsRejection(New(ErrorTypeCircuitOpen, "open")) {
		t.Error("circuit_open should be a rejection")
	}
	if IsRejection(New(ErrorTypeAllocation, "oom")) {
		t.Error("allocation failure is not a rejection")
	}
	if IsRejection(fmt.Errorf("plain")) {
		t.Error("foreign errors are not rejections")
	}
}

func TestIsRetryable(t *testing.T) {
	for _, typ := range []ErrorType{ErrorTypeTimeout, ErrorTypeCoordination, ErrorTypePoolExhausted} {
		if !IsRetryable(New(typ, "transient")) {
			t.Errorf("%s should be retryable", typ)
		}
	}
	if IsRetryable(New(ErrorTypeConfig, "bad")) {
		t.Error("config errors are not retryable")
	}
}

func TestTypeOf(t *testing.T) {
	if TypeOf(New(ErrorTypeMemoryPressure, "critical")) != ErrorTypeMemoryPressure {
		t.Error("TypeOf should return the structured type")
	}
	if TypeOf(fmt.Errorf("plain")) != ErrorTypeInternal {
		t.Error("foreign errors default to internal")
	}
}

func TestWithDetail(t *testing.T) {
	err := New(ErrorTypeLoadShed, "shed").
		WithDetail("strategy", "adaptive").
		WithDetail("request_id", "r1")

	if err.Details["strategy"] != "adaptive" {
		t.Error("expected strategy detail")
	}
	if err.Details["request_id"] != "r1" {
		t.Error("expected request_id detail")
	}
}
