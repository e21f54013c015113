package requestid

import (
	"context"
	"testing"
)

func TestContextRoundTrip(t *testing.T) {
	if _, ok := FromContext(context.Background()); ok {
		t.Fatalf("expected no id on empty context")
	}
	id := New()
	if id == "" {
		t.Fatalf("New() returned empty id")
	}
	got, ok := FromContext(WithContext(context.Background(), id))
	if !ok || got != id {
		t.Fatalf("FromContext()=%q ok=%v, want %q", got, ok, id)
	}
}
