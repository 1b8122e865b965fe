package session

import (
	"context"
	"testing"
)

func TestAnonymous_StartsEmpty(t *testing.T) {
	s := Anonymous()
	if !s.IsAnonymous() {
		t.Fatal("Anonymous() should be anonymous")
	}
	if got := s.Get("locale"); got != nil {
		t.Fatalf("fresh session Get = %v, want nil", got)
	}
}

func TestSession_SetGet(t *testing.T) {
	s := Anonymous()
	s.Set("locale", "en-US")

	if got := s.Get("locale"); got != "en-US" {
		t.Fatalf("Get(locale) = %v, want en-US", got)
	}
	if !s.IsAnonymous() {
		t.Fatal("setting values must not change anonymity")
	}
}

func TestSession_Overwrite(t *testing.T) {
	s := Anonymous()
	s.Set("k", 1)
	s.Set("k", 2)

	if got := s.Get("k"); got != 2 {
		t.Fatalf("Get(k) = %v, want 2", got)
	}
}

func TestWithContext_RoundTrip(t *testing.T) {
	s := Anonymous()
	ctx := WithContext(context.Background(), s)

	if got := FromContext(ctx); got != s {
		t.Fatal("FromContext should return the stored session")
	}
}

func TestFromContext_None(t *testing.T) {
	if got := FromContext(context.Background()); got != nil {
		t.Fatalf("FromContext on empty context = %v, want nil", got)
	}
}

func TestWithContext_DoesNotAffectParent(t *testing.T) {
	parent := context.Background()
	child := WithContext(parent, Anonymous())

	if FromContext(parent) != nil {
		t.Fatal("parent context should not carry the session")
	}
	if FromContext(child) == nil {
		t.Fatal("child context should carry the session")
	}
}
