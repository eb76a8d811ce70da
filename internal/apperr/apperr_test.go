package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindsMatchSentinels(t *testing.T) {
	cases := []struct {
		err  error
		want error
		kind Kind
	}{
		{Validation("op", "bad"), ErrValidation, KindValidation},
		{Auth("op", nil), ErrAuth, KindAuth},
		{NotFound("op", "gone"), ErrNotFound, KindNotFound},
		{Remote("op", errors.New("boom")), ErrRemote, KindRemote},
	}
	for _, tc := range cases {
		wrapped := fmt.Errorf("outer: %w", tc.err)
		if !errors.Is(wrapped, tc.want) {
			t.Fatalf("%v should match %v", tc.err, tc.want)
		}
		if KindOf(wrapped) != tc.kind {
			t.Fatalf("KindOf(%v) = %s", tc.err, KindOf(wrapped))
		}
	}
	if errors.Is(Validation("op", "bad"), ErrAuth) {
		t.Fatalf("validation must not match auth")
	}
}

func TestRemoteKeepsMessageVerbatim(t *testing.T) {
	cause := errors.New(`duplicate key value violates unique constraint "surgeons_pkey"`)
	err := Remote("records.create_surgeon", cause)
	if MessageOf(err) != cause.Error() {
		t.Fatalf("unexpected message %q", MessageOf(err))
	}
	if !errors.Is(err, cause) {
		t.Fatalf("cause must stay reachable")
	}
	if Remote("op", nil) != nil {
		t.Fatalf("nil cause should yield nil")
	}
}

func TestRemoteDoesNotRewrapTypedErrors(t *testing.T) {
	nf := NotFound("records.load_surgeon", "surgeon not found")
	if got := Remote("outer", fmt.Errorf("ctx: %w", nf)); got != nf {
		t.Fatalf("expected original error, got %v", got)
	}
}

func TestForeignErrorsDefaultToRemote(t *testing.T) {
	err := errors.New("socket closed")
	if KindOf(err) != KindRemote || MessageOf(err) != "socket closed" {
		t.Fatalf("unexpected classification %s %q", KindOf(err), MessageOf(err))
	}
}

func TestErrorString(t *testing.T) {
	if got := Validationf("media.upload", "unsupported content type %q", "text/plain").Error(); got != `media.upload: unsupported content type "text/plain"` {
		t.Fatalf("unexpected %s", got)
	}
	if got := Auth("session.current_user", errors.New("expired")).Error(); got != "session.current_user: not authenticated: expired" {
		t.Fatalf("unexpected %s", got)
	}
}
