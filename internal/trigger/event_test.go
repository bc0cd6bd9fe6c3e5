package trigger

import (
	"errors"
	"strings"
	"testing"

	"releasepipe/internal/apperrors"
)

func TestParseKind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    Kind
		wantErr bool
	}{
		{"push", KindPush, false},
		{"PUSH", KindPush, false},
		{"pull_request", KindPullRequest, false},
		{"pr", KindPullRequest, false},
		{"tag", KindTagPush, false},
		{"tag_push", KindTagPush, false},
		{"workflow_dispatch", KindManualDispatch, false},
		{"manual_dispatch", KindManualDispatch, false},
		{"schedule", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := ParseKind(tt.in)
			if tt.wantErr {
				if !errors.Is(err, apperrors.ErrValidation) {
					t.Errorf("Expected validation error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseKind(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNew(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		kind    Kind
		ref     string
		sha     string
		wantErr string
	}{
		{"push branch", KindPush, "refs/heads/main", "abc123", ""},
		{"push tag", KindPush, "refs/tags/v2.1.0", "abc123", ""},
		{"tag push", KindTagPush, "refs/tags/v1.0.0", "abc123", ""},
		{"tag push with branch ref", KindTagPush, "refs/heads/main", "abc123", "tag push requires"},
		{"missing ref", KindPush, "  ", "abc123", "ref is required"},
		{"branch ref without name", KindPush, "refs/heads/", "abc123", "does not name a branch or tag"},
		{"tag ref with bare v", KindTagPush, "refs/tags/v", "abc123", "does not name a branch or tag"},
		{"missing sha", KindPullRequest, "refs/pull/1/merge", "", "commit sha is required"},
		{"unknown kind", Kind("schedule"), "refs/heads/main", "abc123", "unknown event kind"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ev, err := New(tt.kind, tt.ref, tt.sha)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Unexpected error: %v", err)
				}
				if ev.Kind != tt.kind || ev.Ref != tt.ref {
					t.Errorf("Unexpected event %+v", ev)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestEvent_ShortSHA(t *testing.T) {
	t.Parallel()

	ev := Event{Kind: KindPush, Ref: "refs/heads/main", CommitSHA: "0123456789abcdef0123"}
	if got := ev.ShortSHA(); got != "0123456789ab" {
		t.Errorf("ShortSHA() = %q", got)
	}
	if got := ev.String(); got != "push refs/heads/main@0123456789ab" {
		t.Errorf("String() = %q", got)
	}
}
