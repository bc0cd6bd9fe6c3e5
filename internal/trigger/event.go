// Package trigger models the source-control event that starts a pipeline run.
package trigger

import (
	"fmt"
	"strings"

	"releasepipe/internal/apperrors"
	"releasepipe/internal/version"
)

// Kind identifies what happened in source control.
type Kind string

const (
	KindPush           Kind = "push"
	KindPullRequest    Kind = "pull_request"
	KindTagPush        Kind = "tag_push"
	KindManualDispatch Kind = "manual_dispatch"
)

// Kinds lists every accepted event kind.
func Kinds() []Kind {
	return []Kind{KindPush, KindPullRequest, KindTagPush, KindManualDispatch}
}

// ParseKind accepts canonical kind names and common CI spellings.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "push":
		return KindPush, nil
	case "pull_request", "pull-request", "pr":
		return KindPullRequest, nil
	case "tag_push", "tag-push", "tag":
		return KindTagPush, nil
	case "manual_dispatch", "manual-dispatch", "manual", "workflow_dispatch":
		return KindManualDispatch, nil
	default:
		return "", apperrors.Validation("event", fmt.Sprintf("unknown event kind %q (supported: push, pull_request, tag_push, manual_dispatch)", s))
	}
}

// Event is immutable once created; use New to build one.
type Event struct {
	Kind      Kind   `json:"event" yaml:"event"`
	Ref       string `json:"ref" yaml:"ref"`
	CommitSHA string `json:"sha" yaml:"sha"`
}

// New validates and returns an event.
func New(kind Kind, ref, commitSHA string) (Event, error) {
	ev := Event{Kind: kind, Ref: strings.TrimSpace(ref), CommitSHA: strings.TrimSpace(commitSHA)}
	if err := ev.Validate(); err != nil {
		return Event{}, err
	}
	return ev, nil
}

// Parse builds an event from its string form.
func Parse(kind, ref, commitSHA string) (Event, error) {
	k, err := ParseKind(kind)
	if err != nil {
		return Event{}, err
	}
	return New(k, ref, commitSHA)
}

// Validate checks the event invariants.
func (e Event) Validate() error {
	switch e.Kind {
	case KindPush, KindPullRequest, KindTagPush, KindManualDispatch:
	default:
		return apperrors.Validation("event", fmt.Sprintf("unknown event kind %q", e.Kind))
	}
	if e.Ref == "" {
		return apperrors.Validation("ref", "ref is required")
	}
	if version.Resolve(e.Ref) == "" {
		return apperrors.Validation("ref", fmt.Sprintf("ref %q does not name a branch or tag", e.Ref))
	}
	if e.CommitSHA == "" {
		return apperrors.Validation("sha", "commit sha is required")
	}
	if e.Kind == KindTagPush && !version.IsTagRef(e.Ref) {
		return apperrors.Validation("ref", fmt.Sprintf("tag push requires a refs/tags/ ref, got %q", e.Ref))
	}
	return nil
}

// ShortSHA returns the first 12 characters of the commit for log lines.
func (e Event) ShortSHA() string {
	if len(e.CommitSHA) > 12 {
		return e.CommitSHA[:12]
	}
	return e.CommitSHA
}

func (e Event) String() string {
	return fmt.Sprintf("%s %s@%s", e.Kind, e.Ref, e.ShortSHA())
}
