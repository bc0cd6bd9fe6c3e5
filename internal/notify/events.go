package notify

import (
	"maps"

	"github.com/google/uuid"

	"releasepipe/internal/scheduler"
	"releasepipe/internal/stage"
	"releasepipe/internal/trigger"
	"releasepipe/pkg/cloudevent"
)

// Event types sent to the callback URL.
const (
	EventTypeRunStart       = "releasepipe.run.start"
	EventTypeInstanceFinish = "releasepipe.instance.finish"
	EventTypeCoverage       = "releasepipe.coverage"
	EventTypeRunFinish      = "releasepipe.run.finish"
)

// DefaultSource identifies this process in the CloudEvent source attribute.
const DefaultSource = "releasepipe"

// EventBuilder builds CloudEvents for one run. The run ID is the subject.
type EventBuilder struct {
	source string
	runID  string
}

// NewEventBuilder creates an EventBuilder.
func NewEventBuilder(source, runID string) *EventBuilder {
	if source == "" {
		source = DefaultSource
	}
	return &EventBuilder{source: source, runID: runID}
}

// Build creates an event of the given type; the data always carries runId.
func (b *EventBuilder) Build(eventType string, data map[string]any) *cloudevent.CloudEvent {
	payload := map[string]any{"runId": b.runID}
	maps.Copy(payload, data)
	return cloudevent.New(eventType, b.source, b.runID, uuid.NewString(), payload)
}

// RunStart describes the trigger and resolved version.
func (b *EventBuilder) RunStart(ev trigger.Event, version string) *cloudevent.CloudEvent {
	return b.Build(EventTypeRunStart, map[string]any{
		"trigger": triggerData(ev),
		"version": version,
	})
}

// InstanceFinish describes one terminal instance.
func (b *EventBuilder) InstanceFinish(r scheduler.InstanceReport) *cloudevent.CloudEvent {
	return b.Build(EventTypeInstanceFinish, instanceData(r))
}

// Coverage carries a tests instance's coverage output to the aggregator.
func (b *EventBuilder) Coverage(r stage.CoverageReport) *cloudevent.CloudEvent {
	data := map[string]any{
		"instance": r.Instance,
		"output":   string(r.Output),
	}
	if len(r.Binding) > 0 {
		data["binding"] = map[string]string(r.Binding)
	}
	return b.Build(EventTypeCoverage, data)
}

// RunFinish summarises the aggregate result.
func (b *EventBuilder) RunFinish(res *scheduler.Result) *cloudevent.CloudEvent {
	counts := map[string]int{}
	instances := make([]map[string]any, 0, len(res.Instances))
	for _, r := range res.Instances {
		counts[string(r.Status)]++
		instances = append(instances, instanceData(r))
	}
	return b.Build(EventTypeRunFinish, map[string]any{
		"trigger":         triggerData(res.Event),
		"version":         res.Version,
		"status":          string(res.Status),
		"cancelled":       res.Cancelled,
		"counts":          counts,
		"instances":       instances,
		"durationSeconds": res.Duration.Seconds(),
	})
}

func triggerData(ev trigger.Event) map[string]any {
	return map[string]any{
		"event": string(ev.Kind),
		"ref":   ev.Ref,
		"sha":   ev.CommitSHA,
	}
}

func instanceData(r scheduler.InstanceReport) map[string]any {
	data := map[string]any{
		"instance":        r.Key,
		"job":             string(r.Job),
		"status":          string(r.Status),
		"durationSeconds": r.Duration.Seconds(),
	}
	if len(r.Binding) > 0 {
		data["binding"] = map[string]string(r.Binding)
	}
	if r.Reason != "" {
		data["reason"] = r.Reason
	}
	if r.Error != "" {
		data["error"] = r.Error
		data["errorKind"] = r.ErrorKind
	}
	return data
}
