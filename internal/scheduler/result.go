package scheduler

import (
	"time"

	"releasepipe/internal/apperrors"
	"releasepipe/internal/artifact"
	"releasepipe/internal/pipeline"
	"releasepipe/internal/trigger"
)

// InstanceReport is the externally visible outcome of one job instance.
type InstanceReport struct {
	Key        string           `json:"key" yaml:"key"`
	Job        pipeline.JobID   `json:"job" yaml:"job"`
	Binding    pipeline.Binding `json:"binding,omitempty" yaml:"binding,omitempty"`
	Status     pipeline.Status  `json:"status" yaml:"status"`
	Reason     string           `json:"reason,omitempty" yaml:"reason,omitempty"`
	Error      string           `json:"error,omitempty" yaml:"error,omitempty"`
	ErrorKind  string           `json:"errorKind,omitempty" yaml:"errorKind,omitempty"`
	Artifacts  []string         `json:"artifacts,omitempty" yaml:"artifacts,omitempty"`
	StartedAt  time.Time        `json:"startedAt,omitzero" yaml:"startedAt,omitempty"`
	FinishedAt time.Time        `json:"finishedAt,omitzero" yaml:"finishedAt,omitempty"`
	Duration   time.Duration    `json:"duration" yaml:"duration"`
}

func reportOf(inst *pipeline.Instance) InstanceReport {
	r := InstanceReport{
		Key:        inst.Key(),
		Job:        inst.Job,
		Binding:    inst.Binding,
		Status:     inst.Status,
		Reason:     inst.Reason,
		Artifacts:  inst.Artifacts,
		StartedAt:  inst.StartedAt,
		FinishedAt: inst.FinishedAt,
		Duration:   inst.Duration(),
	}
	if inst.Err != nil {
		r.Error = inst.Err.Error()
		r.ErrorKind = apperrors.Kind(inst.Err)
	}
	return r
}

// Result is the aggregate outcome of a run.
type Result struct {
	RunID      string           `json:"runId" yaml:"runId"`
	Event      trigger.Event    `json:"trigger" yaml:"trigger"`
	Version    string           `json:"version" yaml:"version"`
	Status     pipeline.Status  `json:"status" yaml:"status"`
	Cancelled  bool             `json:"cancelled,omitempty" yaml:"cancelled,omitempty"`
	Instances  []InstanceReport `json:"instances" yaml:"instances"`
	Artifacts  []artifact.Ref   `json:"artifacts,omitempty" yaml:"artifacts,omitempty"`
	StartedAt  time.Time        `json:"startedAt" yaml:"startedAt"`
	FinishedAt time.Time        `json:"finishedAt" yaml:"finishedAt"`
	Duration   time.Duration    `json:"duration" yaml:"duration"`
}

// Succeeded reports whether the run passed.
func (r *Result) Succeeded() bool {
	return r.Status == pipeline.StatusSucceeded
}

// Instance finds the report for an instance key.
func (r *Result) Instance(key string) (InstanceReport, bool) {
	for _, ir := range r.Instances {
		if ir.Key == key {
			return ir, true
		}
	}
	return InstanceReport{}, false
}

// Job returns the reports of every instance of a job.
func (r *Result) Job(id pipeline.JobID) []InstanceReport {
	var out []InstanceReport
	for _, ir := range r.Instances {
		if ir.Job == id {
			out = append(out, ir)
		}
	}
	return out
}

// aggregate is failed if any instance failed or was cancelled, succeeded
// otherwise. Skipped instances do not count either way.
func aggregate(instances []*pipeline.Instance) pipeline.Status {
	for _, inst := range instances {
		if inst.Status.IsFailure() {
			return pipeline.StatusFailed
		}
	}
	return pipeline.StatusSucceeded
}
