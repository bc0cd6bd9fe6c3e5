// Package pipeline declares the release job graph: jobs, their dependencies,
// matrix expansion, instance statuses and gating predicates.
package pipeline

import (
	"fmt"
	"sort"
	"strings"

	"releasepipe/internal/apperrors"
	"releasepipe/internal/trigger"
)

// JobID names a job in the graph.
type JobID string

const (
	JobTests   JobID = "tests"
	JobDocs    JobID = "docs"
	JobDocker  JobID = "docker"
	JobPublish JobID = "publish"
)

// AxisDatabaseVersion is the matrix axis of the tests job.
const AxisDatabaseVersion = "database_version"

// Axis is one matrix dimension. Values keep their declared order.
type Axis struct {
	Name   string
	Values []string
}

// Binding assigns one value to each matrix axis of a job.
type Binding map[string]string

// Key renders the binding deterministically, e.g. "database_version=10".
func (b Binding) Key() string {
	if len(b) == 0 {
		return ""
	}
	names := make([]string, 0, len(b))
	for name := range b {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = name + "=" + b[name]
	}
	return strings.Join(parts, ",")
}

// Clone returns an independent copy.
func (b Binding) Clone() Binding {
	out := make(Binding, len(b))
	for k, v := range b {
		out[k] = v
	}
	return out
}

// Gate decides whether a job whose dependencies all succeeded may run.
type Gate func(ev trigger.Event, outcomes Outcomes) bool

// Job is a static job declaration.
type Job struct {
	ID        JobID
	DependsOn []JobID
	Matrix    []Axis
	Gate      Gate
}

// Expand returns the Cartesian product of the job's axes. The first axis
// varies slowest. A job without axes expands to a single empty binding.
func (j Job) Expand() []Binding {
	out := []Binding{{}}
	for _, axis := range j.Matrix {
		next := make([]Binding, 0, len(out)*len(axis.Values))
		for _, partial := range out {
			for _, v := range axis.Values {
				b := partial.Clone()
				b[axis.Name] = v
				next = append(next, b)
			}
		}
		out = next
	}
	return out
}

func (j Job) validate() error {
	if j.ID == "" {
		return apperrors.Validation("job.id", "job id is required")
	}
	seen := make(map[string]bool, len(j.Matrix))
	for _, axis := range j.Matrix {
		field := fmt.Sprintf("%s.matrix", j.ID)
		if axis.Name == "" {
			return apperrors.Validation(field, fmt.Sprintf("job %s: matrix axis name is required", j.ID))
		}
		if seen[axis.Name] {
			return apperrors.Validation(field, fmt.Sprintf("job %s: duplicate matrix axis %q", j.ID, axis.Name))
		}
		seen[axis.Name] = true
		if len(axis.Values) == 0 {
			return apperrors.Validation(field, fmt.Sprintf("job %s: matrix axis %q has no values", j.ID, axis.Name))
		}
		values := make(map[string]bool, len(axis.Values))
		for _, v := range axis.Values {
			if values[v] {
				return apperrors.Validation(field, fmt.Sprintf("job %s: duplicate value %q on axis %q", j.ID, v, axis.Name))
			}
			values[v] = true
		}
	}
	return nil
}
