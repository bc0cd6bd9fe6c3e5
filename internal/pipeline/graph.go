package pipeline

import (
	"fmt"

	"releasepipe/internal/apperrors"
	"releasepipe/internal/trigger"
)

// Outcomes records the terminal statuses of every instance per job.
type Outcomes map[JobID][]Status

// AllSucceeded is true when the job has at least one instance and every
// instance succeeded.
func (o Outcomes) AllSucceeded(job JobID) bool {
	statuses := o[job]
	if len(statuses) == 0 {
		return false
	}
	for _, s := range statuses {
		if s != StatusSucceeded {
			return false
		}
	}
	return true
}

// PublishGate allows publishing only for push events whose tests and docker
// jobs fully succeeded.
func PublishGate(ev trigger.Event, o Outcomes) bool {
	return ev.Kind == trigger.KindPush && o.AllSucceeded(JobTests) && o.AllSucceeded(JobDocker)
}

// Graph is a validated, acyclic set of jobs.
type Graph struct {
	jobs     map[JobID]Job
	declared []JobID
	order    []JobID
}

// New validates the jobs and orders them topologically. Ties keep the
// declaration order.
func New(jobs ...Job) (*Graph, error) {
	g := &Graph{jobs: make(map[JobID]Job, len(jobs))}
	for _, j := range jobs {
		if err := j.validate(); err != nil {
			return nil, err
		}
		if _, dup := g.jobs[j.ID]; dup {
			return nil, apperrors.Validation("job.id", fmt.Sprintf("duplicate job %q", j.ID))
		}
		g.jobs[j.ID] = j
		g.declared = append(g.declared, j.ID)
	}

	indegree := make(map[JobID]int, len(jobs))
	for _, id := range g.declared {
		seen := make(map[JobID]bool)
		for _, dep := range g.jobs[id].DependsOn {
			if _, ok := g.jobs[dep]; !ok {
				return nil, apperrors.Validation(fmt.Sprintf("%s.depends_on", id), fmt.Sprintf("job %s depends on unknown job %q", id, dep))
			}
			if dep == id {
				return nil, apperrors.Validation(fmt.Sprintf("%s.depends_on", id), fmt.Sprintf("job %s depends on itself", id))
			}
			if seen[dep] {
				return nil, apperrors.Validation(fmt.Sprintf("%s.depends_on", id), fmt.Sprintf("job %s lists %q twice", id, dep))
			}
			seen[dep] = true
			indegree[id]++
		}
	}

	placed := make(map[JobID]bool, len(jobs))
	for len(g.order) < len(g.declared) {
		progressed := false
		for _, id := range g.declared {
			if placed[id] || indegree[id] > 0 {
				continue
			}
			placed[id] = true
			g.order = append(g.order, id)
			progressed = true
			for _, dependent := range g.Dependents(id) {
				indegree[dependent]--
			}
		}
		if !progressed {
			return nil, apperrors.Validation("depends_on", "job graph contains a cycle")
		}
	}
	return g, nil
}

// Release builds the fixed release topology: a tests matrix over the given
// database versions, docs and docker in parallel, and a gated publish.
func Release(databaseVersions []string) (*Graph, error) {
	return New(
		Job{ID: JobTests, Matrix: []Axis{{Name: AxisDatabaseVersion, Values: databaseVersions}}},
		Job{ID: JobDocs},
		Job{ID: JobDocker},
		Job{ID: JobPublish, DependsOn: []JobID{JobTests, JobDocker}, Gate: PublishGate},
	)
}

// Order returns job IDs in topological order.
func (g *Graph) Order() []JobID {
	return append([]JobID(nil), g.order...)
}

// Job looks up a job by ID.
func (g *Graph) Job(id JobID) (Job, bool) {
	j, ok := g.jobs[id]
	return j, ok
}

// Dependents returns the jobs that directly depend on id, in declaration order.
func (g *Graph) Dependents(id JobID) []JobID {
	var out []JobID
	for _, candidate := range g.declared {
		if contains(g.jobs[candidate].DependsOn, id) {
			out = append(out, candidate)
		}
	}
	return out
}

// Instances expands every job into pending instances, in topological order.
func (g *Graph) Instances() []*Instance {
	var out []*Instance
	for _, id := range g.order {
		for _, b := range g.jobs[id].Expand() {
			out = append(out, NewInstance(id, b))
		}
	}
	return out
}

func contains(ids []JobID, id JobID) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
