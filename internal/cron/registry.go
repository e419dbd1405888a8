package cron

import "context"

// Job is one unit of scheduled maintenance work. The service runs every
// registered job once per cycle, in registration order.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Registry holds the jobs a worker instance executes.
type Registry struct {
	jobs []Job
}

// NewRegistry builds a registry from the given jobs, skipping nils so
// callers can pass optionally-constructed jobs straight through.
func NewRegistry(jobs ...Job) *Registry {
	r := &Registry{}
	for _, job := range jobs {
		r.Register(job)
	}
	return r
}

// Register appends a job. Nil jobs are ignored.
func (r *Registry) Register(job Job) {
	if job != nil {
		r.jobs = append(r.jobs, job)
	}
}

// Jobs returns a copy of the registered jobs in registration order.
func (r *Registry) Jobs() []Job {
	out := make([]Job, len(r.jobs))
	copy(out, r.jobs)
	return out
}
