package orchestrator

import (
	"time"

	"github.com/h2oai/h2o-3-sub001/internal/cloud"
	"github.com/h2oai/h2o-3-sub001/internal/model"
)

// CloudStatus describes one cloud at an observation point.
type CloudStatus struct {
	Index    int         `json:"index"`
	Name     string      `json:"name"`
	Endpoint string      `json:"endpoint"`
	State    cloud.State `json:"state"`
	Pool     Pool        `json:"pool"`
	Job      string      `json:"job,omitempty"`
}

// RunningJob describes a job occupying a cloud.
type RunningJob struct {
	Path      string    `json:"path"`
	Cloud     int       `json:"cloud"`
	Endpoint  string    `json:"endpoint"`
	StartedAt time.Time `json:"started_at"`
}

// Status is a consistent view of the run for the status server.
type Status struct {
	RunID   string        `json:"run_id"`
	Phase   Phase         `json:"phase"`
	Queued  int           `json:"queued"`
	Running []RunningJob  `json:"running"`
	Clouds  []CloudStatus `json:"clouds"`
	Summary model.Summary `json:"summary"`
	Error   string        `json:"error,omitempty"`
}

// Snapshot returns the current status. It is safe to call from any goroutine.
func (o *Orchestrator) Snapshot() Status {
	o.mu.Lock()
	defer o.mu.Unlock()

	st := Status{
		RunID:   o.cfg.RunID,
		Phase:   o.phase,
		Queued:  len(o.queue),
		Running: []RunningJob{},
		Clouds:  make([]CloudStatus, 0, len(o.clouds)),
		Summary: o.summary,
	}
	if o.runErr != nil {
		st.Error = o.runErr.Error()
	}
	for idx := range o.clouds {
		st.Clouds = append(st.Clouds, o.cloudStatusLocked(idx))
		if j, ok := o.running[idx]; ok {
			st.Running = append(st.Running, RunningJob{
				Path:      j.Path(),
				Cloud:     idx,
				Endpoint:  j.Endpoint(),
				StartedAt: j.StartedAt(),
			})
		}
	}
	return st
}

func (o *Orchestrator) cloudStatus(idx int) CloudStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cloudStatusLocked(idx)
}

func (o *Orchestrator) cloudStatusLocked(idx int) CloudStatus {
	c := o.clouds[idx]
	cs := CloudStatus{
		Index:    idx,
		Name:     c.Name(),
		Endpoint: c.Endpoint(),
		State:    c.State(),
		Pool:     o.pools[idx],
	}
	if j, ok := o.running[idx]; ok {
		cs.Job = j.Path()
	}
	return cs
}
