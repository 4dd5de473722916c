package model

import "time"

// Result is the terminal record of one job.
type Result struct {
	Path      string        `json:"path"`
	Name      string        `json:"name"`
	Slug      string        `json:"slug"`
	Kind      Kind          `json:"kind"`
	Lang      Lang          `json:"lang"`
	Size      Size          `json:"size"`
	Tags      []Tag         `json:"tags,omitempty"`
	Outcome   Outcome       `json:"outcome"`
	ExitCode  int           `json:"exit_code"`
	Tolerated bool          `json:"tolerated"`
	Seed      string        `json:"seed,omitempty"`
	Cloud     int           `json:"cloud"`
	Endpoint  string        `json:"endpoint,omitempty"`
	LogPath   string        `json:"log_path,omitempty"`
	StartedAt time.Time     `json:"started_at,omitzero"`
	Duration  time.Duration `json:"duration_ns"`
}

// Summary tallies the results of a run.
type Summary struct {
	Total          int `json:"total"`
	Passed         int `json:"passed"`
	Failed         int `json:"failed"`
	Skipped        int `json:"skipped"`
	DidNotComplete int `json:"did_not_complete"`
	Cancelled      int `json:"cancelled"`
	Terminated     int `json:"terminated"`
	Tolerated      int `json:"tolerated"`
}

// Record counts one terminal result.
func (s *Summary) Record(r Result) {
	s.Total++
	switch r.Outcome {
	case OutcomePassed:
		s.Passed++
	case OutcomeFailed:
		s.Failed++
	case OutcomeSkipped:
		s.Skipped++
	case OutcomeCancelled:
		s.Cancelled++
	case OutcomeTerminated:
		s.Terminated++
	default:
		s.DidNotComplete++
	}
	if r.Tolerated {
		s.Tolerated++
	}
}

// Successful reports whether every job passed or was tolerated. An empty run
// is successful.
func (s Summary) Successful() bool {
	return s.Passed+s.Tolerated == s.Total
}
