package trainer

import "time"

// Progress is a point-in-time view of a run. It is safe to read from any
// goroutine while Run is training.
type Progress struct {
	RunID          string    `json:"run_id"`
	Status         string    `json:"status"`
	Episodes       int       `json:"episodes"`
	TargetEpisodes int       `json:"target_episodes"`
	Steps          int       `json:"steps"`
	Epsilon        float64   `json:"epsilon"`
	LastReward     *float64  `json:"last_reward"`
	ModelVersion   string    `json:"model_version"`
	Summary        Summary   `json:"summary"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Progress returns the snapshot taken at the last episode boundary.
func (t *Trainer) Progress() Progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.progress
	p.Status = t.status.String()
	return p
}

// publish refreshes the snapshot. Only the goroutine driving Run or
// Restore calls it.
func (t *Trainer) publish() {
	p := Progress{
		RunID:          t.runID,
		Episodes:       t.episodes,
		TargetEpisodes: t.cfg.Episodes,
		Steps:          t.steps,
		Epsilon:        t.epsilon,
		ModelVersion:   t.agent.Version(),
		Summary:        t.history.Summarize(),
		UpdatedAt:      time.Now().UTC(),
	}
	if n := t.history.Len(); n > 0 {
		p.LastReward = finite(t.history.Rewards[n-1])
	}
	t.mu.Lock()
	t.progress = p
	t.mu.Unlock()
}
