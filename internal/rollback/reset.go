package rollback

import (
	"fmt"
	"time"

	"github.com/danshapiro/wayfinder/internal/env"
)

// EnvironmentReset restores the environment to the state captured before
// the run started. It is the recovery of last resort when no checkpoint
// can serve a rollback.
type EnvironmentReset struct {
	env     env.Environment
	initial *EnvState
}

func NewEnvironmentReset(e env.Environment) *EnvironmentReset {
	return &EnvironmentReset{env: e}
}

// SaveInitialState captures the pre-run state. Calling it again overwrites
// the previous capture.
func (r *EnvironmentReset) SaveInitialState() {
	s := CaptureEnvState(r.env)
	r.initial = &s
}

// ResetToInitial replays the pre-run state. It is a no-op when no initial
// state was saved.
func (r *EnvironmentReset) ResetToInitial() error {
	if r.initial == nil {
		return nil
	}
	if err := RestoreEnvState(r.env, *r.initial); err != nil {
		return fmt.Errorf("reset to initial: %w", err)
	}
	return nil
}

// ResetPage reloads the current page in place.
func (r *EnvironmentReset) ResetPage() error {
	return r.env.Refresh()
}

// CloseAllPopups sends Escape a few times with short settles in between.
func (r *EnvironmentReset) CloseAllPopups() {
	for i := 0; i < 3; i++ {
		if err := r.env.PressKey("Escape"); err != nil {
			return
		}
		r.env.Wait(500 * time.Millisecond)
	}
}
