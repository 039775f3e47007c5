// Package rollback keeps a bounded trail of execution checkpoints and
// restores the run to an earlier node when a repair needs to rewind.
package rollback

import (
	"errors"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/danshapiro/wayfinder/internal/env"
)

// ErrCheckpointNotFound reports a rollback target that has no surviving
// checkpoint, typically because the bounded window evicted it.
var ErrCheckpointNotFound = errors.New("checkpoint not found")

// Checkpoint freezes the run at the moment a node verified successfully.
// Snapshot and EnvState are deep copies: later execution cannot reach back
// and mutate them.
type Checkpoint struct {
	NodeID    string
	Step      int
	Snapshot  env.State
	EnvState  EnvState
	Timestamp time.Time
}

// EnvState is the restorable browser-side state.
type EnvState struct {
	URL          string            `msgpack:"url"`
	Cookies      []env.Cookie      `msgpack:"cookies"`
	LocalStorage map[string]string `msgpack:"local_storage"`
}

// Rollback is one audit entry in the manager's history.
type Rollback struct {
	FromStep   int    `json:"from_step"`
	ToStep     int    `json:"to_step"`
	TargetNode string `json:"target_node,omitempty"`
	StepsBack  int    `json:"steps_back,omitempty"`
}

// Manager holds at most capacity checkpoints, evicting the oldest first.
// It is owned by a single execution and is not safe for concurrent use.
type Manager struct {
	capacity    int
	checkpoints []Checkpoint
	history     []Rollback
}

const DefaultCapacity = 10

func NewManager(capacity int) *Manager {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Manager{capacity: capacity}
}

func (m *Manager) Capacity() int { return m.capacity }
func (m *Manager) Len() int      { return len(m.checkpoints) }

// SaveCheckpoint appends a deep-copied checkpoint, evicting the oldest one
// when the window is full.
func (m *Manager) SaveCheckpoint(nodeID string, step int, snapshot env.State, envState EnvState) error {
	snapCopy, err := deepCopyState(snapshot)
	if err != nil {
		return fmt.Errorf("snapshot checkpoint %s: %w", nodeID, err)
	}
	envCopy, err := deepCopyEnvState(envState)
	if err != nil {
		return fmt.Errorf("snapshot checkpoint %s: %w", nodeID, err)
	}
	m.checkpoints = append(m.checkpoints, Checkpoint{
		NodeID:    nodeID,
		Step:      step,
		Snapshot:  snapCopy,
		EnvState:  envCopy,
		Timestamp: time.Now(),
	})
	if len(m.checkpoints) > m.capacity {
		m.checkpoints = m.checkpoints[1:]
	}
	return nil
}

// RollbackToNode rewinds to the newest checkpoint for nodeID, discarding
// everything after it. The matched checkpoint itself survives so the same
// target can be rolled back to again.
func (m *Manager) RollbackToNode(nodeID string) (Checkpoint, error) {
	for i := len(m.checkpoints) - 1; i >= 0; i-- {
		cp := m.checkpoints[i]
		if cp.NodeID != nodeID {
			continue
		}
		m.history = append(m.history, Rollback{
			FromStep:   m.checkpoints[len(m.checkpoints)-1].Step,
			ToStep:     cp.Step,
			TargetNode: nodeID,
		})
		m.checkpoints = m.checkpoints[:i+1]
		return cp, nil
	}
	return Checkpoint{}, fmt.Errorf("rollback to %s: %w", nodeID, ErrCheckpointNotFound)
}

// RollbackSteps rewinds n checkpoints, clamping at the oldest one.
func (m *Manager) RollbackSteps(n int) (Checkpoint, error) {
	if len(m.checkpoints) == 0 || n <= 0 {
		return Checkpoint{}, fmt.Errorf("rollback %d steps: %w", n, ErrCheckpointNotFound)
	}
	target := len(m.checkpoints) - n - 1
	if target < 0 {
		target = 0
	}
	cp := m.checkpoints[target]
	m.history = append(m.history, Rollback{
		FromStep:  m.checkpoints[len(m.checkpoints)-1].Step,
		ToStep:    cp.Step,
		StepsBack: n,
	})
	m.checkpoints = m.checkpoints[:target+1]
	return cp, nil
}

// Latest returns the newest checkpoint without consuming it.
func (m *Manager) Latest() (Checkpoint, bool) {
	if len(m.checkpoints) == 0 {
		return Checkpoint{}, false
	}
	return m.checkpoints[len(m.checkpoints)-1], true
}

func (m *Manager) Clear() { m.checkpoints = nil }

// History returns a copy of the rollback audit trail.
func (m *Manager) History() []Rollback {
	out := make([]Rollback, len(m.history))
	copy(out, m.history)
	return out
}

// deepCopyState round-trips through msgpack so the checkpoint shares no
// nested maps or slices with the live snapshot.
func deepCopyState(s env.State) (env.State, error) {
	if s == nil {
		return env.State{}, nil
	}
	b, err := msgpack.Marshal(map[string]any(s))
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := msgpack.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return env.State(out), nil
}

func deepCopyEnvState(e EnvState) (EnvState, error) {
	b, err := msgpack.Marshal(e)
	if err != nil {
		return EnvState{}, err
	}
	var out EnvState
	if err := msgpack.Unmarshal(b, &out); err != nil {
		return EnvState{}, err
	}
	return out, nil
}

// CaptureEnvState reads the restorable browser state off the environment.
func CaptureEnvState(e env.Environment) EnvState {
	return EnvState{
		URL:          e.CurrentURL(),
		Cookies:      e.Cookies(),
		LocalStorage: e.LocalStorage(),
	}
}

// RestoreEnvState clears live browser state and replays the checkpointed
// cookies, storage, and location.
func RestoreEnvState(e env.Environment, s EnvState) error {
	e.ClearCookies()
	e.ClearLocalStorage()
	for _, c := range s.Cookies {
		e.SetCookie(c)
	}
	for k, v := range s.LocalStorage {
		e.SetLocalStorageItem(k, v)
	}
	if s.URL != "" {
		if err := e.Navigate(s.URL); err != nil {
			return fmt.Errorf("restore navigate %s: %w", s.URL, err)
		}
	}
	return nil
}
