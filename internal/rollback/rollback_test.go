package rollback

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danshapiro/wayfinder/internal/env"
)

func fillManager(t *testing.T, m *Manager, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		err := m.SaveCheckpoint(fmt.Sprintf("node%d", i), i, env.State{"step": i}, EnvState{URL: fmt.Sprintf("https://x.test/%d", i)})
		require.NoError(t, err)
	}
}

func TestSaveCheckpointEvictsOldest(t *testing.T) {
	m := NewManager(10)
	fillManager(t, m, 11)

	assert.Equal(t, 10, m.Len())
	// node0 was evicted
	_, err := m.RollbackToNode("node0")
	assert.ErrorIs(t, err, ErrCheckpointNotFound)
	// node1 survived as the oldest
	cp, err := m.RollbackToNode("node1")
	require.NoError(t, err)
	assert.Equal(t, 1, cp.Step)
}

func TestRollbackToNodeTruncates(t *testing.T) {
	m := NewManager(10)
	fillManager(t, m, 5)

	cp, err := m.RollbackToNode("node2")
	require.NoError(t, err)
	assert.Equal(t, "node2", cp.NodeID)
	assert.Equal(t, 3, m.Len())

	// the target itself survives and can be rolled back to again
	again, err := m.RollbackToNode("node2")
	require.NoError(t, err)
	assert.Equal(t, cp.Step, again.Step)

	// everything after it is gone
	_, err = m.RollbackToNode("node4")
	assert.ErrorIs(t, err, ErrCheckpointNotFound)
}

func TestRollbackToNodePicksNewest(t *testing.T) {
	m := NewManager(10)
	require.NoError(t, m.SaveCheckpoint("loop", 0, env.State{}, EnvState{}))
	require.NoError(t, m.SaveCheckpoint("other", 1, env.State{}, EnvState{}))
	require.NoError(t, m.SaveCheckpoint("loop", 2, env.State{}, EnvState{}))

	cp, err := m.RollbackToNode("loop")
	require.NoError(t, err)
	assert.Equal(t, 2, cp.Step)
}

func TestRollbackSteps(t *testing.T) {
	m := NewManager(10)
	fillManager(t, m, 5)

	cp, err := m.RollbackSteps(2)
	require.NoError(t, err)
	assert.Equal(t, "node2", cp.NodeID)
	assert.Equal(t, 3, m.Len())

	// clamps at the oldest checkpoint
	cp, err = m.RollbackSteps(100)
	require.NoError(t, err)
	assert.Equal(t, "node0", cp.NodeID)
	assert.Equal(t, 1, m.Len())
}

func TestRollbackStepsEmpty(t *testing.T) {
	m := NewManager(10)
	_, err := m.RollbackSteps(1)
	assert.ErrorIs(t, err, ErrCheckpointNotFound)
}

func TestCheckpointDeepCopy(t *testing.T) {
	m := NewManager(10)
	live := env.State{"nested": map[string]any{"k": "original"}}
	require.NoError(t, m.SaveCheckpoint("a", 0, live, EnvState{}))

	live["nested"].(map[string]any)["k"] = "mutated"

	cp, ok := m.Latest()
	require.True(t, ok)
	assert.Equal(t, "original", cp.Snapshot.Map("nested")["k"])
}

func TestHistory(t *testing.T) {
	m := NewManager(10)
	fillManager(t, m, 3)

	_, err := m.RollbackToNode("node1")
	require.NoError(t, err)

	h := m.History()
	require.Len(t, h, 1)
	assert.Equal(t, 2, h[0].FromStep)
	assert.Equal(t, 1, h[0].ToStep)
	assert.Equal(t, "node1", h[0].TargetNode)
}

func TestNoProgressDetector(t *testing.T) {
	d := NewNoProgressDetector(3)

	same := env.State{"dom_elements": []any{"a", "b"}}
	d.Record(same)
	d.Record(same)
	assert.False(t, d.NoProgress(), "partial window must not trip")

	d.Record(same)
	assert.True(t, d.NoProgress())

	// any change in the window resets the run of identical digests
	d.Record(env.State{"dom_elements": []any{"c"}})
	assert.False(t, d.NoProgress())

	d.Reset()
	d.Record(same)
	d.Record(same)
	assert.False(t, d.NoProgress())
}

func TestEnvironmentStateRoundTrip(t *testing.T) {
	s := env.NewSim(map[string]*env.Page{
		"https://x.test/": {Title: "Home", HTML: "<p>hello</p>"},
	})
	require.NoError(t, s.Navigate("https://x.test/"))
	s.SetCookie(env.Cookie{Name: "session", Value: "abc"})
	s.SetLocalStorageItem("k", "v")

	saved := CaptureEnvState(s)

	s.ClearCookies()
	s.ClearLocalStorage()
	require.NoError(t, RestoreEnvState(s, saved))

	assert.Equal(t, "https://x.test/", s.CurrentURL())
	require.Len(t, s.Cookies(), 1)
	assert.Equal(t, "abc", s.Cookies()[0].Value)
	assert.Equal(t, "v", s.LocalStorage()["k"])
}

func TestEnvironmentReset(t *testing.T) {
	s := env.NewSim(map[string]*env.Page{
		"https://x.test/start": {Title: "Start", HTML: "<p>start</p>"},
		"https://x.test/deep":  {Title: "Deep", HTML: "<p>deep</p>"},
	})
	require.NoError(t, s.Navigate("https://x.test/start"))

	r := NewEnvironmentReset(s)
	r.SaveInitialState()

	require.NoError(t, s.Navigate("https://x.test/deep"))
	s.SetLocalStorageItem("junk", "1")

	require.NoError(t, r.ResetToInitial())
	assert.Equal(t, "https://x.test/start", s.CurrentURL())
	assert.Empty(t, s.LocalStorage())
}
