package state

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddMachineIsUnique(t *testing.T) {
	var st State
	assert.True(t, st.AddMachine("web"))
	assert.True(t, st.AddMachine("db"))
	assert.False(t, st.AddMachine("web"))
	assert.Equal(t, []string{"web", "db"}, st.Machines)

	st.RemoveMachine("web")
	assert.Equal(t, []string{"db"}, st.Machines)
	assert.False(t, st.HasMachine("web"))
	assert.True(t, st.HasMachine("db"))
}

func TestResetAndEmpty(t *testing.T) {
	st := State{EnvironmentCreated: true, Machines: []string{"web"}}
	assert.False(t, st.Empty())
	st.Reset()
	assert.True(t, st.Empty())
	assert.Nil(t, st.Machines)
}

func TestStoreLoadMissingIsEmpty(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	st, err := store.Load("default-ubuntu")
	require.NoError(t, err)
	assert.True(t, st.Empty())
}

func TestStoreSaveLoad(t *testing.T) {
	dir := filepath.Join(t.TempDir(), ".kitchen")
	store, err := NewStore(dir)
	require.NoError(t, err)

	want := &State{EnvironmentCreated: true, Machines: []string{"web", "db"}}
	require.NoError(t, store.Save("platforms/ubuntu.rb", want))

	path := store.Path("platforms/ubuntu.rb")
	assert.Equal(t, filepath.Join(dir, "platforms-ubuntu.rb.yml"), path)
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "environment_created: true")

	got, err := store.Load("platforms/ubuntu.rb")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestStoreSaveEmptyRemovesFile(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Save("ubuntu", &State{EnvironmentCreated: true}))
	assert.FileExists(t, store.Path("ubuntu"))

	require.NoError(t, store.Save("ubuntu", &State{}))
	assert.NoFileExists(t, store.Path("ubuntu"))

	require.NoError(t, store.Save("never-saved", nil))
}

func TestStoreLoadCorrupt(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(store.Path("ubuntu"), []byte("machines: {"), 0o644))

	_, err = store.Load("ubuntu")
	require.Error(t, err)
}

func TestNewStoreRequiresDir(t *testing.T) {
	_, err := NewStore("")
	require.Error(t, err)
}
