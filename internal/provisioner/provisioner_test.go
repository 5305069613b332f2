package provisioner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kitchen-metal/metalctl/internal/registry"
	"github.com/kitchen-metal/metalctl/internal/runner"
	"github.com/kitchen-metal/metalctl/internal/runner/runnertest"
)

type recordingProvisioner struct {
	path    string
	actions []ActionContext
	records []registry.Record
	err     error
	closed  bool
}

func (p *recordingProvisioner) DeleteMachine(_ context.Context, action ActionContext, rec registry.Record) error {
	p.actions = append(p.actions, action)
	p.records = append(p.records, rec)
	return p.err
}

func (p *recordingProvisioner) Close() error {
	p.closed = true
	return nil
}

func TestParseURL(t *testing.T) {
	scheme, path, err := ParseURL("vagrant://some/path")
	require.NoError(t, err)
	assert.Equal(t, "vagrant", scheme)
	assert.Equal(t, "some/path", path)

	scheme, path, err = ParseURL("docker://host://nested")
	require.NoError(t, err)
	assert.Equal(t, "docker", scheme)
	assert.Equal(t, "host://nested", path)

	for _, bad := range []string{"vagrant:/some/path", "", "://path"} {
		_, _, err := ParseURL(bad)
		assert.True(t, registry.IsMalformedRecord(err), bad)
	}
}

func TestDispatcherSelectsConstructorByScheme(t *testing.T) {
	var built []*recordingProvisioner
	d := NewDispatcher(ActionContext{})
	d.Register("vagrant", func(path string) (Provisioner, error) {
		p := &recordingProvisioner{path: path}
		built = append(built, p)
		return p, nil
	})

	rec := registry.NewRecord("web", "vagrant://some/path", nil)
	require.NoError(t, d.DeleteMachine(context.Background(), "vagrant://some/path", rec))

	require.Len(t, built, 1)
	assert.Equal(t, "some/path", built[0].path)
	require.Len(t, built[0].actions, 1)
	assert.Equal(t, DefaultActor, built[0].actions[0].Actor)
	assert.Equal(t, "web", built[0].records[0].Name)
	assert.True(t, built[0].closed)
}

func TestDispatcherUnknownScheme(t *testing.T) {
	d := NewDispatcher(ActionContext{Actor: "ci"})
	d.Register("vagrant", func(string) (Provisioner, error) {
		t.Fatal("constructor must not be called")
		return nil, nil
	})

	err := d.DeleteMachine(context.Background(), "dockerx://foo", registry.Record{Name: "web"})
	assert.True(t, IsUnknownScheme(err))
}

func TestDispatcherMalformedURLBeforeDispatch(t *testing.T) {
	called := false
	d := NewDispatcher(ActionContext{})
	d.Register("vagrant", func(string) (Provisioner, error) {
		called = true
		return &recordingProvisioner{}, nil
	})

	err := d.DeleteMachine(context.Background(), "vagrant-no-separator", registry.Record{Name: "web"})
	assert.True(t, registry.IsMalformedRecord(err))
	assert.False(t, called)
}

func TestDispatcherPropagatesProvisionerError(t *testing.T) {
	boom := errors.New("vm locked")
	d := NewDispatcher(ActionContext{})
	d.Register("vagrant", func(string) (Provisioner, error) {
		return &recordingProvisioner{err: boom}, nil
	})

	err := d.DeleteMachine(context.Background(), "vagrant://x", registry.Record{Name: "web"})
	assert.Same(t, boom, err)
}

func TestDefaultDispatcherSchemes(t *testing.T) {
	d := NewDefaultDispatcher(ActionContext{}, &runnertest.Recorder{})
	assert.Equal(t, []string{"docker", "vagrant"}, d.Schemes())
}

func TestVagrantDeleteMachine(t *testing.T) {
	cluster := t.TempDir()
	vmFile := filepath.Join(cluster, "web.vm")
	require.NoError(t, os.WriteFile(vmFile, []byte("config.vm.define 'web'"), 0o644))

	rec := &runnertest.Recorder{}
	d := NewDispatcher(ActionContext{})
	d.Register(SchemeVagrant, VagrantConstructor(rec))

	node := registry.NewRecord("web", "vagrant://"+cluster, nil)
	require.NoError(t, d.DeleteMachine(context.Background(), "vagrant://"+cluster, node))

	cmds := rec.Commands()
	require.Len(t, cmds, 1)
	assert.Equal(t, "vagrant", cmds[0].Name)
	assert.Equal(t, []string{"destroy", "-f", "web"}, cmds[0].Args)
	assert.Equal(t, cluster, cmds[0].Dir)
	assert.NoFileExists(t, vmFile)
}

func TestVagrantDeleteMachineUsesRecordedVM(t *testing.T) {
	cluster := t.TempDir()
	vmFile := filepath.Join(t.TempDir(), "custom.vm")
	require.NoError(t, os.WriteFile(vmFile, nil, 0o644))

	rec := &runnertest.Recorder{}
	v, err := NewVagrant(cluster, rec)
	require.NoError(t, err)

	node := registry.NewRecord("web", "vagrant://"+cluster, map[string]string{
		"vm_name":      "web-01",
		"vm_file_path": vmFile,
	})
	require.NoError(t, v.DeleteMachine(context.Background(), ActionContext{Logger: nil}, node))
	assert.Equal(t, []string{"destroy", "-f", "web-01"}, rec.Commands()[0].Args)
	assert.NoFileExists(t, vmFile)
}

func TestVagrantDestroyFailureKeepsVMFile(t *testing.T) {
	cluster := t.TempDir()
	vmFile := filepath.Join(cluster, "web.vm")
	require.NoError(t, os.WriteFile(vmFile, nil, 0o644))

	boom := errors.New("exit status 1")
	v, err := NewVagrant(cluster, &runnertest.Recorder{Handler: func(runner.Command) error { return boom }})
	require.NoError(t, err)

	err = v.DeleteMachine(context.Background(), ActionContext{}, registry.NewRecord("web", "vagrant://"+cluster, nil))
	require.ErrorIs(t, err, boom)
	assert.FileExists(t, vmFile)
}

func TestNewVagrantRequiresPath(t *testing.T) {
	_, err := NewVagrant(" ", nil)
	require.Error(t, err)
}

type fakeContainers struct {
	stopped   []string
	removed   []string
	removeOpt container.RemoveOptions
	stopErr   error
	removeErr error
	closed    bool
}

func (f *fakeContainers) ContainerStop(_ context.Context, id string, _ container.StopOptions) error {
	f.stopped = append(f.stopped, id)
	return f.stopErr
}

func (f *fakeContainers) ContainerRemove(_ context.Context, id string, opts container.RemoveOptions) error {
	f.removed = append(f.removed, id)
	f.removeOpt = opts
	return f.removeErr
}

func (f *fakeContainers) Close() error {
	f.closed = true
	return nil
}

func TestDockerDeleteMachine(t *testing.T) {
	api := &fakeContainers{}
	d := NewDocker(api)

	node := registry.NewRecord("web", "docker://", map[string]string{"container_name": "kitchen-web"})
	require.NoError(t, d.DeleteMachine(context.Background(), ActionContext{Logger: nil}, node))
	assert.Equal(t, []string{"kitchen-web"}, api.stopped)
	assert.Equal(t, []string{"kitchen-web"}, api.removed)
	assert.True(t, api.removeOpt.Force)

	require.NoError(t, d.Close())
	assert.True(t, api.closed)
}

func TestDockerDeleteMachineToleratesNotFound(t *testing.T) {
	api := &fakeContainers{stopErr: errdefs.ErrNotFound, removeErr: errdefs.ErrNotFound}
	require.NoError(t, NewDocker(api).DeleteMachine(context.Background(), ActionContext{}, registry.NewRecord("web", "docker://", nil)))
	assert.Equal(t, []string{"web"}, api.removed)
}

func TestDockerDeleteMachineFailure(t *testing.T) {
	boom := errors.New("daemon busy")
	api := &fakeContainers{removeErr: boom}
	err := NewDocker(api).DeleteMachine(context.Background(), ActionContext{}, registry.NewRecord("web", "docker://", nil))
	require.ErrorIs(t, err, boom)
}

func TestDockerHost(t *testing.T) {
	assert.Equal(t, "", dockerHost(""))
	assert.Equal(t, "unix:///var/run/docker.sock", dockerHost("/var/run/docker.sock"))
	assert.Equal(t, "tcp://10.0.0.5:2375", dockerHost("10.0.0.5:2375"))
	assert.Equal(t, "ssh://user@box", dockerHost("ssh://user@box"))
}
