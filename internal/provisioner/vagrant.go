package provisioner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/kitchen-metal/metalctl/internal/logging"
	"github.com/kitchen-metal/metalctl/internal/registry"
	"github.com/kitchen-metal/metalctl/internal/runner"
)

// SchemeVagrant is the provisioner URL scheme handled by Vagrant.
const SchemeVagrant = "vagrant"

// Vagrant deletes machines that live in a Vagrant cluster directory. Each
// machine has a <name>.vm file in the cluster directory that the cluster's
// Vagrantfile loads.
type Vagrant struct {
	clusterPath string
	runner      runner.Runner
}

// NewVagrant constructs a Vagrant provisioner for clusterPath.
func NewVagrant(clusterPath string, r runner.Runner) (*Vagrant, error) {
	if strings.TrimSpace(clusterPath) == "" {
		return nil, fmt.Errorf("vagrant cluster path is empty")
	}
	if r == nil {
		r = runner.NewExec()
	}
	return &Vagrant{clusterPath: clusterPath, runner: r}, nil
}

// VagrantConstructor returns a Constructor that builds Vagrant provisioners
// running commands through r.
func VagrantConstructor(r runner.Runner) Constructor {
	return func(path string) (Provisioner, error) {
		return NewVagrant(path, r)
	}
}

// DeleteMachine destroys the VM and removes its .vm file.
func (v *Vagrant) DeleteMachine(ctx context.Context, action ActionContext, rec registry.Record) error {
	vmName := rec.OutputString("vm_name")
	if vmName == "" {
		vmName = rec.Name
	}

	out := logging.NewWriter(action.Log(), "vagrant")
	defer out.Flush()

	cmd := runner.Command{
		Name:   "vagrant",
		Args:   []string{"destroy", "-f", vmName},
		Dir:    v.clusterPath,
		Stdout: out,
		Stderr: out,
	}
	action.Log().Info("destroying vagrant machine", "machine", rec.Name, "vm", vmName, "cluster", v.clusterPath, "actor", action.Actor)
	if err := v.runner.Run(ctx, cmd); err != nil {
		return fmt.Errorf("vagrant destroy %s: %w", vmName, err)
	}

	vmFile := rec.OutputString("vm_file_path")
	if vmFile == "" {
		vmFile = filepath.Join(v.clusterPath, rec.Name+".vm")
	}
	if err := os.Remove(vmFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove vm file %s: %w", vmFile, err)
	}
	return nil
}
