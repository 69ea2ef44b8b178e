package container

import (
	"context"
	"fmt"

	"github.com/chef-project/containerv/bpfmgr"
	"github.com/chef-project/containerv/layer"
	"github.com/chef-project/containerv/linux"
	"github.com/chef-project/containerv/resolver"
	"github.com/chef-project/containerv/spec"
)

// PolicyRule is one path-glob rule a Spawn call resolves against the
// composed rootfs and loads into bpf-manager's policy map before the
// container's init process starts.
type PolicyRule struct {
	Glob   string
	Mask   uint8
	Action bpfmgr.Action
}

// SpawnRequest bundles everything the spawn state machine's steps need:
// the layer plan this container's rootfs is composed from, the policy
// rules bpf-manager should enforce against it, and the options the final
// OCI create step takes.
type SpawnRequest struct {
	Layers []layer.Spec
	Rules  []PolicyRule
	Opts   *CreateOptions
}

// Spawn drives a container through the install/spawn state machine
// spec.md §4.3 names: Verify checks the container's capability bits are
// a satisfiable combination, Install composes and mounts the layered
// rootfs, Load resolves and populates the container's policy rules into
// bpf-manager keyed on its cgroup id, and Done performs the OCI create.
// Download, StopServices, Unload, and GenerateWrappers have no
// containerv equivalent and are left unset in the steps map, which
// RunSpawnStateMachine treats as a no-op state to pass through.
//
// arena owns the staged layer handles; bpf may be nil (or unavailable)
// to skip policy loading entirely, e.g. in environments without BPF-LSM.
func (c *Container) Spawn(ctx context.Context, arena *layer.Arena, bpf *bpfmgr.Manager, req SpawnRequest) error {
	steps := map[SpawnState]func() error{
		SpawnVerify: func() error {
			caps := c.Capabilities
			if caps == 0 {
				caps = AllCapabilities
			}
			return ValidateCapabilities(caps)
		},
		SpawnInstall: func() error {
			layerCtx, err := layer.Compose(arena, c.ID, c.StateDir, req.Layers)
			if err != nil {
				return err
			}
			if err := layer.MountInNamespace(arena, layerCtx); err != nil {
				layer.Destroy(arena, layerCtx)
				return err
			}
			c.LayerCtx = layerCtx
			// Point the OCI spec InitContainer pivot_roots into at the
			// layer composer's output, not whatever Root.Path the bundle's
			// config.json happened to carry: the composed rootfs is what
			// spec.md's data flow requires create to actually enter.
			if c.Spec.Root == nil {
				c.Spec.Root = &spec.Root{}
			}
			c.Spec.Root.Path = layer.RootfsPath(layerCtx)
			return nil
		},
		SpawnLoad: func() error {
			// Create's own cgroup setup runs later, at the Done step, but
			// bpf-manager needs the cgroup id to key policy entries on
			// before the init process exists. Pre-create it here; Create
			// reopens the same path (MkdirAll is idempotent) and records
			// the identical id.
			cgroupPath := linux.GetCgroupPath(c.ID, "")
			if c.Spec.Linux != nil && c.Spec.Linux.CgroupsPath != "" {
				cgroupPath = c.Spec.Linux.CgroupsPath
			}
			cgroup, err := linux.NewCgroup(cgroupPath)
			if err != nil {
				return fmt.Errorf("create cgroup: %w", err)
			}
			c.CgroupPath = cgroupPath
			if id, err := cgroup.ID(); err == nil {
				c.CgroupID = id
			}

			if bpf == nil || !bpf.Available() || len(req.Rules) == 0 {
				return nil
			}
			return c.populatePolicy(bpf, req.Rules)
		},
		SpawnDone: func() error {
			return c.Create(ctx, req.Opts)
		},
	}

	state, err := RunSpawnStateMachine(c.ID, steps)
	if err != nil {
		if c.LayerCtx != nil {
			layer.Destroy(arena, c.LayerCtx)
			c.LayerCtx = nil
		}
		return fmt.Errorf("spawn failed at %s: %w", state, err)
	}

	c.Lifecycle = LifecycleRunning
	return nil
}

// populatePolicy expands each rule's glob against the composed rootfs
// and loads the resulting literal-path entries into bpf's policy map,
// keyed on this container's cgroup id.
func (c *Container) populatePolicy(bpf *bpfmgr.Manager, rules []PolicyRule) error {
	rootfsPath := layer.RootfsPath(c.LayerCtx)
	resolved := make(map[string]bpfmgr.PolicyValue)
	for _, rule := range rules {
		matches, err := resolver.Expand(rootfsPath, rule.Glob, resolver.DefaultOptions())
		if err != nil {
			return fmt.Errorf("expand policy glob %q: %w", rule.Glob, err)
		}
		for _, m := range matches {
			resolved[m.Path] = bpfmgr.PolicyValue{Mask: rule.Mask, Action: rule.Action}
		}
	}
	if len(resolved) == 0 {
		return nil
	}
	return bpf.PopulatePolicy(c.ID, c.CgroupID, rootfsPath, resolver.Single{}, resolved)
}

// TeardownRequest bundles what Teardown's steps need to unwind a spawned
// container's layers, policy entries, and OCI-level state.
type TeardownRequest struct {
	Arena     *layer.Arena
	BPF       *bpfmgr.Manager
	StateRoot string
	Force     bool
}

// Teardown drives a container through the destroy state machine spec.md
// §4.3 names, running every step to completion regardless of individual
// failures and returning only the first error encountered. StopServices
// has no containerv equivalent and is left unset, which
// RunDestroyStateMachine treats as a no-op state to pass through.
func (c *Container) Teardown(ctx context.Context, req TeardownRequest) error {
	steps := map[DestroyState]func() error{
		DestroyUnload: func() error {
			if req.BPF == nil || !req.BPF.Available() {
				return nil
			}
			return req.BPF.CleanupPolicy(c.CgroupID)
		},
		DestroyUnmountLayers: func() error {
			if c.LayerCtx == nil || req.Arena == nil {
				return nil
			}
			err := layer.Destroy(req.Arena, c.LayerCtx)
			c.LayerCtx = nil
			return err
		},
		DestroyRemoveCgroup: func() error {
			return Delete(ctx, c.ID, req.StateRoot, &DeleteOptions{Force: req.Force})
		},
	}

	err := RunDestroyStateMachine(c.ID, steps)
	c.Lifecycle = LifecycleDestroyed
	return err
}
