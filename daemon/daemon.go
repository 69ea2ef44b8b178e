// Package daemon implements the Container daemon protocol (spec.md §6)
// against the containerv package: it is the concrete ipc.ContainerDaemon
// a cvd process serves over the control socket ipc.ServeConn accepts
// connections on.
package daemon

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/google/uuid"

	"github.com/chef-project/containerv/bpfmgr"
	cerrors "github.com/chef-project/containerv/errors"
	"github.com/chef-project/containerv/ipc"
	"github.com/chef-project/containerv/layer"
	"github.com/chef-project/containerv/logging"

	"github.com/chef-project/containerv/container"
	"github.com/chef-project/containerv/spec"
)

// Daemon is the production ipc.ContainerDaemon: it owns the layer arena
// and bpf-manager instance every container it creates shares, and keeps
// each container's pending layer plan between Create (which stages the
// plan) and Spawn (which composes it and actually starts the process).
type Daemon struct {
	StateRoot string
	Arena     *layer.Arena
	BPF       *bpfmgr.Manager

	mu     sync.Mutex
	plans  map[string][]layer.Spec
	active map[string]*container.Container
}

// generateID mints a container ID satisfying container.ValidateContainerID:
// a uuid's hyphens are allowed, but its string form starts with a hex
// digit, so no leading-character fixup is needed.
func generateID() string {
	return uuid.NewString()
}

var _ ipc.ContainerDaemon = (*Daemon)(nil)

// New builds a Daemon that composes layers into arena and, when bpf is
// non-nil and available, loads protecc-compiled policy into it on Spawn.
func New(stateRoot string, arena *layer.Arena, bpf *bpfmgr.Manager) *Daemon {
	return &Daemon{
		StateRoot: stateRoot,
		Arena:     arena,
		BPF:       bpf,
		plans:     make(map[string][]layer.Spec),
		active:    make(map[string]*container.Container),
	}
}

// rootfsKind maps the protocol's loose rootfs_type string onto the layer
// package's typed Kind, the same vocabulary protecc profiles and the
// layer composer already share.
func rootfsKind(kind string) (layer.Kind, error) {
	switch kind {
	case "", "base":
		return layer.BaseRootfs, nil
	case "package":
		return layer.Package, nil
	default:
		return 0, cerrors.New(cerrors.InvalidArgument, "create", "unknown rootfs_type "+kind)
	}
}

// parseMount splits a "host-src:container-dst[:ro]" mount spec, the same
// shorthand bundle authors use for OCI bind mounts.
func parseMount(raw string) (layer.Spec, error) {
	parts := strings.Split(raw, ":")
	if len(parts) < 2 {
		return layer.Spec{}, cerrors.New(cerrors.InvalidArgument, "create", "malformed mount "+raw)
	}
	s := layer.Spec{Kind: layer.HostDir, Source: parts[0], Target: parts[1]}
	if len(parts) > 2 && parts[2] == "ro" {
		s.Readonly = true
	}
	return s, nil
}

// Create stages a layer plan and a fresh OCI bundle for id, but does not
// compose or mount anything yet — that happens in Spawn, once the
// caller's command and environment are known. This mirrors the state
// machine's own split between the Install step (layers) and Done step
// (actual OCI create) that Container.Spawn drives.
func (d *Daemon) Create(req ipc.CreateRequest) (ipc.CreateReply, error) {
	kind, err := rootfsKind(req.RootfsType)
	if err != nil {
		return ipc.CreateReply{}, err
	}

	layers := []layer.Spec{{Kind: kind, Path: req.Rootfs}}
	for _, m := range req.Mounts {
		ms, err := parseMount(m)
		if err != nil {
			return ipc.CreateReply{}, err
		}
		layers = append(layers, ms)
	}

	id := generateID()
	bundle := filepath.Join(d.StateRoot, id, "bundle")
	if err := os.MkdirAll(bundle, 0700); err != nil {
		return ipc.CreateReply{}, cerrors.Wrap(err, cerrors.Io, "create bundle dir")
	}

	s := spec.DefaultSpec()
	if err := s.Save(filepath.Join(bundle, "config.json")); err != nil {
		return ipc.CreateReply{}, cerrors.Wrap(err, cerrors.Io, "save spec")
	}

	ctx := context.Background()
	c, err := container.New(ctx, id, bundle, d.StateRoot)
	if err != nil {
		return ipc.CreateReply{}, err
	}

	d.mu.Lock()
	d.plans[id] = layers
	d.active[id] = c
	d.mu.Unlock()

	logging.Info("daemon: created container", "container_id", id, "rootfs_type", req.RootfsType)
	return ipc.CreateReply{ID: id, Status: "created"}, nil
}

// Spawn composes the layer plan Create staged, loads any policy rules
// the caller provided keyed by path (req.Options["policy.<glob>"] =
// "mask,action", an encoding narrow enough for the wire protocol's flat
// string map), and runs the container's init process.
func (d *Daemon) Spawn(req ipc.SpawnRequest) (ipc.SpawnReply, error) {
	d.mu.Lock()
	c, ok := d.active[req.ID]
	layers := d.plans[req.ID]
	d.mu.Unlock()
	if !ok {
		return ipc.SpawnReply{}, cerrors.WrapWithContainer(nil, cerrors.NotFound, "spawn", req.ID)
	}

	if len(req.Command) > 0 && c.Spec.Process != nil {
		c.Spec.Process.Args = req.Command
	}
	for k, v := range req.Env {
		if c.Spec.Process != nil {
			c.Spec.Process.Env = append(c.Spec.Process.Env, k+"="+v)
		}
	}

	rules := decodePolicyRules(req.Options)

	ctx := context.Background()
	err := c.Spawn(ctx, d.Arena, d.BPF, container.SpawnRequest{
		Layers: layers,
		Rules:  rules,
		Opts:   &container.CreateOptions{},
	})
	if err != nil {
		return ipc.SpawnReply{}, err
	}

	logging.Info("daemon: spawned container", "container_id", req.ID, "pid", c.InitProcess)
	return ipc.SpawnReply{Pid: c.InitProcess, Status: "running"}, nil
}

// decodePolicyRules recovers PolicyRule values the wire protocol's flat
// string map squeezed under an "policy.<glob>" = "mask,action" encoding.
func decodePolicyRules(options map[string]string) []container.PolicyRule {
	var rules []container.PolicyRule
	for k, v := range options {
		glob, ok := strings.CutPrefix(k, "policy.")
		if !ok {
			continue
		}
		parts := strings.SplitN(v, ",", 2)
		if len(parts) != 2 {
			continue
		}
		mask, err := strconv.ParseUint(parts[0], 10, 8)
		if err != nil {
			continue
		}
		action := bpfmgr.ActionAllow
		if parts[1] == "deny" {
			action = bpfmgr.ActionDeny
		}
		rules = append(rules, container.PolicyRule{Glob: glob, Mask: uint8(mask), Action: action})
	}
	return rules
}

// Kill signals the container's init process. The protocol frames this
// RPC around a pid rather than a signal name; pid is used only to guard
// against a stale caller targeting a process that has since been
// reaped, and the signal sent is always SIGKILL — this RPC is the
// protocol's forceful-stop path, distinct from the CLI's "kill" command
// which accepts an arbitrary signal.
func (d *Daemon) Kill(req ipc.KillRequest) (ipc.KillReply, error) {
	d.mu.Lock()
	c, ok := d.active[req.ID]
	d.mu.Unlock()
	if !ok {
		return ipc.KillReply{}, cerrors.WrapWithContainer(nil, cerrors.NotFound, "kill", req.ID)
	}
	if req.Pid != 0 && req.Pid != c.InitProcess {
		return ipc.KillReply{}, cerrors.WrapWithDetail(nil, cerrors.InvalidArgument, "kill",
			fmt.Sprintf("pid %d does not match container init pid %d", req.Pid, c.InitProcess))
	}

	if err := c.Signal(syscall.SIGKILL); err != nil {
		return ipc.KillReply{}, err
	}
	return ipc.KillReply{Status: "killed"}, nil
}

// Upload copies a file from the host into the container's composed
// rootfs, optionally chowning it to "uid:gid" in req.User.
func (d *Daemon) Upload(req ipc.UploadRequest) (ipc.UploadReply, error) {
	d.mu.Lock()
	c, ok := d.active[req.ID]
	d.mu.Unlock()
	if !ok {
		return ipc.UploadReply{}, cerrors.WrapWithContainer(nil, cerrors.NotFound, "upload", req.ID)
	}
	if c.LayerCtx == nil {
		return ipc.UploadReply{}, cerrors.New(cerrors.NotSupported, "upload", "container has no composed rootfs yet")
	}

	dst := filepath.Join(layer.RootfsPath(c.LayerCtx), req.Dst)
	if err := copyFile(req.Src, dst); err != nil {
		return ipc.UploadReply{}, cerrors.Wrap(err, cerrors.Io, "upload")
	}
	if req.User != "" {
		uid, gid, err := parseUIDGID(req.User)
		if err != nil {
			return ipc.UploadReply{}, err
		}
		if err := os.Chown(dst, uid, gid); err != nil {
			return ipc.UploadReply{}, cerrors.Wrap(err, cerrors.Io, "chown upload target")
		}
	}
	return ipc.UploadReply{Status: "uploaded"}, nil
}

// Download copies a file out of the container's composed rootfs to the
// host.
func (d *Daemon) Download(req ipc.DownloadRequest) (ipc.DownloadReply, error) {
	d.mu.Lock()
	c, ok := d.active[req.ID]
	d.mu.Unlock()
	if !ok {
		return ipc.DownloadReply{}, cerrors.WrapWithContainer(nil, cerrors.NotFound, "download", req.ID)
	}
	if c.LayerCtx == nil {
		return ipc.DownloadReply{}, cerrors.New(cerrors.NotSupported, "download", "container has no composed rootfs yet")
	}

	src := filepath.Join(layer.RootfsPath(c.LayerCtx), req.Src)
	if err := copyFile(src, req.Dst); err != nil {
		return ipc.DownloadReply{}, cerrors.Wrap(err, cerrors.Io, "download")
	}
	return ipc.DownloadReply{Status: "downloaded"}, nil
}

// Destroy tears down a container's layers, policy entries, and OCI
// state, then forgets it.
func (d *Daemon) Destroy(req ipc.DestroyRequest) (ipc.DestroyReply, error) {
	d.mu.Lock()
	c, ok := d.active[req.ID]
	d.mu.Unlock()
	if !ok {
		return ipc.DestroyReply{}, cerrors.WrapWithContainer(nil, cerrors.NotFound, "destroy", req.ID)
	}

	ctx := context.Background()
	err := c.Teardown(ctx, container.TeardownRequest{
		Arena:     d.Arena,
		BPF:       d.BPF,
		StateRoot: d.StateRoot,
		Force:     true,
	})

	d.mu.Lock()
	delete(d.active, req.ID)
	delete(d.plans, req.ID)
	d.mu.Unlock()

	if err != nil {
		return ipc.DestroyReply{}, err
	}
	return ipc.DestroyReply{Status: "destroyed"}, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}

func parseUIDGID(s string) (int, int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, cerrors.New(cerrors.InvalidArgument, "parse user", "expected uid:gid")
	}
	uid, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, cerrors.Wrap(err, cerrors.InvalidArgument, "parse uid")
	}
	gid, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, cerrors.Wrap(err, cerrors.InvalidArgument, "parse gid")
	}
	return uid, gid, nil
}
