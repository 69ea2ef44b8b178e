// Package layer composes a container's root filesystem out of an ordered
// stack of layers: a base rootfs, read-only package layers, optional
// host-dir bind mounts, and a writable overlay on top. It generalizes the
// teacher's linux.SetupRootfs (bind-mount-to-self, pivot_root-shaped mount
// setup) to a list of named, independently-described layers instead of a
// single OCI Root/Mounts pair.
//
// Layers live in an Arena addressed by Handle values rather than pointers,
// so a Context records which layers it owns as a handle slice: destruction
// is a reverse-order walk over that slice with no back pointer from a
// layer to the container that composed it.
package layer

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"golang.org/x/sync/errgroup"

	cerrors "github.com/chef-project/containerv/errors"
	"github.com/chef-project/containerv/linux"
)

const (
	MS_BIND     = linux.MS_BIND
	MS_REC      = linux.MS_REC
	MS_RDONLY   = linux.MS_RDONLY
	MS_REMOUNT  = linux.MS_REMOUNT
	MS_PRIVATE  = linux.MS_PRIVATE
)

// Kind identifies which variant of the Layer tagged union a value holds.
type Kind int

const (
	// BaseRootfs is the bottom of the stack: an existing directory tree
	// used as-is.
	BaseRootfs Kind = iota
	// Package is a read-only layer staged from an extracted package tree.
	Package
	// HostDir bind-mounts a host directory or file into the composed
	// rootfs at Target.
	HostDir
	// Overlay stacks a writable upper directory on top of everything
	// beneath it using an overlayfs mount.
	Overlay
)

func (k Kind) String() string {
	switch k {
	case BaseRootfs:
		return "base-rootfs"
	case Package:
		return "package"
	case HostDir:
		return "host-dir"
	case Overlay:
		return "overlay"
	default:
		return "unknown"
	}
}

// Spec describes one layer to add to a composition, independent of where
// it ends up staged. Which fields are meaningful depends on Kind:
//
//	BaseRootfs: Path
//	Package:    Path, Readonly (always true in practice, kept for symmetry)
//	HostDir:    Source, Target, Readonly
//	Overlay:    WorkDir (created under the per-container work directory if empty)
type Spec struct {
	Kind     Kind
	Path     string
	Source   string
	Target   string
	Readonly bool
	WorkDir  string
}

// Handle addresses one staged layer inside an Arena. The zero Handle never
// refers to a live layer.
type Handle uint64

// staged is what the arena keeps per handle: the spec it was built from,
// plus every mount point this layer is responsible for unwinding.
type staged struct {
	spec      Spec
	mountedAt []string
}

// Arena owns every staged layer across every composition in a process.
// Composition order never crosses an Arena boundary, so one Arena per
// containerv instance is sufficient; it is safe for concurrent use by
// multiple Contexts.
type Arena struct {
	mu     sync.Mutex
	next   uint64
	layers map[Handle]*staged
}

// NewArena returns an empty layer arena.
func NewArena() *Arena {
	return &Arena{layers: make(map[Handle]*staged)}
}

func (a *Arena) alloc(s Spec) Handle {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.next++
	h := Handle(a.next)
	a.layers[h] = &staged{spec: s}
	return h
}

func (a *Arena) get(h Handle) (*staged, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	st, ok := a.layers[h]
	return st, ok
}

func (a *Arena) recordMount(h Handle, target string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if st, ok := a.layers[h]; ok {
		st.mountedAt = append(st.mountedAt, target)
	}
}

func (a *Arena) free(h Handle) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.layers, h)
}

// Context is one container's composed rootfs: an ordered handle list (the
// teardown order is the reverse of this) plus the root of the stack. A
// Context never embeds a pointer back to its owning container.
type Context struct {
	ContainerID string
	WorkDir     string
	handles     []Handle
	root        string
}

// Compose stages layers in the fixed order spec.md requires: base rootfs
// first, then read-only package layers (staged concurrently, since they
// are mutually independent), then an overlay with a writable upper dir on
// top. HostDir layers are staged after the base and before the overlay,
// in the order given, since a later overlay must see them.
func Compose(arena *Arena, containerID string, workDir string, specs []Spec) (*Context, error) {
	if len(specs) == 0 {
		return nil, cerrors.New(cerrors.InvalidArgument, "compose", "layer list is empty")
	}
	if specs[0].Kind != BaseRootfs {
		return nil, cerrors.WrapWithDetail(cerrors.ErrMissingRootfs, cerrors.InvalidArgument, "compose", "first layer must be base-rootfs")
	}

	ctx := &Context{ContainerID: containerID, WorkDir: workDir}

	baseHandle := arena.alloc(specs[0])
	ctx.handles = append(ctx.handles, baseHandle)
	ctx.root = specs[0].Path

	var packageSpecs, hostDirSpecs []Spec
	var overlaySpec *Spec
	for i := 1; i < len(specs); i++ {
		switch specs[i].Kind {
		case Package:
			packageSpecs = append(packageSpecs, specs[i])
		case HostDir:
			hostDirSpecs = append(hostDirSpecs, specs[i])
		case Overlay:
			if overlaySpec != nil {
				return nil, cerrors.New(cerrors.InvalidArgument, "compose", "at most one overlay layer is allowed")
			}
			s := specs[i]
			overlaySpec = &s
		default:
			return nil, cerrors.New(cerrors.InvalidArgument, "compose", "layer after base-rootfs must be package, host-dir, or overlay")
		}
	}

	// Package layers are mutually independent reads of extracted package
	// trees, so stage them concurrently; errgroup waits for all of them
	// and returns the first failure. Nothing is cancelled early.
	pkgHandles := make([]Handle, len(packageSpecs))
	var g errgroup.Group
	for i, s := range packageSpecs {
		i, s := i, s
		g.Go(func() error {
			if _, err := os.Stat(s.Path); err != nil {
				return cerrors.Wrap(err, cerrors.Io, "compose")
			}
			pkgHandles[i] = arena.alloc(s)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	ctx.handles = append(ctx.handles, pkgHandles...)

	for _, s := range hostDirSpecs {
		if err := validateHostDirTarget(s.Target); err != nil {
			return nil, err
		}
		ctx.handles = append(ctx.handles, arena.alloc(s))
	}

	if overlaySpec == nil {
		s := Spec{Kind: Overlay}
		overlaySpec = &s
	}
	if overlaySpec.WorkDir == "" {
		overlaySpec.WorkDir = filepath.Join(workDir, containerID, "upper")
	}
	overlayHandle := arena.alloc(*overlaySpec)
	ctx.handles = append(ctx.handles, overlayHandle)

	return ctx, nil
}

// validateHostDirTarget rejects targets that would escape the composed
// root via "..", mirroring the teacher's bind-mount destination handling
// in linux.setupMounts but made strict rather than best-effort, since a
// host-dir layer is caller-specified and must not be a traversal vector.
func validateHostDirTarget(target string) error {
	clean := filepath.Clean(target)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return cerrors.WrapWithDetail(cerrors.ErrPathTraversal, cerrors.InvalidArgument, "compose", target)
	}
	return nil
}

// MountInNamespace replays ctx's plan inside the caller's mount namespace.
// It is idempotent: a layer already mounted at its target (same source and
// target recorded from a previous call) is skipped.
func MountInNamespace(arena *Arena, ctx *Context) error {
	for _, h := range ctx.handles {
		st, ok := arena.get(h)
		if !ok {
			continue
		}
		target, err := mountOne(ctx, st, arena, h)
		if err != nil {
			return err
		}
		if target != "" {
			ctx.root = target
		}
	}
	return nil
}

func mountOne(ctx *Context, st *staged, arena *Arena, h Handle) (string, error) {
	s := st.spec
	switch s.Kind {
	case BaseRootfs:
		abs, err := filepath.Abs(s.Path)
		if err != nil {
			return "", cerrors.Wrap(err, cerrors.Io, "mount_in_namespace")
		}
		if alreadyMounted(st, abs) {
			return abs, nil
		}
		if err := makePrivate("/"); err != nil {
			// Best-effort, matching the teacher: propagation isolation
			// failing is not fatal to composing a usable rootfs.
			_ = err
		}
		if err := syscall.Mount(abs, abs, "", MS_BIND|MS_REC, ""); err != nil {
			return "", cerrors.Wrap(cerrors.ErrRootfsSetup, cerrors.Io, "mount_in_namespace")
		}
		arena.recordMount(h, abs)
		return abs, nil

	case Package:
		target := filepath.Join(ctx.WorkDir, ctx.ContainerID, "layers", fmt.Sprintf("%d", h))
		if alreadyMounted(st, target) {
			return "", nil
		}
		if err := os.MkdirAll(target, 0755); err != nil {
			return "", cerrors.Wrap(err, cerrors.Io, "mount_in_namespace")
		}
		flags := uintptr(MS_BIND | MS_RDONLY)
		if err := syscall.Mount(s.Path, target, "", MS_BIND, ""); err != nil {
			return "", cerrors.Wrap(cerrors.ErrMountFailed, cerrors.Io, "mount_in_namespace")
		}
		if err := syscall.Mount(s.Path, target, "", flags|MS_REMOUNT, ""); err != nil {
			return "", cerrors.Wrap(cerrors.ErrMountFailed, cerrors.Io, "mount_in_namespace")
		}
		arena.recordMount(h, target)
		return "", nil

	case HostDir:
		target := filepath.Join(ctx.root, s.Target)
		if alreadyMounted(st, target) {
			return "", nil
		}
		info, err := os.Stat(s.Source)
		if err != nil {
			return "", cerrors.Wrap(err, cerrors.Io, "mount_in_namespace")
		}
		if info.IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return "", cerrors.Wrap(err, cerrors.Io, "mount_in_namespace")
			}
		} else {
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return "", cerrors.Wrap(err, cerrors.Io, "mount_in_namespace")
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY, 0644)
			if err != nil {
				return "", cerrors.Wrap(err, cerrors.Io, "mount_in_namespace")
			}
			f.Close()
		}
		if err := syscall.Mount(s.Source, target, "", MS_BIND|MS_REC, ""); err != nil {
			return "", cerrors.Wrap(cerrors.ErrMountFailed, cerrors.Io, "mount_in_namespace")
		}
		if s.Readonly {
			if err := syscall.Mount(s.Source, target, "", MS_BIND|MS_REMOUNT|MS_RDONLY|MS_REC, ""); err != nil {
				return "", cerrors.Wrap(cerrors.ErrMountFailed, cerrors.Io, "mount_in_namespace")
			}
		}
		arena.recordMount(h, target)
		return "", nil

	case Overlay:
		work := s.WorkDir
		upper := filepath.Join(work, "upper")
		workdir := filepath.Join(work, "work")
		merged := filepath.Join(work, "merged")
		for _, d := range []string{upper, workdir, merged} {
			if err := os.MkdirAll(d, 0755); err != nil {
				return "", cerrors.Wrap(err, cerrors.Io, "mount_in_namespace")
			}
		}
		if alreadyMounted(st, merged) {
			return merged, nil
		}
		// Package layers are mounted read-only at synthetic paths; list
		// them above the base (later layers on top) so the merged view
		// contains them.
		lower := ctx.root
		for _, ph := range ctx.handles {
			pst, ok := arena.get(ph)
			if !ok || pst.spec.Kind != Package {
				continue
			}
			for _, m := range pst.mountedAt {
				lower = m + ":" + lower
			}
		}
		opts := fmt.Sprintf("lowerdir=%s,upperdir=%s,workdir=%s", lower, upper, workdir)
		if err := syscall.Mount("overlay", merged, "overlay", 0, opts); err != nil {
			return "", cerrors.Wrap(cerrors.ErrMountFailed, cerrors.Io, "mount_in_namespace")
		}
		arena.recordMount(h, merged)
		return merged, nil
	}
	return "", nil
}

func alreadyMounted(st *staged, target string) bool {
	for _, m := range st.mountedAt {
		if m == target {
			return true
		}
	}
	return false
}

func makePrivate(path string) error {
	return syscall.Mount("", path, "", MS_REC|MS_PRIVATE, "")
}

// RootfsPath returns the current top of the composed stack: the overlay's
// merged directory once mounted, or the base rootfs before composition.
func RootfsPath(ctx *Context) string {
	return ctx.root
}

// Destroy unmounts every layer ctx owns in reverse order, continuing past
// individual failures per spec.md §4.2 ("log-and-continue"), and returns
// the first error encountered (if any) after every layer has been tried.
func Destroy(arena *Arena, ctx *Context) error {
	var firstErr error
	for i := len(ctx.handles) - 1; i >= 0; i-- {
		h := ctx.handles[i]
		st, ok := arena.get(h)
		if !ok {
			continue
		}
		for j := len(st.mountedAt) - 1; j >= 0; j-- {
			target := st.mountedAt[j]
			if st.spec.Kind == BaseRootfs {
				// The base rootfs bind-mount-to-self is never unmounted
				// here: it is the caller's directory, only made into a
				// mount point so pivot_root has a target.
				continue
			}
			if err := syscall.Unmount(target, syscall.MNT_DETACH); err != nil && firstErr == nil {
				firstErr = cerrors.Wrap(err, cerrors.Io, "destroy")
			}
		}
		arena.free(h)
	}
	ctx.handles = nil
	return firstErr
}
