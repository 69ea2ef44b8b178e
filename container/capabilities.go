package container

import (
	"syscall"

	cerrors "github.com/chef-project/containerv/errors"
	"github.com/chef-project/containerv/linux"
	"github.com/chef-project/containerv/spec"
)

// Capabilities is the bitset spec.md §3 attaches to a Container: which
// namespace classes a container's init process actually gets. It gates
// the fixed namespace set the teacher's linux.BuildSysProcAttr always
// requested, so a container can, for example, share the host network
// namespace (no Network capability) while still isolating mounts and
// PIDs.
type Capabilities uint8

const (
	CapNetwork Capabilities = 1 << iota
	CapProcessControl
	CapIPC
	CapFilesystem
	CapCgroups
	CapUsers
)

// AllCapabilities is every bit set, so create requests every namespace
// class, including the cgroup namespace that CapCgroups adds.
const AllCapabilities = CapNetwork | CapProcessControl | CapIPC | CapFilesystem | CapCgroups | CapUsers

// Has reports whether c includes every bit in want.
func (c Capabilities) Has(want Capabilities) bool {
	return c&want == want
}

// String lists the set capability names, comma-separated, for logging.
func (c Capabilities) String() string {
	names := []struct {
		bit  Capabilities
		name string
	}{
		{CapNetwork, "network"},
		{CapProcessControl, "process-control"},
		{CapIPC, "ipc"},
		{CapFilesystem, "filesystem"},
		{CapCgroups, "cgroups"},
		{CapUsers, "users"},
	}
	out := ""
	for _, n := range names {
		if c.Has(n.bit) {
			if out != "" {
				out += ","
			}
			out += n.name
		}
	}
	if out == "" {
		return "none"
	}
	return out
}

// ValidateCapabilities rejects combinations create cannot satisfy: a user
// namespace with no filesystem isolation has nowhere to remount itself
// read-only or apply masked paths, so Users without Filesystem is invalid.
func ValidateCapabilities(c Capabilities) error {
	if c.Has(CapUsers) && !c.Has(CapFilesystem) {
		return cerrors.WrapWithDetail(cerrors.ErrInvalidCapabilities, cerrors.InvalidArgument,
			"validate_capabilities", "users capability requires filesystem capability")
	}
	return nil
}

// sysProcAttrForCapabilities builds the SysProcAttr a container's init
// process should get, generalizing linux.BuildSysProcAttr's always-every-
// namespace behavior: a namespace class is only requested when caps sets
// its bit, independent of whatever namespace list happens to be present
// in the OCI spec. The UTS (hostname) namespace is always requested,
// since hostname isolation has no corresponding capability bit in
// spec.md §3 and carries negligible cost.
func sysProcAttrForCapabilities(s *spec.Spec, caps Capabilities) (*syscall.SysProcAttr, error) {
	if err := ValidateCapabilities(caps); err != nil {
		return nil, err
	}

	var flags uintptr = linux.CLONE_NEWUTS
	if caps.Has(CapFilesystem) {
		flags |= linux.CLONE_NEWNS
	}
	if caps.Has(CapProcessControl) {
		flags |= linux.CLONE_NEWPID
	}
	if caps.Has(CapIPC) {
		flags |= linux.CLONE_NEWIPC
	}
	if caps.Has(CapNetwork) {
		flags |= linux.CLONE_NEWNET
	}
	if caps.Has(CapCgroups) {
		flags |= linux.CLONE_NEWCGROUP
	}

	attr := &syscall.SysProcAttr{
		Cloneflags: flags,
		Setsid:     true,
	}

	if caps.Has(CapUsers) {
		flags |= linux.CLONE_NEWUSER
		attr.Cloneflags = flags
		if s.Linux != nil {
			attr.UidMappings = buildIDMappingsForCapabilities(s.Linux.UIDMappings)
			attr.GidMappings = buildIDMappingsForCapabilities(s.Linux.GIDMappings)
		}
		attr.GidMappingsEnableSetgroups = false
	} else if caps.Has(CapFilesystem) {
		// Matches the teacher's own non-user-namespace case: Unshareflags
		// is only safe to set without CLONE_NEWUSER already in play.
		attr.Unshareflags = syscall.CLONE_NEWNS
	}

	return attr, nil
}

func buildIDMappingsForCapabilities(mappings []spec.LinuxIDMapping) []syscall.SysProcIDMap {
	result := make([]syscall.SysProcIDMap, len(mappings))
	for i, m := range mappings {
		result[i] = syscall.SysProcIDMap{
			ContainerID: int(m.ContainerID),
			HostID:      int(m.HostID),
			Size:        int(m.Size),
		}
	}
	return result
}
