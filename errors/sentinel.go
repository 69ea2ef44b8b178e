// Package errors provides predefined sentinel errors for common failure cases
// across the pattern compiler, container lifecycle, and BPF manager.
package errors

// Pattern / profile compiler errors (protecc).
var (
	// ErrEmptyPatternSet indicates Compile was called with zero patterns.
	ErrEmptyPatternSet = &ContainerError{
		Kind:   InvalidArgument,
		Detail: "pattern set is empty",
	}

	// ErrUnterminatedCharset indicates a "[..." charset was never closed.
	ErrUnterminatedCharset = &ContainerError{
		Kind:   InvalidPattern,
		Detail: "unterminated charset expression",
	}

	// ErrInvalidQuantifier indicates a quantifier followed a token that
	// cannot carry one (e.g. a bare quantifier at the start of a pattern).
	ErrInvalidQuantifier = &ContainerError{
		Kind:   InvalidPattern,
		Detail: "quantifier has no preceding token",
	}

	// ErrStateCapExceeded indicates DFA determinization exceeded max_states.
	ErrStateCapExceeded = &ContainerError{
		Kind:   CompileFailed,
		Detail: "determinization exceeded state cap",
	}

	// ErrTooManyEquivalenceClasses indicates byte equivalence classing
	// produced more than the configured class limit.
	ErrTooManyEquivalenceClasses = &ContainerError{
		Kind:   CompileFailed,
		Detail: "too many byte equivalence classes",
	}

	// ErrBadMagic indicates a profile buffer's magic bytes did not match
	// any known format ("PROT", "PRNT", "PRMT").
	ErrBadMagic = &ContainerError{
		Kind:   InvalidProfile,
		Detail: "unrecognized profile magic",
	}

	// ErrUnsupportedVersion indicates a profile's major version is newer
	// than this build understands.
	ErrUnsupportedVersion = &ContainerError{
		Kind:   InvalidProfile,
		Detail: "unsupported profile version",
	}

	// ErrProfileTruncated indicates a profile buffer ended before a
	// declared array or string blob was fully present.
	ErrProfileTruncated = &ContainerError{
		Kind:   InvalidProfile,
		Detail: "profile buffer truncated",
	}

	// ErrOffsetOutOfBounds indicates a string/node/edge offset pointed
	// past the declared size of its backing array.
	ErrOffsetOutOfBounds = &ContainerError{
		Kind:   InvalidProfile,
		Detail: "offset out of bounds",
	}

	// ErrRuleCountExceedsVerifierCap indicates a profile's rule_count is
	// larger than the BPF verifier can unroll against.
	ErrRuleCountExceedsVerifierCap = &ContainerError{
		Kind:   InvalidProfile,
		Detail: "rule count exceeds verifier cap",
	}
)

// Container lifecycle errors (containerv).
var (
	// ErrContainerNotFound indicates the container does not exist.
	ErrContainerNotFound = &ContainerError{
		Kind:   NotFound,
		Detail: "container not found",
	}

	// ErrContainerExists indicates the container already exists.
	ErrContainerExists = &ContainerError{
		Kind:   InvalidArgument,
		Detail: "container already exists",
	}

	// ErrContainerNotRunning indicates the container is not in Running state.
	ErrContainerNotRunning = &ContainerError{
		Kind:   Busy,
		Detail: "container is not running",
	}

	// ErrContainerDestroying indicates an operation was attempted while
	// the container is mid-destroy.
	ErrContainerDestroying = &ContainerError{
		Kind:   Busy,
		Detail: "container is being destroyed",
	}

	// ErrInvalidContainerID indicates the container ID failed validation.
	ErrInvalidContainerID = &ContainerError{
		Kind:   InvalidArgument,
		Detail: "invalid container ID",
	}

	// ErrEmptyContainerID indicates the container ID is empty.
	ErrEmptyContainerID = &ContainerError{
		Kind:   InvalidArgument,
		Detail: "container ID cannot be empty",
	}

	// ErrNoInitProcess indicates there is no init process to signal or reap.
	ErrNoInitProcess = &ContainerError{
		Kind:   Io,
		Detail: "no init process",
	}

	// ErrInvalidCapabilities indicates a Capabilities bitset requested a
	// combination the lifecycle cannot satisfy (e.g. network without ipc).
	ErrInvalidCapabilities = &ContainerError{
		Kind:   InvalidArgument,
		Detail: "invalid capability combination",
	}

	// ErrMissingRootfs indicates the base layer's rootfs path is missing.
	ErrMissingRootfs = &ContainerError{
		Kind:   InvalidArgument,
		Detail: "rootfs not found",
	}

	// ErrLayerCycle indicates the layer composer detected a cyclic
	// dependency while ordering layers for mount.
	ErrLayerCycle = &ContainerError{
		Kind:   InvalidArgument,
		Detail: "cyclic layer dependency",
	}
)

// Security-related errors.
var (
	// ErrPathTraversal indicates a path traversal attempt was detected in
	// a host-dir bind mount target.
	ErrPathTraversal = &ContainerError{
		Kind:   InvalidArgument,
		Detail: "path traversal detected",
	}

	// ErrSeccompFilter indicates a seccomp filter error.
	ErrSeccompFilter = &ContainerError{
		Kind:   Io,
		Detail: "failed to apply seccomp filter",
	}

	// ErrCapabilityDrop indicates a capability drop error.
	ErrCapabilityDrop = &ContainerError{
		Kind:   Io,
		Detail: "failed to drop capabilities",
	}

	// ErrCapabilityUnknown indicates an unknown capability was specified.
	ErrCapabilityUnknown = &ContainerError{
		Kind:   InvalidArgument,
		Detail: "unknown capability",
	}
)

// Namespace errors.
var (
	// ErrNamespaceSetup indicates a namespace setup error.
	ErrNamespaceSetup = &ContainerError{
		Kind:   Io,
		Detail: "failed to setup namespace",
	}

	// ErrNamespaceJoin indicates a namespace join error.
	ErrNamespaceJoin = &ContainerError{
		Kind:   Io,
		Detail: "failed to join namespace",
	}
)

// Cgroup errors.
var (
	// ErrCgroupSetup indicates a cgroup setup error.
	ErrCgroupSetup = &ContainerError{
		Kind:   Io,
		Detail: "failed to setup cgroup",
	}

	// ErrCgroupNotFound indicates the cgroup was not found.
	ErrCgroupNotFound = &ContainerError{
		Kind:   NotFound,
		Detail: "cgroup not found",
	}

	// ErrCgroupResource indicates a cgroup resource limit error.
	ErrCgroupResource = &ContainerError{
		Kind:   InvalidArgument,
		Detail: "failed to apply resource limits",
	}
)

// Device errors.
var (
	// ErrDeviceCreate indicates a device creation error.
	ErrDeviceCreate = &ContainerError{
		Kind:   Io,
		Detail: "failed to create device",
	}

	// ErrDeviceNotAllowed indicates a device is not in the whitelist.
	ErrDeviceNotAllowed = &ContainerError{
		Kind:   InvalidArgument,
		Detail: "device not allowed",
	}

	// ErrInvalidDevicePath indicates an invalid device path.
	ErrInvalidDevicePath = &ContainerError{
		Kind:   InvalidArgument,
		Detail: "invalid device path",
	}
)

// Rootfs/layer errors.
var (
	// ErrRootfsSetup indicates a rootfs setup error.
	ErrRootfsSetup = &ContainerError{
		Kind:   Io,
		Detail: "failed to setup rootfs",
	}

	// ErrPivotRoot indicates a pivot_root error.
	ErrPivotRoot = &ContainerError{
		Kind:   Io,
		Detail: "failed to pivot_root",
	}

	// ErrMountFailed indicates a mount error.
	ErrMountFailed = &ContainerError{
		Kind:   Io,
		Detail: "failed to mount",
	}
)

// Console/PTY errors.
var (
	// ErrConsoleSetup indicates a console setup error.
	ErrConsoleSetup = &ContainerError{
		Kind:   Io,
		Detail: "failed to setup console",
	}

	// ErrInvalidSocketPath indicates an invalid socket path.
	ErrInvalidSocketPath = &ContainerError{
		Kind:   InvalidArgument,
		Detail: "invalid socket path",
	}
)

// Process errors.
var (
	// ErrProcessStart indicates a process start error.
	ErrProcessStart = &ContainerError{
		Kind:   Io,
		Detail: "failed to start process",
	}

	// ErrProcessNotFound indicates the process was not found.
	ErrProcessNotFound = &ContainerError{
		Kind:   NotFound,
		Detail: "process not found",
	}

	// ErrSignalFailed indicates a signal delivery error.
	ErrSignalFailed = &ContainerError{
		Kind:   Io,
		Detail: "failed to send signal",
	}
)

// BPF manager errors (bpf-manager).
var (
	// ErrBPFNotAvailable indicates the kernel lacks BPF-LSM support;
	// Initialize returns this wrapped with available=false rather than
	// failing callers outright.
	ErrBPFNotAvailable = &ContainerError{
		Kind:   NotSupported,
		Detail: "BPF-LSM not available on this kernel",
	}

	// ErrPinFailed indicates a program or map could not be pinned under
	// the BPF filesystem.
	ErrPinFailed = &ContainerError{
		Kind:   Io,
		Detail: "failed to pin BPF object",
	}

	// ErrMapCapacityExceeded indicates the cgroup-id policy map is full.
	ErrMapCapacityExceeded = &ContainerError{
		Kind:   OutOfMemory,
		Detail: "policy map capacity exceeded",
	}

	// ErrPolicyBusy indicates populate/cleanup was attempted while
	// another populate/cleanup for the same cgroup is in flight.
	ErrPolicyBusy = &ContainerError{
		Kind:   Busy,
		Detail: "policy map operation already in flight",
	}

	// ErrSanityCheckFailed indicates a pinned object is missing or whose
	// type does not match what populate_policy expects.
	ErrSanityCheckFailed = &ContainerError{
		Kind:   Io,
		Detail: "BPF pin sanity check failed",
	}
)
