// Package bpfmgr is the single owner of BPF-LSM programs and the
// cgroup-keyed policy map that enforces protecc profiles in-kernel. It
// pins its map and program link under /sys/fs/bpf/cvd/ so policy survives
// the manager process restarting, and serializes populate/cleanup through
// one exclusive lock per spec.md §5.
package bpfmgr

import (
	"errors"
	"sync"
	"syscall"
	"time"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	"github.com/cilium/ebpf/ringbuf"
	"golang.org/x/sync/singleflight"

	cerrors "github.com/chef-project/containerv/errors"
)

// PinRoot is where the manager pins its map and program link.
const PinRoot = "/sys/fs/bpf/cvd"

const (
	policyMapName   = "policy_map"
	eventMapName    = "events"
	lsmProgramName  = "cvd_file_open"
	policyMapPinned = "policy_map"
	linkPinned      = "lsm_link"
)

// PolicyKey is the 128-bit composite key of the in-kernel policy map:
// cgroup_id identifies the container, dev/ino identify the resolved path.
type PolicyKey struct {
	CgroupID uint64
	Dev      uint64
	Ino      uint64
}

// Action mirrors profile.Action without importing the profile package,
// since bpf-manager only needs the raw byte the kernel matcher consumes.
type Action uint8

const (
	ActionAllow Action = iota
	ActionDeny
)

// PolicyValue is the in-kernel map value: a permission mask plus action.
type PolicyValue struct {
	Mask   uint8
	Action Action
}

// Metrics are the counters spec.md §4.4 requires the manager to report.
type Metrics struct {
	PopulateOps       uint64
	FailedPopulateOps uint64
	PolicyEntryCount  uint64
	PopulateTimeUs    uint64
	CleanupOps        uint64
	CleanupTimeUs     uint64
}

// Loader produces the compiled BPF object the manager should load. It is
// an interface rather than an embedded object file so the manager can be
// built and tested without a real LSM skeleton on disk.
type Loader interface {
	Load() (*ebpf.CollectionSpec, error)
}

// Resolver maps an allowed/denied path to the (dev, ino) pair the kernel
// matches against, scoped to a container's mount view. Implemented by the
// resolver package; declared here to avoid a dependency cycle.
type Resolver interface {
	Resolve(rootfsPath, path string) (dev, ino uint64, err error)
}

// Manager owns the loaded collection, pinned map and link, and per-cgroup
// accounting. It is constructed explicitly and threaded through calls —
// spec.md §9 rules out a process-wide singleton.
type Manager struct {
	mu        sync.Mutex
	sf        singleflight.Group
	coll      *ebpf.Collection
	policyMap *ebpf.Map
	lsmLink   link.Link
	available bool
	metrics   Metrics

	// owned tracks which cgroup ids own which keys, so cleanup can delete
	// exactly this container's entries without scanning kernel-side state
	// that might already be gone.
	owned map[uint64]map[PolicyKey]struct{}
}

// Initialize loads the compiled LSM skeleton via loader and pins the
// policy map and program link under PinRoot. If the kernel lacks BPF-LSM,
// Initialize returns (manager, available=false, nil) rather than an
// error — the caller decides whether to fall back to a less expressive
// enforcement mechanism.
func Initialize(loader Loader) (*Manager, bool, error) {
	spec, err := loader.Load()
	if err != nil {
		return nil, false, cerrors.Wrap(err, cerrors.Io, "initialize")
	}

	coll, err := ebpf.NewCollection(spec)
	if err != nil {
		return nil, false, cerrors.Wrap(err, cerrors.Io, "initialize")
	}

	m := &Manager{
		coll:  coll,
		owned: make(map[uint64]map[PolicyKey]struct{}),
	}

	policyMap, ok := coll.Maps[policyMapName]
	if !ok {
		coll.Close()
		return nil, false, cerrors.New(cerrors.NotSupported, "initialize", "policy map missing from collection")
	}
	m.policyMap = policyMap

	prog, ok := coll.Programs[lsmProgramName]
	if !ok {
		coll.Close()
		return nil, false, cerrors.New(cerrors.NotSupported, "initialize", "lsm program missing from collection")
	}

	lsmLink, err := link.AttachLSM(link.LSMOptions{Program: prog})
	if err != nil {
		// Kernel lacks BPF-LSM support (or CONFIG_BPF_LSM is off): this
		// is not a failure the caller must abort on.
		return m, false, nil
	}
	m.lsmLink = lsmLink
	m.available = true

	if err := policyMap.Pin(PinRoot + "/" + policyMapPinned); err != nil {
		m.Shutdown()
		return nil, false, cerrors.Wrap(err, cerrors.Io, "initialize")
	}
	if err := lsmLink.Pin(PinRoot + "/" + linkPinned); err != nil {
		m.Shutdown()
		return nil, false, cerrors.Wrap(err, cerrors.Io, "initialize")
	}

	return m, true, nil
}

// Available reports whether BPF-LSM enforcement is actually active.
func (m *Manager) Available() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.available
}

// PopulatePolicy resolves every rule's path to a (dev, ino) tuple via
// resolver and inserts (cgroup_id, dev, ino) -> (mask, action) entries.
// Concurrent calls for the same containerID collapse into one via
// singleflight before touching the lock.
func (m *Manager) PopulatePolicy(containerID string, cgroupID uint64, rootfsPath string, resolver Resolver, rules map[string]PolicyValue) error {
	_, err, _ := m.sf.Do(containerID, func() (interface{}, error) {
		return nil, m.populateLocked(cgroupID, rootfsPath, resolver, rules)
	})
	return err
}

func (m *Manager) populateLocked(cgroupID uint64, rootfsPath string, resolver Resolver, rules map[string]PolicyValue) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	start := time.Now()
	if m.owned[cgroupID] == nil {
		m.owned[cgroupID] = make(map[PolicyKey]struct{})
	}

	var inserted int
	for path, value := range rules {
		dev, ino, err := resolver.Resolve(rootfsPath, path)
		if err != nil {
			m.metrics.FailedPopulateOps++
			continue
		}
		key := PolicyKey{CgroupID: cgroupID, Dev: dev, Ino: ino}
		if err := m.policyMap.Put(mapKeyBytes(key), mapValueBytes(value)); err != nil {
			if isMapFullError(err) {
				m.metrics.PopulateOps++
				m.metrics.PopulateTimeUs += uint64(time.Since(start).Microseconds())
				return cerrors.Wrap(cerrors.ErrMapCapacityExceeded, cerrors.OutOfMemory, "populate_policy")
			}
			m.metrics.FailedPopulateOps++
			continue
		}
		m.owned[cgroupID][key] = struct{}{}
		inserted++
	}

	m.metrics.PopulateOps++
	m.metrics.PolicyEntryCount += uint64(inserted)
	m.metrics.PopulateTimeUs += uint64(time.Since(start).Microseconds())
	return nil
}

// CleanupPolicy deletes every map entry owned by cgroupID.
// Idempotent: calling it twice, or for an id that was never populated, is
// not an error.
func (m *Manager) CleanupPolicy(cgroupID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	start := time.Now()
	keys := m.owned[cgroupID]
	delete(m.owned, cgroupID)

	for key := range keys {
		if err := m.policyMap.Delete(mapKeyBytes(key)); err != nil && err != ebpf.ErrKeyNotExist {
			return cerrors.Wrap(err, cerrors.Io, "cleanup_policy")
		}
	}

	m.metrics.CleanupOps++
	m.metrics.PolicyEntryCount -= uint64(len(keys))
	m.metrics.CleanupTimeUs += uint64(time.Since(start).Microseconds())
	return nil
}

// SanityCheckPins confirms both the pinned map and pinned link are
// present, distinguishing "initialized" from "enforcement currently
// active".
func (m *Manager) SanityCheckPins() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.policyMap == nil {
		return cerrors.Wrap(cerrors.ErrSanityCheckFailed, cerrors.NotSupported, "sanity_check_pins")
	}
	if !m.available || m.lsmLink == nil {
		return cerrors.WrapWithDetail(cerrors.ErrSanityCheckFailed, cerrors.NotSupported,
			"sanity_check_pins", "lsm link not attached")
	}
	return nil
}

// Metrics returns a snapshot of the manager's counters.
func (m *Manager) Metrics() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.metrics
}

// Shutdown unpins, releases, and zeroes counters.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lsmLink != nil {
		m.lsmLink.Unpin()
		m.lsmLink.Close()
		m.lsmLink = nil
	}
	if m.policyMap != nil {
		m.policyMap.Unpin()
		m.policyMap = nil
	}
	if m.coll != nil {
		m.coll.Close()
		m.coll = nil
	}
	m.available = false
	m.metrics = Metrics{}
	m.owned = make(map[uint64]map[PolicyKey]struct{})
	return nil
}

// ReadEvents drains the manager's ring buffer, invoking handle for each
// record. It blocks until a read from the ring buffer fails and then
// returns that error; it has no other stop condition.
func (m *Manager) ReadEvents(handle func([]byte)) error {
	m.mu.Lock()
	eventsMap, ok := m.coll.Maps[eventMapName]
	m.mu.Unlock()
	if !ok {
		return cerrors.New(cerrors.NotSupported, "read_events", "event map not present")
	}

	rd, err := ringbuf.NewReader(eventsMap)
	if err != nil {
		return cerrors.Wrap(err, cerrors.Io, "read_events")
	}
	defer rd.Close()

	for {
		record, err := rd.Read()
		if err != nil {
			return cerrors.Wrap(err, cerrors.Io, "read_events")
		}
		handle(record.RawSample)
	}
}

func isMapFullError(err error) bool {
	return errors.Is(err, syscall.E2BIG) || errors.Is(err, syscall.ENOSPC)
}

func mapKeyBytes(k PolicyKey) []byte {
	b := make([]byte, 24)
	putUint64(b[0:8], k.CgroupID)
	putUint64(b[8:16], k.Dev)
	putUint64(b[16:24], k.Ino)
	return b
}

func mapValueBytes(v PolicyValue) []byte {
	return []byte{v.Mask, byte(v.Action)}
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}
