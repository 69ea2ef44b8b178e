package bpfmgr

import (
	"github.com/cilium/ebpf"

	cerrors "github.com/chef-project/containerv/errors"
)

// FileLoader reads a compiled LSM object (produced by bpf2go or clang
// directly) off disk. It is the Loader Initialize uses outside of tests,
// where a fake in-memory CollectionSpec stands in instead.
type FileLoader struct {
	// Path is the object file's location, e.g.
	// /usr/lib/cvd/cvd_file_open.o.
	Path string
}

// Load implements Loader.
func (f FileLoader) Load() (*ebpf.CollectionSpec, error) {
	spec, err := ebpf.LoadCollectionSpec(f.Path)
	if err != nil {
		return nil, cerrors.Wrap(err, cerrors.Io, "load bpf object "+f.Path)
	}
	return spec, nil
}
