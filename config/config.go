// Package config resolves the filesystem layout and runtime settings shared
// by containerv, protecc and bpf-manager: state root, package/mount roots,
// and the BPF pin root.
package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Filesystem layout constants.
const (
	// DefaultStateRoot is where container state directories live.
	DefaultStateRoot = "/run/containerv"

	// PackRoot is where installed package layers are cached.
	PackRoot = "/var/chef/packs"

	// MountRootPrefix is the parent directory for a container's composed
	// mount point, named "<publisher>-<package>" underneath it.
	MountRootPrefix = "/var/chef/mnt"

	// BinRoot holds generated command wrappers for installed applications.
	BinRoot = "/chef/bin"

	// ShareRoot holds shared read-only assets (icons, desktop files).
	ShareRoot = "/usr/share/chef"

	// BPFPinRoot is where bpf-manager pins its programs and maps.
	BPFPinRoot = "/sys/fs/bpf/cvd"
)

// EnvHome, when set, overrides the root directory under which the above
// layout is resolved (used by tests and non-root development installs).
const EnvHome = "CHEF_HOME"

// Home returns the effective root directory, honoring CHEF_HOME.
func Home() string {
	if h := os.Getenv(EnvHome); h != "" {
		return h
	}
	return "/"
}

// Resolve joins a layout constant against Home(), so tests can run the
// whole stack rooted under a temp directory.
func Resolve(path string) string {
	home := Home()
	if home == "/" {
		return path
	}
	return filepath.Join(home, path)
}

// Runtime holds the on-disk runtime configuration file
// ($CHEF_HOME/etc/containerv.yaml).
type Runtime struct {
	StateRoot    string `yaml:"state_root"`
	BPFPinRoot   string `yaml:"bpf_pin_root"`
	CgroupDriver string `yaml:"cgroup_driver"` // "cgroupfs" or "systemd"
	LogFormat    string `yaml:"log_format"`
	LogLevel     string `yaml:"log_level"`
}

// DefaultRuntime returns a Runtime populated with the package defaults.
func DefaultRuntime() Runtime {
	return Runtime{
		StateRoot:    DefaultStateRoot,
		BPFPinRoot:   BPFPinRoot,
		CgroupDriver: "cgroupfs",
		LogFormat:    "text",
		LogLevel:     "info",
	}
}

// LoadRuntime reads and parses a runtime config file, filling in any field
// left zero-valued with the package default.
func LoadRuntime(path string) (Runtime, error) {
	cfg := DefaultRuntime()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	var onDisk Runtime
	if err := yaml.Unmarshal(data, &onDisk); err != nil {
		return cfg, err
	}

	if onDisk.StateRoot != "" {
		cfg.StateRoot = onDisk.StateRoot
	}
	if onDisk.BPFPinRoot != "" {
		cfg.BPFPinRoot = onDisk.BPFPinRoot
	}
	if onDisk.CgroupDriver != "" {
		cfg.CgroupDriver = onDisk.CgroupDriver
	}
	if onDisk.LogFormat != "" {
		cfg.LogFormat = onDisk.LogFormat
	}
	if onDisk.LogLevel != "" {
		cfg.LogLevel = onDisk.LogLevel
	}
	return cfg, nil
}
