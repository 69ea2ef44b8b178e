// Package resolver translates container-view path globs into (dev, ino)
// tuples keyed into bpf-manager's policy map. Expand walks every directory
// under the rootfs depth-first, not breadth-first, down to a depth cap, and
// checks each relative path against the glob compiled by the pattern
// package; the walk is the same whether or not the glob has a "**"
// component. Each symlink path is followed at most once; a loop through
// symlinked directories ends at the depth cap.
package resolver

import (
	"os"
	"path/filepath"
	"strings"
	"syscall"

	cerrors "github.com/chef-project/containerv/errors"
	"github.com/chef-project/containerv/pattern"
)

// Options tunes the walk. MaxDepth bounds how many directory levels below
// rootfs the walk descends, whatever the glob, so a glob can never trigger
// an unbounded filesystem walk.
type Options struct {
	MaxDepth int
}

// DefaultOptions returns the resolver's default tuning.
func DefaultOptions() Options {
	return Options{MaxDepth: 64}
}

// Match is one concrete filesystem entry a glob expanded to.
type Match struct {
	// Path is relative to rootfs, container-view.
	Path string
	Dev  uint64
	Ino  uint64
}

// Expand walks rootfs looking for every entry that matches glob, honoring
// opts.MaxDepth for recursive descent. glob is always interpreted
// relative to rootfs; a leading "/" in glob is stripped.
func Expand(rootfs, glob string, opts Options) ([]Match, error) {
	if opts.MaxDepth <= 0 {
		opts = DefaultOptions()
	}

	profile, err := pattern.Compile([]pattern.Rule{{Glob: strings.TrimPrefix(glob, "/"), Perms: pattern.PermRead}}, pattern.DefaultConfig())
	if err != nil {
		return nil, err
	}

	var matches []Match
	seenSymlinks := make(map[string]bool)

	var walk func(dir string, depth int) error
	walk = func(dir string, depth int) error {
		if depth > opts.MaxDepth {
			return nil
		}
		entries, err := os.ReadDir(filepath.Join(rootfs, dir))
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return cerrors.Wrap(err, cerrors.Io, "resolve")
		}

		for _, entry := range entries {
			rel := filepath.Join(dir, entry.Name())
			full := filepath.Join(rootfs, rel)

			info, err := followOnce(full, seenSymlinks)
			if err != nil {
				continue
			}

			if pattern.Match(profile, rel, pattern.PermRead) {
				dev, ino, err := statDevIno(full)
				if err == nil {
					matches = append(matches, Match{Path: rel, Dev: dev, Ino: ino})
				}
			}

			if info.IsDir() {
				if err := walk(rel, depth+1); err != nil {
					return err
				}
			}
		}
		return nil
	}

	if err := walk("", 0); err != nil {
		return nil, err
	}
	return matches, nil
}

// followOnce stats path, following it to its final target when it is a
// symlink (os.Stat resolves the whole chain). A symlink path already
// recorded in seen is reported as a loop; symlinked directories are still
// descended into, so the walk's depth cap is what ends a symlink loop.
func followOnce(path string, seen map[string]bool) (os.FileInfo, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return nil, err
	}
	if info.Mode()&os.ModeSymlink == 0 {
		return info, nil
	}
	if seen[path] {
		return nil, cerrors.New(cerrors.Io, "resolve", "symlink loop")
	}
	seen[path] = true
	return os.Stat(path)
}

func statDevIno(path string) (dev, ino uint64, err error) {
	var st syscall.Stat_t
	if err := syscall.Stat(path, &st); err != nil {
		return 0, 0, cerrors.Wrap(err, cerrors.Io, "resolve")
	}
	return uint64(st.Dev), st.Ino, nil
}

// Single resolves one concrete (non-glob) container-view path directly,
// without a filesystem walk. It satisfies bpfmgr.Resolver.
type Single struct{}

// Resolve stats rootfsPath/path and returns its (dev, ino) pair.
func (Single) Resolve(rootfsPath, path string) (dev, ino uint64, err error) {
	return statDevIno(filepath.Join(rootfsPath, path))
}
