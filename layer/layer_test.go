package layer

import (
	"testing"

	cerrors "github.com/chef-project/containerv/errors"
)

func TestCompose_RejectsEmptyLayerList(t *testing.T) {
	arena := NewArena()
	_, err := Compose(arena, "c1", t.TempDir(), nil)
	if !cerrors.IsKind(err, cerrors.InvalidArgument) {
		t.Fatalf("got %v, want InvalidArgument", err)
	}
}

func TestCompose_RejectsNonRootfsFirstLayer(t *testing.T) {
	arena := NewArena()
	_, err := Compose(arena, "c1", t.TempDir(), []Spec{{Kind: HostDir, Source: "/tmp", Target: "x"}})
	if !cerrors.IsKind(err, cerrors.InvalidArgument) {
		t.Fatalf("got %v, want InvalidArgument", err)
	}
}

func TestCompose_RejectsMultipleOverlays(t *testing.T) {
	arena := NewArena()
	base := t.TempDir()
	_, err := Compose(arena, "c1", t.TempDir(), []Spec{
		{Kind: BaseRootfs, Path: base},
		{Kind: Overlay},
		{Kind: Overlay},
	})
	if !cerrors.IsKind(err, cerrors.InvalidArgument) {
		t.Fatalf("got %v, want InvalidArgument", err)
	}
}

func TestCompose_RejectsMissingPackagePath(t *testing.T) {
	arena := NewArena()
	base := t.TempDir()
	_, err := Compose(arena, "c1", t.TempDir(), []Spec{
		{Kind: BaseRootfs, Path: base},
		{Kind: Package, Path: "/nonexistent/path/does/not/exist"},
	})
	if !cerrors.IsKind(err, cerrors.Io) {
		t.Fatalf("got %v, want Io", err)
	}
}

func TestCompose_RejectsHostDirTraversal(t *testing.T) {
	arena := NewArena()
	base := t.TempDir()
	_, err := Compose(arena, "c1", t.TempDir(), []Spec{
		{Kind: BaseRootfs, Path: base},
		{Kind: HostDir, Source: "/tmp", Target: "../../etc"},
	})
	if err == nil {
		t.Fatal("expected path traversal to be rejected")
	}
	if !cerrors.Is(err, cerrors.ErrPathTraversal) {
		t.Fatalf("got %v, want ErrPathTraversal", err)
	}
}

func TestCompose_OrdersLayersBaseThenPackagesThenHostDirThenOverlay(t *testing.T) {
	arena := NewArena()
	base := t.TempDir()
	pkgA := t.TempDir()
	pkgB := t.TempDir()

	ctx, err := Compose(arena, "c1", t.TempDir(), []Spec{
		{Kind: BaseRootfs, Path: base},
		{Kind: Package, Path: pkgA},
		{Kind: HostDir, Source: "/tmp", Target: "mnt"},
		{Kind: Package, Path: pkgB},
	})
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if len(ctx.handles) != 5 {
		t.Fatalf("got %d handles, want 5 (base + 2 packages + host-dir + implicit overlay)", len(ctx.handles))
	}

	kindOf := func(h Handle) Kind {
		st, _ := arena.get(h)
		return st.spec.Kind
	}
	if kindOf(ctx.handles[0]) != BaseRootfs {
		t.Errorf("handle 0 = %v, want BaseRootfs", kindOf(ctx.handles[0]))
	}
	if kindOf(ctx.handles[len(ctx.handles)-1]) != Overlay {
		t.Errorf("last handle = %v, want Overlay", kindOf(ctx.handles[len(ctx.handles)-1]))
	}

	seenPackage, seenHostDir := false, false
	for _, h := range ctx.handles[1 : len(ctx.handles)-1] {
		switch kindOf(h) {
		case Package:
			if seenHostDir {
				t.Error("package layer appeared after host-dir layer")
			}
			seenPackage = true
		case HostDir:
			seenHostDir = true
		}
	}
	if !seenPackage || !seenHostDir {
		t.Fatalf("expected both package and host-dir layers staged, got package=%v hostdir=%v", seenPackage, seenHostDir)
	}
}

func TestCompose_DefaultOverlayInsertedWhenOmitted(t *testing.T) {
	arena := NewArena()
	base := t.TempDir()
	ctx, err := Compose(arena, "c1", t.TempDir(), []Spec{{Kind: BaseRootfs, Path: base}})
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if len(ctx.handles) != 2 {
		t.Fatalf("got %d handles, want 2 (base + implicit overlay)", len(ctx.handles))
	}
	st, _ := arena.get(ctx.handles[1])
	if st.spec.Kind != Overlay {
		t.Fatalf("got %v, want Overlay", st.spec.Kind)
	}
	if st.spec.WorkDir == "" {
		t.Error("expected a default WorkDir to be assigned")
	}
}

func TestRootfsPath_ReturnsBaseBeforeComposition(t *testing.T) {
	arena := NewArena()
	base := t.TempDir()
	ctx, err := Compose(arena, "c1", t.TempDir(), []Spec{{Kind: BaseRootfs, Path: base}})
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if RootfsPath(ctx) != base {
		t.Fatalf("got %q, want %q", RootfsPath(ctx), base)
	}
}

func TestDestroy_FreesHandlesAndIsIdempotent(t *testing.T) {
	arena := NewArena()
	base := t.TempDir()
	ctx, err := Compose(arena, "c1", t.TempDir(), []Spec{{Kind: BaseRootfs, Path: base}})
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	handles := append([]Handle{}, ctx.handles...)

	if err := Destroy(arena, ctx); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	for _, h := range handles {
		if _, ok := arena.get(h); ok {
			t.Errorf("handle %d still present in arena after Destroy", h)
		}
	}
	if len(ctx.handles) != 0 {
		t.Error("expected ctx.handles to be cleared")
	}

	// A second Destroy on the same (now-empty) context must be a no-op.
	if err := Destroy(arena, ctx); err != nil {
		t.Fatalf("second Destroy: %v", err)
	}
}

func TestValidateHostDirTarget(t *testing.T) {
	cases := []struct {
		target  string
		wantErr bool
	}{
		{"usr/local/bin", false},
		{"./mnt", false},
		{"../etc/passwd", true},
		{"a/../../b", true},
	}
	for _, c := range cases {
		err := validateHostDirTarget(c.target)
		if (err != nil) != c.wantErr {
			t.Errorf("validateHostDirTarget(%q) err=%v, wantErr=%v", c.target, err, c.wantErr)
		}
	}
}
