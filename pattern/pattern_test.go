package pattern

import (
	"testing"

	cerrors "github.com/chef-project/containerv/errors"
)

func mustCompile(t *testing.T, rules []Rule, cfg Config) *Profile {
	t.Helper()
	p, err := Compile(rules, cfg)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	return p
}

func TestCompile_EmptyRuleSet(t *testing.T) {
	_, err := Compile(nil, DefaultConfig())
	if err == nil {
		t.Fatal("expected error for empty rule set")
	}
	var cerr *cerrors.ContainerError
	if !cerrors.As(err, &cerr) || cerr.Kind != cerrors.InvalidArgument {
		t.Fatalf("got %v, want InvalidArgument", err)
	}
}

func TestMatch_DeviceTTYRange(t *testing.T) {
	rules := []Rule{{Glob: "/dev/tty[0-9]+", Perms: PermRead | PermWrite}}
	for _, mode := range []CompileMode{ModeTrie, ModeDFA} {
		cfg := DefaultConfig()
		cfg.Mode = mode
		p := mustCompile(t, rules, cfg)

		if !Match(p, "/dev/tty0", PermRead) {
			t.Errorf("mode %v: /dev/tty0 should match", mode)
		}
		if !Match(p, "/dev/tty123", PermRead|PermWrite) {
			t.Errorf("mode %v: /dev/tty123 should match", mode)
		}
		if Match(p, "/dev/tty", PermRead) {
			t.Errorf("mode %v: /dev/tty (no digits) should not match", mode)
		}
		if Match(p, "/dev/ttyX", PermRead) {
			t.Errorf("mode %v: /dev/ttyX should not match", mode)
		}
		if Match(p, "/dev/tty0", PermExec) {
			t.Errorf("mode %v: /dev/tty0 should not satisfy PermExec", mode)
		}
	}
}

func TestMatch_VarLogRecursive(t *testing.T) {
	rules := []Rule{{Glob: "/var/log/**/*.log", Perms: PermRead}}
	for _, mode := range []CompileMode{ModeTrie, ModeDFA} {
		cfg := DefaultConfig()
		cfg.Mode = mode
		p := mustCompile(t, rules, cfg)

		accept := []string{
			"/var/log/app.log",
			"/var/log/nginx/access.log",
			"/var/log/a/b/c/deep.log",
		}
		for _, path := range accept {
			if !Match(p, path, PermRead) {
				t.Errorf("mode %v: %q should match", mode, path)
			}
		}

		reject := []string{
			"/var/log/app.txt",
			"/var/logger/app.log",
			"/var/log/",
		}
		for _, path := range reject {
			if Match(p, path, PermRead) {
				t.Errorf("mode %v: %q should not match", mode, path)
			}
		}
	}
}

func TestMatch_CaseInsensitive(t *testing.T) {
	rules := []Rule{{Glob: "/tmp/file", Perms: PermRead}}
	cfg := DefaultConfig()
	cfg.CaseInsensitive = true
	p := mustCompile(t, rules, cfg)

	if !Match(p, "/tmp/File", PermRead) {
		t.Error("case-insensitive compile should match /tmp/File")
	}
	if !Match(p, "/TMP/FILE", PermRead) {
		t.Error("case-insensitive compile should match /TMP/FILE")
	}
}

func TestMatch_CaseSensitiveByDefault(t *testing.T) {
	rules := []Rule{{Glob: "/tmp/file", Perms: PermRead}}
	p := mustCompile(t, rules, DefaultConfig())

	if Match(p, "/tmp/File", PermRead) {
		t.Error("case-sensitive compile should not match /tmp/File")
	}
}

func TestCompile_SharedPrefixesMerge(t *testing.T) {
	rules := []Rule{
		{Glob: "/etc/foo", Perms: PermRead},
		{Glob: "/etc/bar", Perms: PermWrite},
	}
	p := mustCompile(t, rules, DefaultConfig())

	root, ok := p.Root.(*RootNode)
	if !ok {
		t.Fatal("expected *RootNode")
	}
	if len(root.children()) != 1 {
		t.Fatalf("expected a single shared child for '/', got %d", len(root.children()))
	}
}

func TestMatch_TrieAndDFAAgree(t *testing.T) {
	rules := []Rule{
		{Glob: "/usr/bin/*", Perms: PermExec},
		{Glob: "/etc/**", Perms: PermRead},
		{Glob: "/dev/tty[0-9]+", Perms: PermRead | PermWrite},
	}
	trie := mustCompile(t, rules, DefaultConfig())
	dfaCfg := DefaultConfig()
	dfaCfg.Mode = ModeDFA
	dfa := mustCompile(t, rules, dfaCfg)

	paths := []string{
		"/usr/bin/bash",
		"/usr/bin/",
		"/usr/bin",
		"/etc/passwd",
		"/etc/ssl/certs/ca.pem",
		"/dev/tty5",
		"/dev/tty",
		"/nowhere",
	}
	for _, path := range paths {
		a := Match(trie, path, PermRead)
		b := Match(dfa, path, PermRead)
		if a != b {
			t.Errorf("trie/DFA disagree on %q: trie=%v dfa=%v", path, a, b)
		}
	}
}

func TestCompile_EmptyGlobMatchesEmptyPath(t *testing.T) {
	rules := []Rule{{Glob: "", Perms: PermRead}}
	p := mustCompile(t, rules, DefaultConfig())

	if !Match(p, "", PermRead) {
		t.Error("empty glob should match the empty path")
	}
	if Match(p, "/", PermRead) {
		t.Error("empty glob should not match a non-empty path")
	}
}

func TestCompile_StateCapExceeded(t *testing.T) {
	rules := []Rule{{Glob: "/a/b/c/d/e/f/g/h", Perms: PermRead}}
	cfg := Config{Mode: ModeDFA, MaxClasses: 32, MaxStates: 2}

	_, err := Compile(rules, cfg)
	if err == nil {
		t.Fatal("expected CompileFailed for an unreachable state cap")
	}
	var cerr *cerrors.ContainerError
	if !cerrors.As(err, &cerr) || cerr.Kind != cerrors.CompileFailed {
		t.Fatalf("got %v, want CompileFailed", err)
	}
}

func TestParseGlob_InvalidRecursiveWildcard(t *testing.T) {
	_, err := parseGlob("/var/**log", false)
	if err == nil {
		t.Fatal("expected error: ** must be followed by end-of-pattern or '/'")
	}
}

func TestParseGlob_UnterminatedCharset(t *testing.T) {
	_, err := parseGlob("/dev/tty[0-9", false)
	if err == nil {
		t.Fatal("expected error for unterminated charset")
	}
}
