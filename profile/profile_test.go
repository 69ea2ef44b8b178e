package profile

import (
	"testing"

	"github.com/chef-project/containerv/pattern"
)

func TestPathProfile_RoundTrip(t *testing.T) {
	rules := []pattern.Rule{
		{Glob: "/usr/bin/*", Perms: pattern.PermExec},
		{Glob: "/etc/**", Perms: pattern.PermRead},
		{Glob: "/dev/tty[0-9]+", Perms: pattern.PermRead | pattern.PermWrite},
	}
	compiled, err := pattern.Compile(rules, pattern.DefaultConfig())
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	data, err := EncodePath(compiled, PathHeader{DenyPrecedence: true})
	if err != nil {
		t.Fatalf("EncodePath: %v", err)
	}

	decoded, hdr, err := DecodePath(data)
	if err != nil {
		t.Fatalf("DecodePath: %v", err)
	}
	if !hdr.DenyPrecedence {
		t.Error("DenyPrecedence flag lost across round-trip")
	}

	paths := []string{
		"/usr/bin/bash",
		"/etc/passwd",
		"/dev/tty5",
		"/nowhere",
	}
	for _, path := range paths {
		want := pattern.Match(compiled, path, pattern.PermRead)
		got := pattern.Match(decoded, path, pattern.PermRead)
		if want != got {
			t.Errorf("%q: original=%v decoded=%v", path, want, got)
		}
	}
}

func TestPathProfile_RejectsBadMagic(t *testing.T) {
	data := []byte("XXXX\x01\x00\x01\x00")
	if _, _, err := DecodePath(data); err == nil {
		t.Fatal("expected error for bad magic")
	}
}

func TestPathProfile_RejectsTruncated(t *testing.T) {
	data := []byte("PROT\x01\x00")
	if _, _, err := DecodePath(data); err == nil {
		t.Fatal("expected error for truncated buffer")
	}
}

func TestPathProfile_RejectsFutureVersion(t *testing.T) {
	data := []byte("PROT\x09\x00\x00\x00")
	if _, _, err := DecodePath(data); err == nil {
		t.Fatal("expected error for unsupported major version")
	}
}

func TestNetworkProfile_RoundTrip(t *testing.T) {
	rules := []NetworkRule{
		{Action: ActionAllow, Protocol: AnyProtocol, Family: AnyFamily, PortFrom: 80, PortTo: 80, IPPattern: "10.0.0.0/8"},
		{Action: ActionDeny, Protocol: 6, Family: 2, UnixPattern: "/run/**"},
	}
	data := EncodeNetwork(rules)

	decoded, err := DecodeNetwork(data)
	if err != nil {
		t.Fatalf("DecodeNetwork: %v", err)
	}
	if len(decoded) != len(rules) {
		t.Fatalf("got %d rules, want %d", len(decoded), len(rules))
	}
	if decoded[0].IPPattern != "10.0.0.0/8" {
		t.Errorf("IPPattern = %q", decoded[0].IPPattern)
	}
	if decoded[1].UnixPattern != "/run/**" {
		t.Errorf("UnixPattern = %q", decoded[1].UnixPattern)
	}
	if decoded[1].IPPattern != "" {
		t.Errorf("expected empty IPPattern for offset-any, got %q", decoded[1].IPPattern)
	}
}

func TestMountProfile_RoundTrip(t *testing.T) {
	rules := []MountRule{
		{Action: ActionAllow, Flags: 0x10, Source: "/var/chef/packs/*", Target: "/mnt/*", FSType: "overlay"},
	}
	data := EncodeMount(rules)

	decoded, err := DecodeMount(data)
	if err != nil {
		t.Fatalf("DecodeMount: %v", err)
	}
	if len(decoded) != 1 || decoded[0].FSType != "overlay" {
		t.Fatalf("got %+v", decoded)
	}
	if decoded[0].Options != "" {
		t.Errorf("expected empty Options, got %q", decoded[0].Options)
	}
}
