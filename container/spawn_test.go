package container

import (
	"context"
	"testing"

	"github.com/chef-project/containerv/layer"
	"github.com/chef-project/containerv/spec"
)

func TestSpawn_VerifyRejectsInvalidCapabilities(t *testing.T) {
	c := newTestContainer(t)
	c.Capabilities = CapUsers // missing CapFilesystem

	err := c.Spawn(context.Background(), layer.NewArena(), nil, SpawnRequest{})
	if err == nil {
		t.Fatal("expected spawn to fail at Verify")
	}
}

func TestSpawn_RejectsEmptyLayerList(t *testing.T) {
	c := newTestContainer(t)

	err := c.Spawn(context.Background(), layer.NewArena(), nil, SpawnRequest{
		Layers: nil,
	})
	if err == nil {
		t.Fatal("expected spawn to fail composing an empty layer list")
	}
}

func TestTeardown_SkipsNilBPFAndLayerCtx(t *testing.T) {
	c := newTestContainer(t)
	c.Spec = &spec.Spec{}
	c.State.Bundle = c.StateDir

	err := c.Teardown(context.Background(), TeardownRequest{StateRoot: c.StateDir + "-root"})
	if err != nil {
		t.Fatalf("unexpected teardown error: %v", err)
	}
	if c.Lifecycle != LifecycleDestroyed {
		t.Errorf("got lifecycle %v, want LifecycleDestroyed", c.Lifecycle)
	}
}
