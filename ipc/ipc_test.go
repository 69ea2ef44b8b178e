package ipc

import (
	"net"
	"path/filepath"
	"testing"

	cerrors "github.com/chef-project/containerv/errors"
)

func TestFrame_RoundTripOverPipe(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	cc := NewConn(client)
	cs := NewConn(server)

	payload, err := EncodePayload(CreateRequest{RootfsType: "package", Rootfs: "/var/chef/mnt/x"})
	if err != nil {
		t.Fatalf("EncodePayload: %v", err)
	}
	sent := &Frame{Type: TypeRequest, ID: "req-1", Method: MethodCreate, Payload: payload}

	done := make(chan error, 1)
	go func() { done <- cc.WriteFrame(sent) }()

	got, err := cs.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	if got.Method != MethodCreate || got.ID != "req-1" {
		t.Fatalf("got %+v", got)
	}
	var req CreateRequest
	if err := DecodePayload(got.Payload, &req); err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if req.Rootfs != "/var/chef/mnt/x" {
		t.Errorf("got rootfs %q", req.Rootfs)
	}
}

func TestAbstractize(t *testing.T) {
	if got := abstractize("@containerv"); got != "\x00containerv" {
		t.Errorf("got %q", got)
	}
	if got := abstractize("/run/containerv.sock"); got != "/run/containerv.sock" {
		t.Errorf("got %q", got)
	}
}

func TestErrorFrame_RoundTrip(t *testing.T) {
	original := cerrors.New(cerrors.NotFound, "destroy", "container not found")
	fe := ErrorFrame(original)
	if fe.Kind != "not found" {
		t.Fatalf("got kind %q", fe.Kind)
	}

	reconstructed := fe.ToError("destroy")
	if !cerrors.IsKind(reconstructed, cerrors.NotFound) {
		t.Fatalf("got %v, want NotFound", reconstructed)
	}
}

type fakeDaemon struct {
	createCalls int
}

func (f *fakeDaemon) Create(req CreateRequest) (CreateReply, error) {
	f.createCalls++
	return CreateReply{ID: "c1", Status: "created"}, nil
}

func (f *fakeDaemon) Spawn(req SpawnRequest) (SpawnReply, error) {
	return SpawnReply{Pid: 42, Status: "running"}, nil
}

func (f *fakeDaemon) Kill(req KillRequest) (KillReply, error) {
	return KillReply{}, cerrors.New(cerrors.NotFound, "kill", "no such process")
}

func (f *fakeDaemon) Upload(req UploadRequest) (UploadReply, error) {
	return UploadReply{Status: "ok"}, nil
}

func (f *fakeDaemon) Download(req DownloadRequest) (DownloadReply, error) {
	return DownloadReply{Status: "ok"}, nil
}

func (f *fakeDaemon) Destroy(req DestroyRequest) (DestroyReply, error) {
	return DestroyReply{Status: "destroyed"}, nil
}

func TestContainerClient_CreateAndSpawn(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "containerv.sock")
	ln, err := Listen("unix", sock)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	daemon := &fakeDaemon{}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		ServeConn(NewConn(conn), daemon)
	}()

	nc, err := Dial("unix", sock)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer nc.Close()
	client := NewContainerClient(NewConn(nc))

	created, err := client.Create(CreateRequest{RootfsType: "package", Rootfs: "/x"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.ID != "c1" {
		t.Errorf("got id %q", created.ID)
	}

	spawned, err := client.Spawn(SpawnRequest{ID: created.ID, Command: []string{"/usr/bin/true"}})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if spawned.Pid != 42 {
		t.Errorf("got pid %d", spawned.Pid)
	}

	_, err = client.Kill(KillRequest{ID: created.ID, Pid: 42})
	if !cerrors.IsKind(err, cerrors.NotFound) {
		t.Fatalf("got %v, want NotFound", err)
	}
}

func TestWriteFrame_RejectsOversizeBody(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	cc := NewConn(client)

	oversized := &Frame{Type: TypeRequest, ID: "x", Method: "noop", Payload: make([]byte, MaxFrameSize+1)}
	err := cc.WriteFrame(oversized)
	if !cerrors.IsKind(err, cerrors.InvalidArgument) {
		t.Fatalf("got %v, want InvalidArgument", err)
	}
}
