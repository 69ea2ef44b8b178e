// Package ipc implements the length-prefixed request/reply + event wire
// protocol spec.md §6 specifies for communication between CLIs, daemons,
// and the container runtime: a 4-byte big-endian length prefix followed by
// a JSON body, carried over a Unix domain socket (including Linux abstract
// sockets, addressed with a leading "@") or a TCP connection. This is a
// hand-rolled framing, not gRPC/protobuf: spec.md names the wire format
// directly, so there is no RPC framework to delegate to here.
package ipc

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"io"
	"net"
	"strings"
	"sync"

	"github.com/google/uuid"

	cerrors "github.com/chef-project/containerv/errors"
)

// MaxFrameSize bounds a single frame's body, guarding a peer from forcing
// an unbounded allocation via a forged length prefix.
const MaxFrameSize = 64 << 20

// MessageType distinguishes a request, its reply, or a one-way event on
// the wire; every frame carries exactly one.
type MessageType string

const (
	TypeRequest MessageType = "request"
	TypeReply   MessageType = "reply"
	TypeEvent   MessageType = "event"
)

// Frame is the envelope written after the 4-byte length prefix. Method
// names the RPC for requests/replies ("create", "spawn", ...) or the
// event name for events ("package_installed", ...); Payload carries the
// method-specific body as raw JSON, decoded by the caller once Method is
// known.
type Frame struct {
	Type    MessageType     `json:"type"`
	ID      string          `json:"id"`
	Method  string          `json:"method"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *FrameError     `json:"error,omitempty"`
}

// FrameError carries a failed request's kind tag and message, mirroring
// the CLI-visible error reporting spec.md §7 describes (kind + detail).
type FrameError struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
}

// ToError converts a FrameError back into a *cerrors.ContainerError so a
// client can classify a failed reply with cerrors.IsKind like any other
// local error.
func (fe *FrameError) ToError(op string) error {
	if fe == nil {
		return nil
	}
	kind, ok := kindByName[fe.Kind]
	if !ok {
		kind = cerrors.Io
	}
	return &cerrors.ContainerError{Op: op, Kind: kind, Detail: fe.Detail}
}

var kindByName = map[string]cerrors.ErrorKind{
	cerrors.InvalidArgument.String(): cerrors.InvalidArgument,
	cerrors.InvalidPattern.String():  cerrors.InvalidPattern,
	cerrors.InvalidProfile.String():  cerrors.InvalidProfile,
	cerrors.OutOfMemory.String():     cerrors.OutOfMemory,
	cerrors.NotSupported.String():    cerrors.NotSupported,
	cerrors.CompileFailed.String():   cerrors.CompileFailed,
	cerrors.Busy.String():            cerrors.Busy,
	cerrors.NotFound.String():        cerrors.NotFound,
	cerrors.Io.String():              cerrors.Io,
	cerrors.Transient.String():       cerrors.Transient,
}

// ErrorFrame builds the FrameError a server sends back for err, tagging it
// with err's cerrors.ErrorKind when available.
func ErrorFrame(err error) *FrameError {
	kind, ok := cerrors.GetKind(err)
	if !ok {
		kind = cerrors.Io
	}
	return &FrameError{Kind: kind.String(), Detail: err.Error()}
}

// Dial connects to addr, a Unix socket path (a leading "@" selects Linux's
// abstract namespace) or a host:port TCP address.
func Dial(network string, addr string) (net.Conn, error) {
	if network == "unix" {
		return net.Dial("unix", abstractize(addr))
	}
	return net.Dial(network, addr)
}

// Listen opens a listener on addr using the same addressing rules as Dial.
func Listen(network string, addr string) (net.Listener, error) {
	if network == "unix" {
		return net.Listen("unix", abstractize(addr))
	}
	return net.Listen(network, addr)
}

// abstractize rewrites a leading "@" into the null byte Linux's abstract
// socket namespace requires at the head of the sockaddr path.
func abstractize(addr string) string {
	if strings.HasPrefix(addr, "@") {
		return "\x00" + addr[1:]
	}
	return addr
}

// Conn wraps a net.Conn with framed Frame read/write and is safe for one
// concurrent writer and one concurrent reader (matching the protocol's
// request/reply-plus-async-event shape: one goroutine writes requests and
// reads replies/events off the same connection in lockstep per §5).
type Conn struct {
	nc net.Conn
	r  *bufio.Reader
	mu sync.Mutex
}

// NewConn wraps an established connection for framed I/O.
func NewConn(nc net.Conn) *Conn {
	return &Conn{nc: nc, r: bufio.NewReader(nc)}
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.nc.Close()
}

// WriteFrame marshals f to JSON and writes it length-prefixed.
func (c *Conn) WriteFrame(f *Frame) error {
	body, err := json.Marshal(f)
	if err != nil {
		return cerrors.Wrap(err, cerrors.InvalidArgument, "write_frame")
	}
	if len(body) > MaxFrameSize {
		return cerrors.New(cerrors.InvalidArgument, "write_frame", "frame exceeds max size")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := c.nc.Write(lenBuf[:]); err != nil {
		return cerrors.Wrap(err, cerrors.Io, "write_frame")
	}
	if _, err := c.nc.Write(body); err != nil {
		return cerrors.Wrap(err, cerrors.Io, "write_frame")
	}
	return nil
}

// ReadFrame blocks for the next length-prefixed frame and unmarshals it.
func (c *Conn) ReadFrame() (*Frame, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(c.r, lenBuf[:]); err != nil {
		return nil, cerrors.Wrap(err, cerrors.Io, "read_frame")
	}
	size := binary.BigEndian.Uint32(lenBuf[:])
	if size > MaxFrameSize {
		return nil, cerrors.New(cerrors.InvalidProfile, "read_frame", "frame exceeds max size")
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(c.r, body); err != nil {
		return nil, cerrors.Wrap(err, cerrors.Io, "read_frame")
	}

	var f Frame
	if err := json.Unmarshal(body, &f); err != nil {
		return nil, cerrors.Wrap(err, cerrors.InvalidProfile, "read_frame")
	}
	return &f, nil
}

// EncodePayload marshals v as a Frame's raw JSON payload.
func EncodePayload(v any) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, cerrors.Wrap(err, cerrors.InvalidArgument, "encode_payload")
	}
	return b, nil
}

// DecodePayload unmarshals a Frame's raw JSON payload into v.
func DecodePayload(payload json.RawMessage, v any) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return cerrors.Wrap(err, cerrors.InvalidArgument, "decode_payload")
	}
	return nil
}

func newRequestID() string {
	return uuid.NewString()
}
