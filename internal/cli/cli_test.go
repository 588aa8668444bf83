package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/matheus3301/rosterd/internal/api"
	"github.com/matheus3301/rosterd/internal/session"
)

type fakeClient struct {
	status   map[string]any
	resynced []string
	flushed  int
	events   []map[string]any
	err      error
}

func (f *fakeClient) GetSyncStatus(context.Context, *emptypb.Empty, ...grpc.CallOption) (*structpb.Struct, error) {
	if f.err != nil {
		return nil, f.err
	}
	return structpb.NewStruct(f.status)
}

func (f *fakeClient) Resync(_ context.Context, in *structpb.Struct, _ ...grpc.CallOption) (*emptypb.Empty, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.resynced = append(f.resynced, in.GetFields()["account"].GetStringValue())
	return &emptypb.Empty{}, nil
}

func (f *fakeClient) Flush(context.Context, *emptypb.Empty, ...grpc.CallOption) (*emptypb.Empty, error) {
	f.flushed++
	return &emptypb.Empty{}, f.err
}

func (f *fakeClient) WatchSyncEvents(context.Context, *emptypb.Empty, ...grpc.CallOption) (grpc.ServerStreamingClient[structpb.Struct], error) {
	return &fakeStream{events: f.events}, nil
}

type fakeStream struct {
	grpc.ClientStream
	events []map[string]any
}

func (s *fakeStream) Recv() (*structpb.Struct, error) {
	if len(s.events) == 0 {
		return nil, io.EOF
	}
	e := s.events[0]
	s.events = s.events[1:]
	return structpb.NewStruct(e)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func run(t *testing.T, fc *fakeClient, args ...string) (string, error) {
	t.Helper()
	t.Setenv(session.HomeEnv, t.TempDir())
	var dialed string
	opts := &RootOptions{Dial: func(socketPath string) (api.SyncServiceClient, io.Closer, error) {
		dialed = socketPath
		return fc, nopCloser{}, nil
	}}
	cmd := newRootCommand(opts)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	if err == nil {
		require.NotEmpty(t, dialed)
	}
	return out.String(), err
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"status", "resync", "flush", "watch"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
	flag := cmd.PersistentFlags().Lookup("session")
	require.NotNil(t, flag)
	assert.Equal(t, "s", flag.Shorthand)
}

func TestStatus(t *testing.T) {
	fc := &fakeClient{status: map[string]any{
		"session":     "main",
		"status":      "READY",
		"pending":     2,
		"inflight":    0,
		"syncs":       []any{map[string]any{"account": "bob", "pending": 1, "added": 3, "removed": 0}},
		"checkpoints": map[string]any{"zed": "2026-10-02T00:00:00Z", "alice": "2026-10-01T00:00:00Z"},
	}}
	out, err := run(t, fc, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Status:   READY")
	assert.Contains(t, out, "added=3")
	assert.Less(t, bytes.Index([]byte(out), []byte("alice")), bytes.Index([]byte(out), []byte("zed")))
}

func TestStatusJSON(t *testing.T) {
	fc := &fakeClient{status: map[string]any{"session": "main", "status": "DEGRADED"}}
	out, err := run(t, fc, "status", "--json")
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "DEGRADED", got["status"])
}

func TestResync(t *testing.T) {
	fc := &fakeClient{}
	out, err := run(t, fc, "resync", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "alice")

	_, err = run(t, fc, "resync")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", ""}, fc.resynced)

	_, err = run(t, fc, "resync", "a", "b")
	assert.Error(t, err)
}

func TestResyncError(t *testing.T) {
	fc := &fakeClient{err: grpcstatus.Error(codes.NotFound, "unknown account")}
	_, err := run(t, fc, "resync", "nobody")
	require.Error(t, err)
	assert.Equal(t, codes.NotFound, grpcstatus.Code(err))
}

func TestFlush(t *testing.T) {
	fc := &fakeClient{}
	out, err := run(t, fc, "flush")
	require.NoError(t, err)
	assert.Equal(t, "Flushed\n", out)
	assert.Equal(t, 1, fc.flushed)
}

func TestWatch(t *testing.T) {
	fc := &fakeClient{events: []map[string]any{
		{"kind": "sync.started", "occurred_at_unix_ms": 0, "payload": map[string]any{"account": "alice"}},
		{"kind": "sync.ended", "occurred_at_unix_ms": 0, "payload": map[string]any{"account": "alice", "added": 2, "removed": 1}},
		{"kind": "session.status_changed", "occurred_at_unix_ms": 0, "payload": map[string]any{"from": "RECONCILING", "to": "READY"}},
	}}
	out, err := run(t, fc, "watch", "-n", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "alice: sync started")
	assert.Contains(t, out, "2 added, 1 removed")
	assert.NotContains(t, out, "READY")

	out, err = run(t, fc, "watch")
	require.NoError(t, err)
	assert.Contains(t, out, "status RECONCILING -> READY")
}

func TestInvalidSession(t *testing.T) {
	_, err := run(t, &fakeClient{}, "status", "--session", "../evil")
	assert.Error(t, err)
}
