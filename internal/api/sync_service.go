package api

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/matheus3301/rosterd/internal/bus"
	"github.com/matheus3301/rosterd/internal/reconcile"
	"github.com/matheus3301/rosterd/internal/status"
	"github.com/matheus3301/rosterd/internal/tracker"
)

// Engine is the part of the reconcile engine the service drives.
type Engine interface {
	Snapshot(ctx context.Context) (reconcile.Snapshot, error)
	Resync(ctx context.Context, account string) error
	Flush(ctx context.Context) error
}

// CheckpointReader lists recorded sync checkpoints.
type CheckpointReader interface {
	Checkpoints(ctx context.Context, prefix string) (map[string]string, error)
}

// SyncService implements rosterd.v1.SyncService.
type SyncService struct {
	engine      Engine
	checkpoints CheckpointReader
	bus         *bus.Bus
	machine     *status.Machine
	sessionName string
	logger      *zap.Logger
}

var _ SyncServiceServer = (*SyncService)(nil)

// NewSyncService creates a new sync service.
func NewSyncService(engine Engine, checkpoints CheckpointReader, b *bus.Bus, machine *status.Machine, sessionName string, logger *zap.Logger) *SyncService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyncService{
		engine:      engine,
		checkpoints: checkpoints,
		bus:         b,
		machine:     machine,
		sessionName: sessionName,
		logger:      logger,
	}
}

// GetSyncStatus reports the daemon status, queue depth, live syncs and the
// last completed sync per account.
func (s *SyncService) GetSyncStatus(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	snap, err := s.engine.Snapshot(ctx)
	if err != nil {
		return nil, toStatus(err)
	}

	syncs := make([]any, 0, len(snap.Syncs))
	for _, st := range snap.Syncs {
		syncs = append(syncs, map[string]any{
			"account":  st.Account,
			"pending":  st.Pending,
			"added":    st.Added,
			"removed":  st.Removed,
			"since_ms": st.Since.UnixMilli(),
		})
	}

	checkpoints := map[string]any{}
	if s.checkpoints != nil {
		cps, err := s.checkpoints.Checkpoints(ctx, reconcile.CheckpointPrefix)
		if err != nil {
			return nil, grpcstatus.Errorf(codes.Internal, "read checkpoints: %v", err)
		}
		for acc, at := range cps {
			checkpoints[acc] = at
		}
	}

	resp, err := structpb.NewStruct(map[string]any{
		"session":     s.sessionName,
		"status":      string(s.machine.Current()),
		"pending":     snap.Pending,
		"inflight":    snap.Inflight,
		"syncs":       syncs,
		"checkpoints": checkpoints,
	})
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "encode status: %v", err)
	}
	return resp, nil
}

// Resync re-synchronizes one account, or everything when the request names
// no account.
func (s *SyncService) Resync(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	account := req.GetFields()["account"].GetStringValue()
	s.logger.Info("resync requested", zap.String("account", account))
	if err := s.engine.Resync(ctx, account); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

// Flush writes queued contact updates without waiting for the debounce.
func (s *SyncService) Flush(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	if err := s.engine.Flush(ctx); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

// WatchSyncEvents streams sync lifecycle and status events until the client
// goes away.
func (s *SyncService) WatchSyncEvents(_ *emptypb.Empty, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	syncCh, unsubSync := s.bus.Subscribe(tracker.Namespace, 256)
	defer unsubSync()
	statusCh, unsubStatus := s.bus.Subscribe(status.EventStatusChanged, 16)
	defer unsubStatus()

	for {
		var evt bus.Event
		select {
		case evt = <-syncCh:
		case evt = <-statusCh:
		case <-stream.Context().Done():
			return nil
		}
		env, err := s.envelope(evt)
		if err != nil {
			s.logger.Warn("dropping unencodable event", zap.String("kind", evt.Kind), zap.Error(err))
			continue
		}
		if err := stream.Send(env); err != nil {
			return err
		}
	}
}

func (s *SyncService) envelope(evt bus.Event) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"event_id":            uuid.New().String(),
		"session":             s.sessionName,
		"kind":                evt.Kind,
		"occurred_at_unix_ms": evt.Timestamp.UnixMilli(),
		"payload":             eventPayload(evt.Payload),
	})
}

func eventPayload(p any) map[string]any {
	switch v := p.(type) {
	case tracker.Started:
		return map[string]any{"account": v.Account}
	case tracker.Ended:
		return map[string]any{"account": v.Account, "added": v.Added, "removed": v.Removed}
	case status.StatusChange:
		return map[string]any{"from": string(v.From), "to": string(v.To)}
	default:
		return map[string]any{}
	}
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, reconcile.ErrUnknownAccount):
		return grpcstatus.Error(codes.NotFound, err.Error())
	case errors.Is(err, reconcile.ErrStopped):
		return grpcstatus.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.Canceled):
		return grpcstatus.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return grpcstatus.Error(codes.DeadlineExceeded, err.Error())
	default:
		return grpcstatus.Error(codes.Internal, err.Error())
	}
}
