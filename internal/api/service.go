package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Full method names of rosterd.v1.SyncService.
const (
	SyncServiceName                            = "rosterd.v1.SyncService"
	SyncService_GetSyncStatus_FullMethodName   = "/rosterd.v1.SyncService/GetSyncStatus"
	SyncService_Resync_FullMethodName          = "/rosterd.v1.SyncService/Resync"
	SyncService_Flush_FullMethodName           = "/rosterd.v1.SyncService/Flush"
	SyncService_WatchSyncEvents_FullMethodName = "/rosterd.v1.SyncService/WatchSyncEvents"
)

// SyncServiceServer is the server API for rosterd.v1.SyncService. Messages
// are well-known types so no generated code is needed.
type SyncServiceServer interface {
	GetSyncStatus(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Resync(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	Flush(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	WatchSyncEvents(*emptypb.Empty, grpc.ServerStreamingServer[structpb.Struct]) error
}

// RegisterSyncServiceServer registers srv on s.
func RegisterSyncServiceServer(s grpc.ServiceRegistrar, srv SyncServiceServer) {
	s.RegisterService(&SyncService_ServiceDesc, srv)
}

func _SyncService_GetSyncStatus_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SyncServiceServer).GetSyncStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: SyncService_GetSyncStatus_FullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SyncServiceServer).GetSyncStatus(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func _SyncService_Resync_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SyncServiceServer).Resync(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: SyncService_Resync_FullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SyncServiceServer).Resync(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func _SyncService_Flush_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SyncServiceServer).Flush(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: SyncService_Flush_FullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SyncServiceServer).Flush(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func _SyncService_WatchSyncEvents_Handler(srv any, stream grpc.ServerStream) error {
	m := new(emptypb.Empty)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(SyncServiceServer).WatchSyncEvents(m, &grpc.GenericServerStream[emptypb.Empty, structpb.Struct]{ServerStream: stream})
}

// SyncService_ServiceDesc is the grpc.ServiceDesc for rosterd.v1.SyncService.
var SyncService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: SyncServiceName,
	HandlerType: (*SyncServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetSyncStatus", Handler: _SyncService_GetSyncStatus_Handler},
		{MethodName: "Resync", Handler: _SyncService_Resync_Handler},
		{MethodName: "Flush", Handler: _SyncService_Flush_Handler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "WatchSyncEvents", Handler: _SyncService_WatchSyncEvents_Handler, ServerStreams: true},
	},
	Metadata: "rosterd/v1/sync.proto",
}

// SyncServiceClient is the client API for rosterd.v1.SyncService.
type SyncServiceClient interface {
	GetSyncStatus(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error)
	Resync(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*emptypb.Empty, error)
	Flush(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*emptypb.Empty, error)
	WatchSyncEvents(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (grpc.ServerStreamingClient[structpb.Struct], error)
}

type syncServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewSyncServiceClient returns a client for the service behind cc.
func NewSyncServiceClient(cc grpc.ClientConnInterface) SyncServiceClient {
	return &syncServiceClient{cc}
}

func (c *syncServiceClient) GetSyncStatus(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, SyncService_GetSyncStatus_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *syncServiceClient) Resync(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, SyncService_Resync_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *syncServiceClient) Flush(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, SyncService_Flush_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *syncServiceClient) WatchSyncEvents(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (grpc.ServerStreamingClient[structpb.Struct], error) {
	stream, err := c.cc.NewStream(ctx, &SyncService_ServiceDesc.Streams[0], SyncService_WatchSyncEvents_FullMethodName, opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[emptypb.Empty, structpb.Struct]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}
