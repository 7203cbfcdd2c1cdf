package grpc

import (
	"context"
	"encoding/json"
	"net"

	"google.golang.org/grpc"
	grpcCodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/turtacn/qrgate/internal/application/dto"
	"github.com/turtacn/qrgate/internal/application/service"
	"github.com/turtacn/qrgate/pkg/logger"
)

const (
	// StaticQRServiceName is the fully qualified gRPC service name.
	StaticQRServiceName = "qrgate.v1.StaticQR"
	// IssueMethod is the full method name of StaticQR.Issue.
	IssueMethod = "/" + StaticQRServiceName + "/Issue"
)

// StaticQRServer is the server API of qrgate.v1.StaticQR. Requests and
// responses are google.protobuf.Struct carrying the same fields as the
// HTTP issuance endpoint: gymId, purpose and an optional deviceFingerprint in,
// ok, payload, token, deepLink and expiresAt out.
type StaticQRServer interface {
	Issue(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// StaticQRServiceDesc describes qrgate.v1.StaticQR for grpc.Server.RegisterService.
var StaticQRServiceDesc = grpc.ServiceDesc{
	ServiceName: StaticQRServiceName,
	HandlerType: (*StaticQRServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Issue", Handler: issueHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "qrgate/v1/static_qr.proto",
}

func issueHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(StaticQRServer).Issue(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: IssueMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(StaticQRServer).Issue(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// Issue calls qrgate.v1.StaticQR/Issue on conn.
func Issue(ctx context.Context, conn grpc.ClientConnInterface, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := conn.Invoke(ctx, IssueMethod, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// StaticQRService implements StaticQRServer on top of the issuance flow.
type StaticQRService struct {
	issuance service.IssuanceAppService
	ips      *ClientIPResolver
	log      logger.Logger
}

// NewStaticQRService creates a new StaticQRService.
func NewStaticQRService(issuance service.IssuanceAppService, ips *ClientIPResolver, log logger.Logger) *StaticQRService {
	return &StaticQRService{issuance: issuance, ips: ips, log: log.WithComponent("StaticQRService")}
}

// Issue mints a scan token for the client resolved by ips.
func (s *StaticQRService) Issue(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	appReq := &dto.IssueTokenRequest{
		GymID:             fields["gymId"].GetStringValue(),
		Purpose:           fields["purpose"].GetStringValue(),
		DeviceFingerprint: fields["deviceFingerprint"].GetStringValue(),
		ClientIP:          s.ips.Resolve(ctx),
	}

	resp, err := s.issuance.Issue(ctx, appReq)
	if err != nil {
		return nil, err
	}
	return toStruct(resp)
}

// toStruct converts v to a Struct through its JSON form so both transports
// share field names.
func toStruct(v interface{}) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(grpcCodes.Internal, "encode response: %v", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, status.Errorf(grpcCodes.Internal, "encode response: %v", err)
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(grpcCodes.Internal, "encode response: %v", err)
	}
	return out, nil
}

// Server bundles the gRPC server with its health service.
type Server struct {
	server *grpc.Server
	health *health.Server
	log    logger.Logger
}

// NewServer builds a gRPC server exposing StaticQR and grpc.health.v1.Health.
func NewServer(issuance service.IssuanceAppService, ips *ClientIPResolver, log logger.Logger, opts ...grpc.ServerOption) *Server {
	chain := NewInterceptorChain(ips, log)
	srv := grpc.NewServer(append([]grpc.ServerOption{chain.ChainUnaryInterceptors()}, opts...)...)
	srv.RegisterService(&StaticQRServiceDesc, NewStaticQRService(issuance, ips, log))

	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(StaticQRServiceName, healthpb.HealthCheckResponse_SERVING)

	return &Server{server: srv, health: hs, log: log.WithComponent("grpc")}
}

// Serve accepts connections on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	s.log.Info(context.Background(), "Starting gRPC server", logger.String("address", lis.Addr().String()))
	return s.server.Serve(lis)
}

// Stop marks the server NOT_SERVING and drains in-flight calls until ctx ends.
func (s *Server) Stop(ctx context.Context) {
	s.health.Shutdown()
	done := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.server.Stop()
	}
}
