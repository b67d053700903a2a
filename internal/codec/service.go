// Package codec exposes the organism over gRPC: event injection and
// observation reads. Messages are well-known protobuf types so no generated
// code is needed on either side.
package codec

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/organism/internal/orchestrator"
	"github.com/danielpatrickdp/organism/internal/signals"
)

// #region service-desc
// ServiceName is the fully qualified gRPC service name.
const ServiceName = "organism.v1.Organism"

const (
	injectMethod  = "/" + ServiceName + "/Inject"
	observeMethod = "/" + ServiceName + "/Observe"
)

// OrganismServer is the server side of the control surface.
type OrganismServer interface {
	// Inject queues one event. The reply carries "id" and "accepted".
	Inject(context.Context, *structpb.Struct) (*structpb.Struct, error)
	// Observe returns the latest published observation as JSON-shaped fields.
	Observe(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*OrganismServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Inject", Handler: injectHandler},
		{MethodName: "Observe", Handler: observeHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "organism/v1/organism.proto",
}

// RegisterOrganismServer attaches srv to s.
func RegisterOrganismServer(s grpc.ServiceRegistrar, srv OrganismServer) {
	s.RegisterService(&serviceDesc, srv)
}

func injectHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(OrganismServer).Inject(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: injectMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(OrganismServer).Inject(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func observeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(OrganismServer).Observe(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: observeMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(OrganismServer).Observe(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// #endregion service-desc

// #region server
// Observable is anything that publishes observations.
type Observable interface {
	Latest() orchestrator.Observation
}

// Server implements OrganismServer over a queue and an observation source.
type Server struct {
	queue  signals.Pusher
	source Observable
	now    func() time.Time
	logger *zap.Logger
}

// NewServer wires the control surface to queue and source.
func NewServer(queue signals.Pusher, source Observable, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		queue:  queue,
		source: source,
		now:    time.Now,
		logger: logger.Named("rpc"),
	}
}

// Inject decodes {"type", "intensity", "metadata"} and pushes the event.
// A full queue is not an error; the reply reports accepted=false.
func (s *Server) Inject(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	typ := fields["type"].GetStringValue()
	if typ == "" {
		return nil, status.Error(codes.InvalidArgument, "event type is required")
	}
	intensity := fields["intensity"].GetNumberValue()

	var meta map[string]string
	if m := fields["metadata"].GetStructValue(); m != nil {
		meta = make(map[string]string, len(m.GetFields()))
		for k, v := range m.GetFields() {
			if sv, ok := v.GetKind().(*structpb.Value_StringValue); ok {
				meta[k] = sv.StringValue
			} else {
				meta[k] = v.String()
			}
		}
	}

	event := signals.NewEvent(signals.EventType(typ), intensity, s.now(), meta)
	accepted := s.queue.Push(event)
	s.logger.Debug("inject",
		zap.String("event_id", event.ID),
		zap.String("type", typ),
		zap.Float64("intensity", event.Intensity),
		zap.Bool("accepted", accepted),
	)

	reply, err := structpb.NewStruct(map[string]any{
		"id":       event.ID,
		"accepted": accepted,
	})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "build reply: %v", err)
	}
	return reply, nil
}

// Observe returns the latest observation.
func (s *Server) Observe(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	out, err := observationToStruct(s.source.Latest())
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode observation: %v", err)
	}
	return out, nil
}

// NewGRPCServer builds a grpc.Server carrying the organism service and the
// standard health service.
func NewGRPCServer(srv *Server) (*grpc.Server, *health.Server) {
	gs := grpc.NewServer(grpc.UnaryInterceptor(srv.logCalls))
	RegisterOrganismServer(gs, srv)

	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(gs, hs)
	return gs, hs
}

func (s *Server) logCalls(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	if err != nil {
		s.logger.Warn("rpc failed", zap.String("method", info.FullMethod), zap.Error(err))
		return resp, err
	}
	s.logger.Debug("rpc", zap.String("method", info.FullMethod), zap.Duration("took", time.Since(start)))
	return resp, nil
}

// #endregion server

// #region encoding
func observationToStruct(obs orchestrator.Observation) (*structpb.Struct, error) {
	data, err := json.Marshal(obs)
	if err != nil {
		return nil, fmt.Errorf("marshal observation: %w", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("convert observation: %w", err)
	}
	return out, nil
}

func structToObservation(s *structpb.Struct) (orchestrator.Observation, error) {
	var obs orchestrator.Observation
	data, err := protojson.Marshal(s)
	if err != nil {
		return obs, fmt.Errorf("marshal struct: %w", err)
	}
	if err := json.Unmarshal(data, &obs); err != nil {
		return obs, fmt.Errorf("decode observation: %w", err)
	}
	return obs, nil
}

// #endregion encoding
