package codec

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/organism/internal/orchestrator"
	"github.com/danielpatrickdp/organism/internal/signals"
)

// #region types
// InjectResult holds the reply from an Inject call.
type InjectResult struct {
	ID       string
	Accepted bool
}

// #endregion types

// #region client-struct
// Client talks to a running organism over its control surface.
type Client struct {
	conn *grpc.ClientConn
	cc   grpc.ClientConnInterface
}

// #endregion client-struct

// #region constructor
// NewClient connects to the organism gRPC server at addr.
func NewClient(addr string, opts ...grpc.DialOption) (*Client, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &Client{conn: conn, cc: conn}, nil
}

// NewClientWithConn wraps an existing connection. Close is a no-op.
func NewClientWithConn(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// #endregion constructor

// #region close
// Close shuts down the gRPC connection.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// #endregion close

// #region inject
// Inject sends one event to the organism's queue.
func (c *Client) Inject(ctx context.Context, typ signals.EventType, intensity float64, metadata map[string]string) (InjectResult, error) {
	fields := map[string]any{
		"type":      string(typ),
		"intensity": intensity,
	}
	if len(metadata) > 0 {
		meta := make(map[string]any, len(metadata))
		for k, v := range metadata {
			meta[k] = v
		}
		fields["metadata"] = meta
	}
	req, err := structpb.NewStruct(fields)
	if err != nil {
		return InjectResult{}, fmt.Errorf("build inject request: %w", err)
	}

	resp := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, injectMethod, req, resp); err != nil {
		return InjectResult{}, fmt.Errorf("inject rpc: %w", err)
	}
	return InjectResult{
		ID:       resp.GetFields()["id"].GetStringValue(),
		Accepted: resp.GetFields()["accepted"].GetBoolValue(),
	}, nil
}

// #endregion inject

// #region observe
// Observe fetches the latest published observation.
func (c *Client) Observe(ctx context.Context) (orchestrator.Observation, error) {
	resp := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, observeMethod, &emptypb.Empty{}, resp); err != nil {
		return orchestrator.Observation{}, fmt.Errorf("observe rpc: %w", err)
	}
	return structToObservation(resp)
}

// #endregion observe

// #region health
// Healthy reports whether the organism service is serving.
func (c *Client) Healthy(ctx context.Context) (bool, error) {
	resp, err := healthpb.NewHealthClient(c.cc).Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		return false, fmt.Errorf("health rpc: %w", err)
	}
	return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING, nil
}

// #endregion health
