package codec

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/organism/internal/orchestrator"
	"github.com/danielpatrickdp/organism/internal/signals"
	"github.com/danielpatrickdp/organism/internal/state"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// #region harness
type fixedSource struct {
	obs orchestrator.Observation
}

func (f fixedSource) Latest() orchestrator.Observation { return f.obs }

// startServer serves srv over an in-memory listener and returns a connected client.
func startServer(t *testing.T, srv *Server) *Client {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	gs, _ := NewGRPCServer(srv)
	go func() { _ = gs.Serve(lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		conn.Close()
		gs.Stop()
	})
	return NewClientWithConn(conn)
}

func sampleObservation() orchestrator.Observation {
	v := state.DefaultVitals()
	v.Ticks = 12
	v.Age = 12
	v.Integrity = 0.92
	return orchestrator.Observation{
		Life:    state.Life{ID: "life-1", BornAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
		Vitals:  v,
		Mode:    "active",
		Health:  0.97,
		At:      time.Date(2026, 1, 1, 0, 0, 12, 0, time.UTC),
		Events:  []signals.EventType{signals.EventShock},
		Pending: 2,
	}
}

func ctx(t *testing.T) context.Context {
	c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return c
}

// #endregion harness

// #region inject-tests
func TestInject_QueuesEvent(t *testing.T) {
	queue := signals.NewQueue(4)
	client := startServer(t, NewServer(queue, fixedSource{}, nil))

	res, err := client.Inject(ctx(t), signals.EventShock, -0.8, map[string]string{"source": "cli"})
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.NotEmpty(t, res.ID)

	events := queue.PopAll()
	require.Len(t, events, 1)
	assert.Equal(t, res.ID, events[0].ID)
	assert.Equal(t, signals.EventShock, events[0].Type)
	assert.InDelta(t, -0.8, events[0].Intensity, 1e-12)
	assert.Equal(t, "cli", events[0].Metadata["source"])
}

func TestInject_ClampsIntensity(t *testing.T) {
	queue := signals.NewQueue(4)
	client := startServer(t, NewServer(queue, fixedSource{}, nil))

	_, err := client.Inject(ctx(t), signals.EventDecay, 3, nil)
	require.NoError(t, err)
	assert.Equal(t, 1.0, queue.PopAll()[0].Intensity)
}

func TestInject_FullQueueIsNotAnError(t *testing.T) {
	queue := signals.NewQueue(1)
	client := startServer(t, NewServer(queue, fixedSource{}, nil))

	first, err := client.Inject(ctx(t), signals.EventNoise, 0.1, nil)
	require.NoError(t, err)
	second, err := client.Inject(ctx(t), signals.EventNoise, 0.2, nil)
	require.NoError(t, err)

	assert.True(t, first.Accepted)
	assert.False(t, second.Accepted)
	assert.Equal(t, int64(1), queue.Dropped())
}

func TestInject_UnknownTypeAccepted(t *testing.T) {
	queue := signals.NewQueue(4)
	client := startServer(t, NewServer(queue, fixedSource{}, nil))

	res, err := client.Inject(ctx(t), signals.EventType("meteor"), 0.5, nil)
	require.NoError(t, err)
	assert.True(t, res.Accepted)
}

func TestInject_MissingType(t *testing.T) {
	srv := NewServer(signals.NewQueue(4), fixedSource{}, nil)
	req, _ := structpb.NewStruct(map[string]any{"intensity": 0.5})

	_, err := srv.Inject(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

// #endregion inject-tests

// #region observe-tests
func TestObserve_RoundTrip(t *testing.T) {
	want := sampleObservation()
	client := startServer(t, NewServer(signals.NewQueue(4), fixedSource{obs: want}, nil))

	got, err := client.Observe(ctx(t))
	require.NoError(t, err)

	assert.Equal(t, want.Life.ID, got.Life.ID)
	assert.True(t, want.Life.BornAt.Equal(got.Life.BornAt))
	assert.Equal(t, uint64(12), got.Tick())
	assert.InDelta(t, 0.92, got.Vitals.Integrity, 1e-12)
	assert.Equal(t, want.Mode, got.Mode)
	assert.Equal(t, want.Events, got.Events)
	assert.Equal(t, 2, got.Pending)
}

func TestObserve_Unavailable(t *testing.T) {
	conn, err := grpc.NewClient("passthrough:///nowhere",
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) {
			return nil, net.ErrClosed
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	defer conn.Close()

	c, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err = NewClientWithConn(conn).Observe(c)
	assert.Error(t, err)
}

// #endregion observe-tests

// #region health-tests
func TestHealthy(t *testing.T) {
	client := startServer(t, NewServer(signals.NewQueue(4), fixedSource{}, nil))

	ok, err := client.Healthy(ctx(t))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNewClient_Close(t *testing.T) {
	client, err := NewClient("localhost:0")
	require.NoError(t, err)
	assert.NoError(t, client.Close())
	assert.NoError(t, NewClientWithConn(nil).Close())
}

// #endregion health-tests
