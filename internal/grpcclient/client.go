package grpcclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"avl-gateway/internal/pipeline"
)

// SendDataMethod is the forwarder RPC. Requests and responses are
// google.protobuf.Struct: {device_id, payload} in, {success} out.
const SendDataMethod = "/forwarder.Forwarder/SendData"

type GRPCClient struct {
	conn   *grpc.ClientConn
	logger *slog.Logger
}

func NewGRPCClient(addr string, lg *slog.Logger, opts ...grpc.DialOption) (*GRPCClient, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc client %s: %w", addr, err)
	}
	return &GRPCClient{conn: conn, logger: lg.With("component", "grpcclient")}, nil
}

func (g *GRPCClient) Close() error {
	return g.conn.Close()
}

// SendData forwards one payload and reports whether the forwarder accepted it.
func (g *GRPCClient) SendData(ctx context.Context, deviceID, payload string) (bool, error) {
	req, err := structpb.NewStruct(map[string]any{
		"device_id": deviceID,
		"payload":   payload,
	})
	if err != nil {
		return false, err
	}

	res := &structpb.Struct{}
	if err := g.conn.Invoke(ctx, SendDataMethod, req, res); err != nil {
		return false, err
	}
	return res.GetFields()["success"].GetBoolValue(), nil
}

func (g *GRPCClient) Name() string { return "grpc" }

// Publish forwards tracking events; other events are not part of the forwarder contract.
func (g *GRPCClient) Publish(ctx context.Context, ev pipeline.Event) error {
	if ev.Kind != pipeline.EventTracking || ev.Tracking == nil {
		return nil
	}
	b, err := json.Marshal(ev.Tracking)
	if err != nil {
		return err
	}
	ok, err := g.SendData(ctx, ev.DeviceID, string(b))
	if err != nil {
		return err
	}
	if !ok {
		g.logger.Warn("forwarder rejected data", "imei", ev.DeviceID)
	}
	return nil
}
