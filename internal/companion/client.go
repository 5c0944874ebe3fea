package companion

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// DefaultTimeout bounds every client call.
const DefaultTimeout = 5 * time.Second

// Client talks to a companion over its unix socket.
type Client struct {
	conn    *grpc.ClientConn
	timeout time.Duration
}

// Dial creates a client for the socket at path. The connection is
// established lazily on the first call.
func Dial(path string) (*Client, error) {
	conn, err := grpc.NewClient("unix://"+path, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to agent: %w", err)
	}
	return &Client{conn: conn, timeout: DefaultTimeout}, nil
}

func (c *Client) invoke(ctx context.Context, method string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.conn.Invoke(ctx, fullMethod(method), in, out)
}

// Ping checks the companion is serving and returns its version.
func (c *Client) Ping(ctx context.Context) (string, error) {
	out := new(structpb.Struct)
	if err := c.invoke(ctx, "Ping", &emptypb.Empty{}, out); err != nil {
		return "", err
	}
	return out.GetFields()["version"].GetStringValue(), nil
}

// ReportStats sends one sink's counters.
func (c *Client) ReportStats(ctx context.Context, r StatsReport) error {
	in, err := r.toStruct()
	if err != nil {
		return fmt.Errorf("encode stats: %w", err)
	}
	return c.invoke(ctx, "ReportStats", in, new(emptypb.Empty))
}

// UpdateConfig pushes the token and the raw configuration payload. It
// returns ConfigStored or ConfigSameToken.
func (c *Client) UpdateConfig(ctx context.Context, token, payload string) (string, error) {
	in, err := structpb.NewStruct(map[string]any{"token": token, "config": payload})
	if err != nil {
		return "", err
	}
	out := new(structpb.Struct)
	if err := c.invoke(ctx, "UpdateConfig", in, out); err != nil {
		return "", err
	}
	return out.GetFields()["result"].GetStringValue(), nil
}

// ReportPackages sends the host's package inventory.
func (c *Client) ReportPackages(ctx context.Context, pkgs map[string]string) error {
	in, err := packagesToStruct(pkgs)
	if err != nil {
		return fmt.Errorf("encode packages: %w", err)
	}
	return c.invoke(ctx, "ReportPackages", in, new(emptypb.Empty))
}

// Status returns the companion's status document.
func (c *Client) Status(ctx context.Context) (map[string]any, error) {
	out := new(structpb.Struct)
	if err := c.invoke(ctx, "Status", &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
