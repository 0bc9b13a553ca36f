package live

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client connects to a Watchlist gRPC server and populates a local Model,
// providing an automatic mirror of the server-side view.
type Client struct {
	addr  string
	model *Model
	log   *slog.Logger
	opts  []grpc.DialOption
}

// NewClient creates a client targeting the given gRPC address. Extra dial
// options are appended after insecure transport credentials.
func NewClient(addr string, model *Model, log *slog.Logger, opts ...grpc.DialOption) *Client {
	return &Client{addr: addr, model: model, log: log, opts: opts}
}

// Sync connects to the gRPC server and streams views into the local model.
// It blocks until ctx is cancelled or the stream ends.
func (c *Client) Sync(ctx context.Context) error {
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}, c.opts...)

	conn, err := grpc.NewClient(c.addr, dialOpts...)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", c.addr, err)
	}
	defer conn.Close()

	stream, err := conn.NewStream(ctx, &serviceDesc.Streams[0], streamMethod)
	if err != nil {
		return fmt.Errorf("starting stream: %w", err)
	}
	if err := stream.SendMsg(&emptypb.Empty{}); err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return fmt.Errorf("closing send: %w", err)
	}

	c.log.Info("connected to watchlist stream", "addr", c.addr)

	for {
		msg := new(structpb.Struct)
		if err := stream.RecvMsg(msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("receiving view: %w", err)
		}

		v, err := decodeView(msg)
		if err != nil {
			c.log.Warn("dropping undecodable view", "error", err)
			continue
		}
		c.model.Set(v)
	}
}
