package live

import (
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"

	"stockdesk/internal/watchlist"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "stockdesk.v1.Watchlist"

const streamMethod = "/" + ServiceName + "/Stream"

// watchlistService is the handler type registered with gRPC.
type watchlistService interface {
	Stream(req *emptypb.Empty, stream grpc.ServerStream) error
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*watchlistService)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Stream",
			Handler:       streamHandler,
			ServerStreams: true,
		},
	},
	Metadata: "stockdesk/v1/watchlist.proto",
}

func streamHandler(srv any, stream grpc.ServerStream) error {
	req := new(emptypb.Empty)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(watchlistService).Stream(req, stream)
}

// Source is what the server streams from. *watchlist.Synchronizer
// satisfies it.
type Source interface {
	View() watchlist.View
	Subscribe(bufSize int) (int, <-chan watchlist.View)
	Unsubscribe(id int)
}

// Server implements the Watchlist Stream endpoint.
type Server struct {
	source Source
	log    *slog.Logger
}

var _ watchlistService = (*Server)(nil)

// NewServer creates a gRPC server backed by the given source.
func NewServer(source Source, log *slog.Logger) *Server {
	return &Server{source: source, log: log}
}

// RegisterGRPC registers the server on the given gRPC server instance.
func (s *Server) RegisterGRPC(gs *grpc.Server) {
	gs.RegisterService(&serviceDesc, s)
}

// Stream sends the current view, then every published view. The stream
// ends when the client disconnects.
func (s *Server) Stream(_ *emptypb.Empty, stream grpc.ServerStream) error {
	// Subscribe before reading the current view so nothing published in
	// between is lost.
	subID, ch := s.source.Subscribe(64)
	defer s.source.Unsubscribe(subID)

	last := s.source.View()
	if err := s.send(stream, last); err != nil {
		return err
	}

	s.log.Info("grpc client subscribed", "subID", subID)

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("grpc client disconnected", "subID", subID)
			return nil
		case v, ok := <-ch:
			if !ok {
				return nil
			}
			if v.Generation == last.Generation && v.SettledAt.Equal(last.SettledAt) {
				continue
			}
			last = v
			if err := s.send(stream, v); err != nil {
				return err
			}
		}
	}
}

func (s *Server) send(stream grpc.ServerStream, v watchlist.View) error {
	msg, err := encodeView(v)
	if err != nil {
		return err
	}
	return stream.SendMsg(msg)
}
