// Package grpc implements the gRPC transport for voicerelay.
//
// The service voicerelay.v1.Relay has a single server-streaming method,
// Converse: the client sends one utterance and receives the turn's events
// (transcript, sentences, audio chunks, done) as they are produced. Messages
// are JSON encoded with the "json" content-subtype, so no generated stubs are
// needed on either side. The standard gRPC health service is registered
// alongside it.
package grpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/nadzzz/voicerelay/internal/message"
	"github.com/nadzzz/voicerelay/internal/relay"
	"github.com/nadzzz/voicerelay/internal/transport"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "voicerelay.v1.Relay"

const metadataSessionID = "x-session-id"

// ConverseRequest carries one utterance.
type ConverseRequest struct {
	SessionID   string `json:"session_id,omitempty"`
	Audio       []byte `json:"audio"`
	ContentType string `json:"content_type,omitempty"`
}

// ConverseEvent is one streamed turn event.
type ConverseEvent struct {
	Type        message.EventType   `json:"type"`
	TurnID      string              `json:"turn_id"`
	Text        string              `json:"text,omitempty"`
	Audio       []byte              `json:"audio,omitempty"`
	ContentType string              `json:"content_type,omitempty"`
	Result      *message.TurnResult `json:"result,omitempty"`
}

// RelayServer is the server API for the Relay service.
type RelayServer interface {
	Converse(req *ConverseRequest, stream grpc.ServerStream) error
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RelayServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Converse",
			Handler:       converseHandler,
			ServerStreams: true,
		},
	},
	Metadata: "voicerelay/v1/relay.proto",
}

func converseHandler(srv any, stream grpc.ServerStream) error {
	req := new(ConverseRequest)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(RelayServer).Converse(req, stream)
}

// Transport implements transport.Transport over gRPC.
type Transport struct {
	port int

	mu     sync.Mutex
	server *grpc.Server
	health *health.Server
}

// New creates a new gRPC transport on the given port.
func New(port int) *Transport {
	return &Transport{port: port}
}

// Name returns the transport identifier.
func (t *Transport) Name() string { return "grpc" }

// Listen starts the gRPC server and routes incoming requests to the handler.
func (t *Transport) Listen(ctx context.Context, handler transport.Handler) error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", t.port))
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	slog.Info("grpc transport listening", "port", t.port)

	go func() {
		<-ctx.Done()
		slog.Info("grpc transport shutting down")
		_ = t.Close()
	}()

	return t.Serve(lis, handler)
}

// Serve registers the services and serves on lis until the server stops.
func (t *Transport) Serve(lis net.Listener, handler transport.Handler) error {
	server := grpc.NewServer(grpc.ChainStreamInterceptor(logStream))
	server.RegisterService(&serviceDesc, &relayServer{handler: handler})

	hs := health.NewServer()
	healthpb.RegisterHealthServer(server, hs)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)

	t.mu.Lock()
	t.server, t.health = server, hs
	t.mu.Unlock()

	if err := server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("grpc serve: %w", err)
	}
	return nil
}

// Close gracefully stops the gRPC server.
func (t *Transport) Close() error {
	t.mu.Lock()
	server, hs := t.server, t.health
	t.mu.Unlock()

	if hs != nil {
		hs.Shutdown()
	}
	if server != nil {
		server.GracefulStop()
	}
	return nil
}

// relayServer adapts a transport.Handler to RelayServer.
type relayServer struct {
	handler transport.Handler
}

// Converse runs one turn and streams its events back to the caller.
func (s *relayServer) Converse(req *ConverseRequest, stream grpc.ServerStream) error {
	if len(req.Audio) == 0 {
		return status.Error(codes.InvalidArgument, "audio is required")
	}

	ctx := stream.Context()
	session := req.SessionID
	if session == "" {
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if v := md.Get(metadataSessionID); len(v) > 0 {
				session = v[0]
			}
		}
	}

	turn := message.NewTurn(session, req.Audio, req.ContentType)
	sink := message.SinkFunc(func(ev message.Event) error {
		return stream.SendMsg(&ConverseEvent{
			Type:        ev.Type,
			TurnID:      ev.TurnID,
			Text:        ev.Text,
			Audio:       ev.Audio,
			ContentType: ev.ContentType,
			Result:      ev.Result,
		})
	})

	result, err := s.handler(ctx, turn, sink)
	switch {
	case err == nil, errors.Is(err, relay.ErrEmptyTranscript):
		return nil
	case result != nil && result.Failed():
		return status.Error(codes.Unavailable, result.Error)
	case ctx.Err() != nil:
		return status.FromContextError(ctx.Err()).Err()
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// ConverseClient receives the events of one Converse call.
type ConverseClient struct {
	grpc.ClientStream
}

// Recv returns the next event, or io.EOF once the turn is complete.
func (c *ConverseClient) Recv() (*ConverseEvent, error) {
	ev := new(ConverseEvent)
	if err := c.RecvMsg(ev); err != nil {
		return nil, err
	}
	return ev, nil
}

// Converse starts a Converse call on cc using the JSON codec.
func Converse(ctx context.Context, cc grpc.ClientConnInterface, req *ConverseRequest, opts ...grpc.CallOption) (*ConverseClient, error) {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	stream, err := cc.NewStream(ctx, &serviceDesc.Streams[0], "/"+ServiceName+"/Converse", opts...)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &ConverseClient{ClientStream: stream}, nil
}

func logStream(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	start := time.Now()
	err := handler(srv, ss)
	slog.Debug("grpc stream finished",
		"method", info.FullMethod,
		"code", status.Code(err).String(),
		"duration", time.Since(start),
	)
	return err
}
