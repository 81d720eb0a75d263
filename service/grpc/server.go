package grpc

import (
	"context"
	"errors"
	"os"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	e "apiscope/error"
	"apiscope/pkg/logflags"
	"apiscope/service"
	"apiscope/service/api"
)

type Server struct {
	service.ServerImpl
	grpcServer *grpc.Server
}

func NewServer(config service.Config) *Server {
	s := &Server{
		ServerImpl: service.NewServerImpl(config, logflags.GRPCLogger),
	}
	s.grpcServer = grpc.NewServer(grpc.ChainUnaryInterceptor(s.filterPeer, s.logCall, s.recoverCall))
	s.grpcServer.RegisterService(&analysisServiceDesc, s)
	return s
}

// Run serves in the background until Stop is called.
func (s *Server) Run() error {
	go func() {
		defer close(s.StopChan)
		if err := s.grpcServer.Serve(s.Listener); err != nil {
			s.Logger.Errorw("grpc server stopped", "err", err)
		}
	}()

	s.Logger.Infow("grpc server listening", "addr", s.Listener.Addr().String(), "allow", s.Filter.String())
	return nil
}

func (s *Server) Stop() error {
	s.grpcServer.GracefulStop()
	return nil
}

func (s *Server) filterPeer(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	addr := ""
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		addr = p.Addr.String()
	}
	if !s.Allowed(addr) {
		s.Logger.Warnw("client rejected", "method", info.FullMethod, "clientIP", addr)
		return nil, status.Error(codes.PermissionDenied, "client not allowed")
	}
	return handler(ctx, req)
}

func (s *Server) logCall(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	id := uuid.New().String()
	s.Logger.Debugw("request", "id", id, "method", info.FullMethod, "req", req)
	resp, err := handler(ctx, req)
	if err != nil {
		s.Logger.Debugw("response", "id", id, "err", err)
	} else {
		s.Logger.Debugw("response", "id", id, "resp", resp)
	}
	return resp, err
}

// recoverCall turns a panic inside a handler into an Internal status.
func (s *Server) recoverCall(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.Logger.Errorw("recovered while handling call", "method", info.FullMethod, "err", r)
			err = status.Errorf(codes.Internal, "%s: %v", info.FullMethod, r)
		}
	}()
	return handler(ctx, req)
}

func toStatus(err error) error {
	if errors.Is(err, e.ErrInvalidArgument) {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

func (s *Server) Ping(context.Context, *api.Empty) (*api.Pong, error) {
	return &api.Pong{
		Server: serverName,
		Pid:    os.Getpid(),
		Bits:   s.Analyzer.Config().Bits,
	}, nil
}

func (s *Server) GetMemoryMap(context.Context, *api.Empty) (*api.MemoryMap, error) {
	regions, err := s.Analyzer.GetMemoryMap()
	if err != nil {
		return nil, toStatus(err)
	}
	return api.ConvertRegions(regions), nil
}

func (s *Server) ReadMemoryRegions(_ context.Context, req *api.ReadRequest) (*api.ReadResult, error) {
	chunks, err := s.Analyzer.ReadMemoryRegions(api.ConvertRegionRequests(req.Regions))
	if err != nil {
		return nil, toStatus(err)
	}
	return api.ConvertChunks(chunks), nil
}

func (s *Server) AnalyzeExternalRefs(_ context.Context, req *api.AnalyzeRequest) (*api.AnalyzeResult, error) {
	res, err := s.Analyzer.AnalyzeExternalRefs(req.From, req.To, req.Step, req.Base, req.Size)
	if err != nil {
		return nil, toStatus(err)
	}
	return api.ConvertResult(res), nil
}

func (s *Server) CheckPEHeaders(_ context.Context, req *api.PERequest) (*api.PEHeaders, error) {
	h, err := s.Analyzer.CheckPEHeaders(req.Base, req.Size)
	if err != nil {
		return nil, toStatus(err)
	}
	return api.ConvertPEHeaders(h), nil
}

func (s *Server) Symbols(_ context.Context, req *api.SymbolsRequest) (*api.SymbolsResult, error) {
	names, err := s.Analyzer.Symbols(req.Prefix)
	if err != nil {
		return nil, toStatus(err)
	}
	if names == nil {
		names = []string{}
	}
	return &api.SymbolsResult{Names: names}, nil
}
