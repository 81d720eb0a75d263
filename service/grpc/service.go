package grpc

import (
	"context"

	"google.golang.org/grpc"

	"apiscope/service/api"
)

const serviceName = "apiscope.Analysis"

// AnalysisServer is the server side of the apiscope.Analysis service.
type AnalysisServer interface {
	Ping(context.Context, *api.Empty) (*api.Pong, error)
	GetMemoryMap(context.Context, *api.Empty) (*api.MemoryMap, error)
	ReadMemoryRegions(context.Context, *api.ReadRequest) (*api.ReadResult, error)
	AnalyzeExternalRefs(context.Context, *api.AnalyzeRequest) (*api.AnalyzeResult, error)
	CheckPEHeaders(context.Context, *api.PERequest) (*api.PEHeaders, error)
	Symbols(context.Context, *api.SymbolsRequest) (*api.SymbolsResult, error)
}

func fullMethod(name string) string {
	return "/" + serviceName + "/" + name
}

// unaryHandler adapts a typed method to a grpc.MethodHandler.
func unaryHandler[Req, Resp any](name string, call func(AnalysisServer, context.Context, *Req) (*Resp, error)) func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(AnalysisServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: fullMethod(name),
		}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(AnalysisServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var analysisServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*AnalysisServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Ping", Handler: unaryHandler("Ping", AnalysisServer.Ping)},
		{MethodName: "GetMemoryMap", Handler: unaryHandler("GetMemoryMap", AnalysisServer.GetMemoryMap)},
		{MethodName: "ReadMemoryRegions", Handler: unaryHandler("ReadMemoryRegions", AnalysisServer.ReadMemoryRegions)},
		{MethodName: "AnalyzeExternalRefs", Handler: unaryHandler("AnalyzeExternalRefs", AnalysisServer.AnalyzeExternalRefs)},
		{MethodName: "CheckPEHeaders", Handler: unaryHandler("CheckPEHeaders", AnalysisServer.CheckPEHeaders)},
		{MethodName: "Symbols", Handler: unaryHandler("Symbols", AnalysisServer.Symbols)},
	},
	Metadata: "apiscope/analysis",
}
