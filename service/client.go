package service

import "apiscope/service/api"

type Transport string

const (
	HTTP Transport = "http"
	GRPC Transport = "grpc"
)

// Client talks to a running apiscope server. Invalid arguments come back
// wrapped around error.ErrInvalidArgument whatever the transport.
type Client interface {
	Ping() (*api.Pong, error)
	GetMemoryMap() ([]api.MemoryRegion, error)
	ReadMemoryRegions(regions []api.RegionRequest) ([]api.MemoryChunk, error)
	AnalyzeExternalRefs(req api.AnalyzeRequest) (*api.AnalyzeResult, error)
	CheckPEHeaders(base, size uint64) (*api.PEHeaders, error)
	Symbols(prefix string) ([]string, error)
	Close() error
}
