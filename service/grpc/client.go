package grpc

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	e "apiscope/error"
	"apiscope/service/api"
)

const serverName = "apiscope"

type Client struct {
	addr    string
	conn    *grpc.ClientConn
	timeout time.Duration
}

// NewClient connects to addr and checks that an apiscope server answers.
// Extra options are appended to the defaults.
func NewClient(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	}, opts...)

	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, err
	}

	c := &Client{
		addr:    addr,
		conn:    conn,
		timeout: time.Second * 30,
	}

	pong, err := c.Ping()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%s is not an apiscope server: %w", addr, err)
	}
	if pong.Server != serverName {
		conn.Close()
		return nil, fmt.Errorf("%s is not an apiscope server", addr)
	}
	return c, nil
}

func (c *Client) invoke(method string, in, out interface{}) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	err := c.conn.Invoke(ctx, fullMethod(method), in, out)
	if err == nil {
		return nil
	}
	if st, ok := status.FromError(err); ok && st.Code() == codes.InvalidArgument {
		return fmt.Errorf("%w: %s", e.ErrInvalidArgument, st.Message())
	}
	return err
}

func (c *Client) Ping() (*api.Pong, error) {
	var pong api.Pong
	if err := c.invoke("Ping", &api.Empty{}, &pong); err != nil {
		return nil, err
	}
	return &pong, nil
}

func (c *Client) GetMemoryMap() ([]api.MemoryRegion, error) {
	var m api.MemoryMap
	if err := c.invoke("GetMemoryMap", &api.Empty{}, &m); err != nil {
		return nil, err
	}
	return m.Regions, nil
}

func (c *Client) ReadMemoryRegions(regions []api.RegionRequest) ([]api.MemoryChunk, error) {
	var res api.ReadResult
	if err := c.invoke("ReadMemoryRegions", &api.ReadRequest{Regions: regions}, &res); err != nil {
		return nil, err
	}
	return res.Memories, nil
}

func (c *Client) AnalyzeExternalRefs(req api.AnalyzeRequest) (*api.AnalyzeResult, error) {
	var res api.AnalyzeResult
	if err := c.invoke("AnalyzeExternalRefs", &req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) CheckPEHeaders(base, size uint64) (*api.PEHeaders, error) {
	var res api.PEHeaders
	if err := c.invoke("CheckPEHeaders", &api.PERequest{Base: base, Size: size}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) Symbols(prefix string) ([]string, error) {
	var res api.SymbolsResult
	if err := c.invoke("Symbols", &api.SymbolsRequest{Prefix: prefix}, &res); err != nil {
		return nil, err
	}
	return res.Names, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}
