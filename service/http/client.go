package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	e "apiscope/error"
	"apiscope/service/api"
)

type Client struct {
	addr   string
	url    string
	client *http.Client
}

func NewClient(addr string) (*Client, error) {
	addr = strings.TrimPrefix(addr, "http://")
	c := &Client{
		addr:   addr,
		url:    fmt.Sprintf("http://%s", addr),
		client: &http.Client{Timeout: time.Second * 30},
	}

	if !c.IsApiscopeServer() {
		return nil, fmt.Errorf("%s is not an apiscope server", c.addr)
	}
	return c, nil
}

func (c *Client) IsApiscopeServer() bool {
	if c.addr == "" {
		return false
	}

	pong, err := c.Ping()
	return err == nil && pong.Server == serverName
}

func (c *Client) Ping() (*api.Pong, error) {
	var pong api.Pong
	if err := c.do(http.MethodGet, "/ping", nil, &pong); err != nil {
		return nil, err
	}
	return &pong, nil
}

func (c *Client) GetMemoryMap() ([]api.MemoryRegion, error) {
	var m api.MemoryMap
	if err := c.do(http.MethodPost, "/memmap", nil, &m); err != nil {
		return nil, err
	}
	return m.Regions, nil
}

func (c *Client) ReadMemoryRegions(regions []api.RegionRequest) ([]api.MemoryChunk, error) {
	var res api.ReadResult
	if err := c.do(http.MethodPost, "/read", &api.ReadRequest{Regions: regions}, &res); err != nil {
		return nil, err
	}
	return res.Memories, nil
}

func (c *Client) AnalyzeExternalRefs(req api.AnalyzeRequest) (*api.AnalyzeResult, error) {
	var res api.AnalyzeResult
	if err := c.do(http.MethodPost, "/analyze", &req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) CheckPEHeaders(base, size uint64) (*api.PEHeaders, error) {
	var res api.PEHeaders
	if err := c.do(http.MethodPost, "/pe", &api.PERequest{Base: base, Size: size}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) Symbols(prefix string) ([]string, error) {
	var res api.SymbolsResult
	if err := c.do(http.MethodPost, "/symbols", &api.SymbolsRequest{Prefix: prefix}, &res); err != nil {
		return nil, err
	}
	return res.Names, nil
}

func (c *Client) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

// clientResponse mirrors response with the payload left undecoded.
type clientResponse struct {
	Status int             `json:"status"`
	Msg    string          `json:"msg"`
	Data   json.RawMessage `json:"data"`
}

func (c *Client) do(method, path string, in, out interface{}) error {
	var body io.Reader = http.NoBody
	if in != nil {
		bs, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(bs)
	}

	r, err := http.NewRequest(method, c.url+path, body)
	if err != nil {
		return err
	}
	r.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(r)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	bs, err := io.ReadAll(res.Body)
	if err != nil {
		return err
	}

	var resp clientResponse
	if err := json.Unmarshal(bs, &resp); err != nil {
		return fmt.Errorf("%s %s: malformed response (HTTP %d): %w", method, path, res.StatusCode, err)
	}

	switch {
	case resp.Status == http.StatusOK:
	case resp.Status == http.StatusBadRequest:
		return fmt.Errorf("%w: %s", e.ErrInvalidArgument, resp.Msg)
	default:
		return fmt.Errorf("%s %s: %d %s", method, path, resp.Status, resp.Msg)
	}

	if out == nil || len(resp.Data) == 0 {
		return nil
	}
	return json.Unmarshal(resp.Data, out)
}
