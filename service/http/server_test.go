package http

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	e "apiscope/error"
	"apiscope/pkg/analysis/analysistest"
	"apiscope/pkg/logflags"
	"apiscope/service"
	"apiscope/service/api"
	"apiscope/utils"
)

func newTestServer(t *testing.T, allow string) *Server {
	t.Helper()
	filter, err := utils.ParseIPFilter(allow)
	if err != nil {
		t.Fatal(err)
	}
	return NewServer(service.Config{
		Analyzer: analysistest.NewAnalyzer(t, analysistest.NewTarget()),
		Filter:   filter,
		Logger:   logflags.Nop(),
	})
}

func serve(s *Server, method, path, body, remote string) (*httptest.ResponseRecorder, clientResponse) {
	r := httptest.NewRequest(method, path, strings.NewReader(body))
	if remote != "" {
		r.RemoteAddr = remote
	}
	w := httptest.NewRecorder()
	s.ServeHTTP(w, r)

	var resp clientResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	return w, resp
}

func TestServeHTTPStatus(t *testing.T) {
	s := newTestServer(t, "")
	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{"ping", http.MethodGet, "/ping", "", http.StatusOK},
		{"memory map", http.MethodPost, "/memmap", "", http.StatusOK},
		{"unknown route", http.MethodGet, "/get", "", http.StatusNotFound},
		{"wrong method", http.MethodGet, "/analyze", "", http.StatusNotFound},
		{"malformed body", http.MethodPost, "/analyze", "{", http.StatusBadRequest},
		{"reversed range", http.MethodPost, "/analyze", `{"ea_from":16,"ea_to":8,"increment":1}`, http.StatusBadRequest},
		{"zero step", http.MethodPost, "/analyze", `{"ea_from":8,"ea_to":16}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, resp := serve(s, tt.method, tt.path, tt.body, "")
			if w.Code != tt.status || resp.Status != tt.status {
				t.Fatalf("HTTP %d, envelope status %d, want %d (%s)", w.Code, resp.Status, tt.status, w.Body.String())
			}
		})
	}
}

func TestServeHTTPFilter(t *testing.T) {
	s := newTestServer(t, "10.0.0.0/8, 192.168.1.7")

	tests := []struct {
		remote string
		status int
	}{
		{"10.1.2.3:5555", http.StatusOK},
		{"192.168.1.7:80", http.StatusOK},
		{"192.168.1.8:80", http.StatusForbidden},
		{"[::1]:80", http.StatusForbidden},
	}
	for _, tt := range tests {
		w, _ := serve(s, http.MethodGet, "/ping", "", tt.remote)
		if w.Code != tt.status {
			t.Errorf("client %s: HTTP %d, want %d", tt.remote, w.Code, tt.status)
		}
	}
}

func TestServeHTTPAnalyze(t *testing.T) {
	s := newTestServer(t, "")
	body := `{"ea_from":4198656,"ea_to":4198666,"increment":5,"analysing_base":4194304}`

	w, resp := serve(s, http.MethodPost, "/analyze", body, "")
	if w.Code != http.StatusOK {
		t.Fatalf("HTTP %d: %s", w.Code, w.Body.String())
	}

	var res api.AnalyzeResult
	if err := json.Unmarshal(resp.Data, &res); err != nil {
		t.Fatal(err)
	}
	if len(res.Refs) != 2 {
		t.Fatalf("refs = %+v", res.Refs)
	}
	if res.Refs[0].Kind != "immconst" || res.Refs[0].Proc != "CreateFileA" {
		t.Errorf("first ref = %+v", res.Refs[0])
	}
	if res.Refs[1].Kind != "jmpconst" || res.Refs[1].Proc != "HeapAlloc" {
		t.Errorf("second ref = %+v", res.Refs[1])
	}
	if res.Context.Eip != analysistest.CodeAddr {
		t.Errorf("context = %+v", res.Context)
	}
}

func TestClient(t *testing.T) {
	ts := httptest.NewServer(newTestServer(t, ""))
	defer ts.Close()

	var c service.Client
	c, err := NewClient(ts.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	pong, err := c.Ping()
	if err != nil || pong.Server != "apiscope" || pong.Bits != 32 {
		t.Fatalf("Ping() = %+v, %v", pong, err)
	}

	regions, err := c.GetMemoryMap()
	if err != nil {
		t.Fatal(err)
	}
	if len(regions) != 2 || regions[0].Owner != "'app'" || regions[1].Owner != "'kernel32'" || regions[0].Access != "r-x" {
		t.Fatalf("GetMemoryMap() = %+v", regions)
	}

	chunks, err := c.ReadMemoryRegions([]api.RegionRequest{{Addr: analysistest.CodeAddr, Size: 5}})
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 1 || string(chunks[0].Mem) != string(analysistest.Code[:5]) {
		t.Fatalf("ReadMemoryRegions() = %+v", chunks)
	}

	res, err := c.AnalyzeExternalRefs(api.AnalyzeRequest{
		From: analysistest.CodeAddr,
		To:   analysistest.CodeAddr + uint64(len(analysistest.Code)),
		Step: 5,
		Base: analysistest.AppBase,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Refs) != 2 || res.Refs[1].Value != analysistest.HeapAlloc {
		t.Fatalf("AnalyzeExternalRefs() = %+v", res)
	}

	_, err = c.AnalyzeExternalRefs(api.AnalyzeRequest{From: 2, To: 1, Step: 1})
	if !errors.Is(err, e.ErrInvalidArgument) {
		t.Fatalf("reversed range error = %v", err)
	}

	if _, err := c.CheckPEHeaders(analysistest.Kernel32Base, ^uint64(0)-0x100); !errors.Is(err, e.ErrInvalidArgument) {
		t.Fatalf("oversized image error = %v", err)
	}

	h, err := c.CheckPEHeaders(analysistest.Kernel32Base, 0x3000)
	if err != nil {
		t.Fatal(err)
	}
	if !h.Valid || len(h.Exports) != 2 || len(h.Sections) != 2 || h.Sections[0].Name != ".text" {
		t.Fatalf("CheckPEHeaders() = %+v", h)
	}

	h, err = c.CheckPEHeaders(analysistest.CodeAddr, 0x100)
	if err != nil {
		t.Fatal(err)
	}
	if h.Valid || len(h.Exports) != 0 || len(h.Sections) != 0 {
		t.Fatalf("CheckPEHeaders() on code = %+v", h)
	}

	names, err := c.Symbols("kernel32.H")
	if err != nil || len(names) != 1 || names[0] != "kernel32.HeapAlloc" {
		t.Fatalf("Symbols() = %v, %v", names, err)
	}
}

func TestNewClientRejectsOtherServers(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":200,"data":{"server":"gdbserver"}}`))
	}))
	defer ts.Close()

	if _, err := NewClient(ts.URL); err == nil {
		t.Fatal("NewClient accepted a foreign server")
	}
}

func TestRunStop(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	s := NewServer(service.Config{
		Listener: lis,
		Analyzer: analysistest.NewAnalyzer(t, analysistest.NewTarget()),
		Logger:   logflags.Nop(),
	})
	if err := s.Run(); err != nil {
		t.Fatal(err)
	}

	c, err := NewClient(lis.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	c.Close()

	if err := s.Stop(); err != nil {
		t.Fatal(err)
	}
	<-s.StopChan
}
