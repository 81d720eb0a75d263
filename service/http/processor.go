package http

import (
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/derekparker/trie"

	e "apiscope/error"
	"apiscope/pkg/analysis"
	"apiscope/service/api"
	"apiscope/utils"
)

const serverName = "apiscope"

type Router struct {
	method string
	path   string
	fn     func(ctx *Context)
}

type processor struct {
	analyzer *analysis.Analyzer
	router   []*Router
	trie     *trie.Trie
}

func (p *processor) route(method, path string) func(ctx *Context) {
	node, found := p.trie.Find(utils.MD5(methodPath(method, path)))
	if found {
		fn := node.Meta().(func(ctx *Context))
		return fn
	}

	return nil
}

func (p *processor) worker(ctx *Context) {
	req := ctx.request
	fn := p.route(req.method, req.path)
	if fn == nil {
		ctx.respFailed(http.StatusNotFound, http.StatusText(http.StatusNotFound))
		return
	}

	fn(ctx)
}

func newProcessor(a *analysis.Analyzer) *processor {
	proc := &processor{
		analyzer: a,
	}

	register(proc)
	return proc
}

func register(p *processor) {
	r := []*Router{
		{
			method: http.MethodGet,
			path:   "/ping",
			fn: func(ctx *Context) {
				ctx.respSuccess(&api.Pong{
					Server: serverName,
					Pid:    os.Getpid(),
					Bits:   p.analyzer.Config().Bits,
				})
			},
		},
		{
			method: http.MethodPost,
			path:   "/memmap",
			fn: func(ctx *Context) {
				regions, err := p.analyzer.GetMemoryMap()
				if err != nil {
					respError(ctx, err)
					return
				}
				ctx.respSuccess(api.ConvertRegions(regions))
			},
		},
		{
			method: http.MethodPost,
			path:   "/read",
			fn: func(ctx *Context) {
				var req api.ReadRequest
				if !ctx.bind(&req) {
					return
				}
				chunks, err := p.analyzer.ReadMemoryRegions(api.ConvertRegionRequests(req.Regions))
				if err != nil {
					respError(ctx, err)
					return
				}
				ctx.respSuccess(api.ConvertChunks(chunks))
			},
		},
		{
			method: http.MethodPost,
			path:   "/analyze",
			fn: func(ctx *Context) {
				var req api.AnalyzeRequest
				if !ctx.bind(&req) {
					return
				}
				res, err := p.analyzer.AnalyzeExternalRefs(req.From, req.To, req.Step, req.Base, req.Size)
				if err != nil {
					respError(ctx, err)
					return
				}
				ctx.respSuccess(api.ConvertResult(res))
			},
		},
		{
			method: http.MethodPost,
			path:   "/pe",
			fn: func(ctx *Context) {
				var req api.PERequest
				if !ctx.bind(&req) {
					return
				}
				h, err := p.analyzer.CheckPEHeaders(req.Base, req.Size)
				if err != nil {
					respError(ctx, err)
					return
				}
				ctx.respSuccess(api.ConvertPEHeaders(h))
			},
		},
		{
			method: http.MethodPost,
			path:   "/symbols",
			fn: func(ctx *Context) {
				var req api.SymbolsRequest
				if !ctx.bind(&req) {
					return
				}
				names, err := p.analyzer.Symbols(req.Prefix)
				if err != nil {
					respError(ctx, err)
					return
				}
				if names == nil {
					names = []string{}
				}
				ctx.respSuccess(&api.SymbolsResult{Names: names})
			},
		},
	}

	p.router = r

	t := trie.New()
	for _, router := range p.router {
		md5 := utils.MD5(methodPath(router.method, router.path))
		t.Add(md5, router.fn)
	}

	p.trie = t
}

func respError(ctx *Context, err error) {
	if errors.Is(err, e.ErrInvalidArgument) {
		ctx.respFailed(http.StatusBadRequest, err.Error())
		return
	}
	ctx.respFailed(http.StatusInternalServerError, err.Error())
}

func methodPath(method, path string) string {
	return fmt.Sprintf("%s:%s", method, path)
}
