package http

import (
	"io"
	"net/http"

	"github.com/google/uuid"

	"apiscope/utils"
)

type Handler func(ctx *Context)

type HandlerChain []Handler

func httpHandlerChain(filter func(ip string) bool, do Handler) HandlerChain {
	return []Handler{
		parseRequest,
		filterClient(filter),
		printRequest,
		do,
	}
}

// exec runs the chain until a handler responds.
func (h HandlerChain) exec(ctx *Context) {
	for _, handler := range h {
		if ctx.responded() {
			return
		}
		handler(ctx)
	}
}

func parseRequest(ctx *Context) {
	if ctx.read != nil {
		r := &request{
			requestID: uuid.New().String(),
			url:       utils.GetFullURL(ctx.read),
			path:      ctx.read.URL.Path,
			method:    ctx.read.Method,
			clientIP:  utils.GetClientIP(ctx.read),
		}
		ctx.request = r

		bs, err := io.ReadAll(ctx.read.Body)
		if err != nil {
			ctx.respFailed(http.StatusBadRequest, err.Error())
			return
		}
		r.body = bs
	}
}

func filterClient(allowed func(ip string) bool) Handler {
	return func(ctx *Context) {
		req := ctx.request
		if req == nil || allowed == nil || allowed(req.clientIP) {
			return
		}
		if ctx.logger != nil {
			ctx.logger.Warnw("client rejected", "id", req.requestID, "clientIP", req.clientIP)
		}
		ctx.respFailed(http.StatusForbidden, http.StatusText(http.StatusForbidden))
	}
}

func printRequest(ctx *Context) {
	logger := ctx.logger
	req := ctx.request
	if logger != nil && req != nil {
		logger.Debug("=========== request info ===========")
		logger.Debugf("id: %s", req.requestID)
		logger.Debugf("url: %s", req.url)
		logger.Debugf("method: %s", req.method)
		logger.Debugf("clientIP: %s", req.clientIP)
		logger.Debugf("path: %s", req.path)
		logger.Debugf("body: %s", string(req.body))
	}
}

func printResponse(ctx *Context) {
	logger := ctx.logger
	res := ctx.response
	if logger != nil && res != nil {
		logger.Debug("=========== response info ===========")
		if ctx.request != nil {
			logger.Debugf("id: %s", ctx.request.requestID)
		}
		logger.Debugf("status: %d", res.Status)
		logger.Debugf("msg: %s", res.Msg)
		logger.Debugf("data: %+v", res.Data)
	}
}
