package http

import (
	"encoding/json"
	"fmt"
	"net/http"

	"apiscope/pkg/logflags"
)

type Context struct {
	logger   logflags.Logger
	chain    HandlerChain
	request  *request
	response *response
	read     *http.Request
	write    http.ResponseWriter
}

func newContext(logger logflags.Logger, w http.ResponseWriter, r *http.Request) *Context {
	return &Context{
		logger: logger,
		read:   r,
		write:  w,
	}
}

func (c *Context) respSuccess(data interface{}) {
	c.resp(http.StatusOK, "", data)
}

func (c *Context) respFailed(code int, message string) {
	c.resp(code, message, nil)
}

func (c *Context) resp(status int, msg string, data interface{}) {
	c.response = &response{
		Status: status,
		Msg:    msg,
		Data:   data,
	}

	bs, err := json.Marshal(c.response)
	if err != nil {
		c.write.WriteHeader(http.StatusInternalServerError)
		c.write.Write([]byte(err.Error()))
		return
	}
	c.write.Header().Set("Content-Type", "application/json")
	c.write.WriteHeader(status)
	c.write.Write(bs)
}

// responded reports whether a handler already answered the request.
func (c *Context) responded() bool {
	return c.response != nil
}

// bind decodes the request body into v. An empty body leaves v
// untouched. On failure a 400 is sent and false returned.
func (c *Context) bind(v interface{}) bool {
	if c.request == nil || len(c.request.body) == 0 {
		return true
	}
	if err := json.Unmarshal(c.request.body, v); err != nil {
		c.respFailed(http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}
