package http

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"apiscope/pkg/logflags"
	"apiscope/service"
)

type Server struct {
	service.ServerImpl
	httpServer *http.Server
	pool       sync.Pool
}

func NewServer(config service.Config) *Server {
	s := &Server{
		ServerImpl: service.NewServerImpl(config, logflags.HTTPLogger),
	}
	s.pool = sync.Pool{
		New: func() interface{} {
			return newProcessor(s.Analyzer)
		},
	}

	s.httpServer = &http.Server{
		Handler: s,
	}

	return s
}

// Run serves in the background until Stop is called.
func (s *Server) Run() error {
	go func() {
		defer close(s.StopChan)
		if err := s.httpServer.Serve(s.Listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.Logger.Errorw("http server stopped", "err", err)
		}
	}()

	s.Logger.Infow("http server listening", "addr", s.Listener.Addr().String(), "allow", s.Filter.String())
	return nil
}

func (s *Server) Stop() error {
	return s.httpServer.Shutdown(context.Background())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := newContext(s.Logger, w, r)
	p := s.pool.Get().(*processor)
	defer s.pool.Put(p)

	ctx.chain = httpHandlerChain(s.Allowed, p.worker)
	ctx.chain.exec(ctx)
	printResponse(ctx)
}
