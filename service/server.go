package service

import (
	"net"

	"apiscope/pkg/analysis"
	"apiscope/pkg/logflags"
	"apiscope/utils"
)

// Server represents a server for a remote client
// to connect to.
type Server interface {
	Run() error
	Stop() error
}

// Config is what every transport needs to serve an Analyzer.
type Config struct {
	Listener net.Listener
	Analyzer *analysis.Analyzer
	// Filter restricts the clients allowed to connect. Nil allows
	// everyone.
	Filter *utils.IPFilter
	Logger logflags.Logger
}

type ServerImpl struct {
	Logger   logflags.Logger
	Listener net.Listener
	Analyzer *analysis.Analyzer
	Filter   *utils.IPFilter
	StopChan chan struct{}
}

func NewServerImpl(config Config, defaultLogger func() logflags.Logger) ServerImpl {
	logger := config.Logger
	if logger == nil {
		logger = defaultLogger()
	}
	return ServerImpl{
		Logger:   logger,
		Listener: config.Listener,
		Analyzer: config.Analyzer,
		Filter:   config.Filter,
		StopChan: make(chan struct{}),
	}
}

// Allowed reports whether a client at ip may use the server.
func (si *ServerImpl) Allowed(ip string) bool {
	return si.Filter.Allowed(ip)
}
