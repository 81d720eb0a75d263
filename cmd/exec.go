package cmd

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/urfave/cli"

	e "apiscope/error"
	"apiscope/pkg/analysis"
	"apiscope/pkg/prowler"
	"apiscope/pkg/terminal"
	"apiscope/service"
	"apiscope/service/grpc"
	"apiscope/service/http"
	"apiscope/utils"
)

type ExecType int

const (
	Attach ExecType = iota
	Serve
	Conn
	Batch
)

const (
	defaultAddr = "127.0.0.1:0"
)

type executor struct {
	et       ExecType
	ctx      *cli.Context
	prowler  *prowler.Prowler
	analyzer *analysis.Analyzer
	// line is the terminal command run by Batch.
	line string
}

func newExecutor(et ExecType, pid int, ctx *cli.Context) (*executor, error) {
	ex := &executor{
		et:  et,
		ctx: ctx,
	}
	if et == Conn {
		return ex, nil
	}

	p, err := prowler.NewProwler(pid)
	if err != nil {
		return nil, err
	}
	a, err := analysis.New(p, analysisConfig(ctx), analysis.Loggers{})
	if err != nil {
		p.Close()
		return nil, err
	}
	ex.prowler = p
	ex.analyzer = a
	return ex, nil
}

func (ex *executor) run() error {
	if ex.prowler != nil {
		defer ex.prowler.Close()
	}

	switch ex.et {
	case Attach:
		return ex.attach()
	case Serve:
		return ex.serve()
	case Conn:
		args := ex.ctx.Args()
		return ex.connect(args.First())
	case Batch:
		return ex.batch()
	}

	return nil
}

func exec(et ExecType, pid int, ctx *cli.Context) error {
	ex, err := newExecutor(et, pid, ctx)
	if err != nil {
		return err
	}
	return ex.run()
}

// execLine runs a single terminal command against the process named by
// the first argument.
func execLine(ctx *cli.Context, name string, args ...string) error {
	pid, err := strconv.Atoi(ctx.Args().First())
	if err != nil {
		return err
	}

	ex, err := newExecutor(Batch, pid, ctx)
	if err != nil {
		return err
	}
	ex.line = commandLine(name, args...)
	return ex.run()
}

func commandLine(name string, args ...string) string {
	parts := []string{name}
	for _, a := range args {
		parts = append(parts, strconv.Quote(a))
	}
	return strings.Join(parts, " ")
}

func (ex *executor) transport() service.Transport {
	if srv := ex.ctx.String("srv"); srv != "" {
		return service.Transport(srv)
	}
	return service.HTTP
}

func (ex *executor) startServer(addr string, filter *utils.IPFilter) (service.Server, net.Listener, error) {
	var server service.Server

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to listen: %w", err)
	}

	config := service.Config{
		Listener: listener,
		Analyzer: ex.analyzer,
		Filter:   filter,
	}
	switch ex.transport() {
	case service.HTTP:
		server = http.NewServer(config)
	case service.GRPC:
		server = grpc.NewServer(config)
	default:
		listener.Close()
		return nil, nil, fmt.Errorf("unknown transport %q: %w", ex.transport(), e.ErrInvalidArgument)
	}

	if err := server.Run(); err != nil {
		listener.Close()
		return nil, nil, err
	}
	return server, listener, nil
}

func (ex *executor) listen() (service.Server, net.Listener, error) {
	filter, err := utils.ParseIPFilter(ex.ctx.String("allow"))
	if err != nil {
		return nil, nil, err
	}
	return ex.startServer(ex.ctx.String("addr"), filter)
}

func (ex *executor) attach() error {
	server, listener, err := ex.listen()
	if err != nil {
		return err
	}
	defer server.Stop()

	fmt.Printf("%s server listening at: %s\n", ex.transport(), listener.Addr())
	return ex.connect(listener.Addr().String())
}

func (ex *executor) serve() error {
	server, listener, err := ex.listen()
	if err != nil {
		return err
	}
	defer server.Stop()

	fmt.Printf("%s server listening at: %s\n", ex.transport(), listener.Addr())

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(ch)
	<-ch
	return nil
}

func (ex *executor) batch() error {
	server, listener, err := ex.startServer(defaultAddr, nil)
	if err != nil {
		return err
	}
	defer server.Stop()

	client, err := ex.dial(listener.Addr().String())
	if err != nil {
		return err
	}
	return terminal.NewBatch(client).Exec(ex.line)
}

func (ex *executor) dial(addr string) (service.Client, error) {
	switch ex.transport() {
	case service.HTTP:
		return http.NewClient(addr)
	case service.GRPC:
		return grpc.NewClient(addr)
	}
	return nil, fmt.Errorf("unknown transport %q: %w", ex.transport(), e.ErrInvalidArgument)
}

func (ex *executor) connect(addr string) error {
	client, err := ex.dial(addr)
	if err != nil {
		return err
	}

	term := terminal.New(client)
	return term.Run()
}
