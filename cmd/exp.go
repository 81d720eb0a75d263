package cmd

import (
	"github.com/urfave/cli"

	"apiscope/pkg/logflags"
)

const (
	usage = `apiscope inspects a running process and lists the references its code makes
             to functions exported by other loaded modules`
)

func NewApp() *cli.App {
	app := cli.NewApp()
	app.Name = "apiscope"
	app.Usage = usage
	app.Flags = []cli.Flag{
		cli.BoolFlag{
			Name:  "logFlag, f",
			Usage: "enable debug logging",
		},
		cli.StringFlag{
			Name:  "logStr, s",
			Usage: "comma-separated components to debug: http, grpc, memory, index, scan, analysis",
		},
		cli.StringFlag{
			Name:  "logDesc, d",
			Usage: "specify the log file path or file descriptor",
			Value: logflags.DefaultLogDesc,
		},
	}
	app.Before = func(ctx *cli.Context) error {
		return logflags.Setup(ctx.Bool("logFlag"), ctx.String("logStr"), ctx.String("logDesc"))
	}
	app.After = func(ctx *cli.Context) error {
		logflags.Close()
		return nil
	}
	app.Commands = []cli.Command{
		attach,
		serve,
		conn,
		analyze,
		memmap,
		read,
		peHeaders,
		list,
	}

	return app
}
