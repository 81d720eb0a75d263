package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli"

	"apiscope/utils"
)

var conn = cli.Command{
	Name:      "conn",
	Usage:     "connect a terminal to a running apiscope server",
	ArgsUsage: "<addr>",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "srv",
			Usage: "transport of the server: http or grpc",
			Value: "http",
		},
	},
	Action: func(context *cli.Context) error {
		if err := utils.CheckArgs(context, 1, utils.ExactArgs, connArgsCheck); err != nil {
			return err
		}

		return exec(Conn, 0, context)
	},
}

func connArgsCheck(args cli.Args) error {
	addr := strings.TrimPrefix(args.First(), "http://")
	if utils.Telnet(addr, 5*time.Second) {
		return nil
	}

	return fmt.Errorf("invalid connection address: %s", addr)
}
