package cmd

import (
	"strconv"

	"github.com/urfave/cli"

	"apiscope/utils"
)

var attach = cli.Command{
	Name:      "attach",
	Usage:     "attach to a process, serve it and open a terminal on the server",
	ArgsUsage: "<pid>",
	Flags:     flagsOf(analysisFlags, serverFlags),
	Action: func(context *cli.Context) error {
		if err := utils.CheckArgs(context, 1, utils.ExactArgs, pidArgsCheck); err != nil {
			return err
		}

		pid, err := strconv.Atoi(context.Args().First())
		if err != nil {
			return err
		}
		return exec(Attach, pid, context)
	},
}

var serve = cli.Command{
	Name:      "serve",
	Usage:     "attach to a process and serve it until interrupted",
	ArgsUsage: "<pid>",
	Flags:     flagsOf(analysisFlags, serverFlags),
	Action: func(context *cli.Context) error {
		if err := utils.CheckArgs(context, 1, utils.ExactArgs, pidArgsCheck); err != nil {
			return err
		}

		pid, err := strconv.Atoi(context.Args().First())
		if err != nil {
			return err
		}
		return exec(Serve, pid, context)
	},
}
