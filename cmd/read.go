package cmd

import (
	"github.com/urfave/cli"

	"apiscope/utils"
)

var read = cli.Command{
	Name:      "read",
	Usage:     "dump process memory, guard pages are read without faulting",
	ArgsUsage: "<pid> <addr> [size]",
	Action: func(context *cli.Context) error {
		if err := utils.CheckArgs(context, 2, utils.MinArgs, addrArgsCheck); err != nil {
			return err
		}
		if err := utils.CheckArgs(context, 3, utils.MaxArgs, addrArgsCheck); err != nil {
			return err
		}

		return execLine(context, "read", context.Args().Tail()...)
	},
}

var peHeaders = cli.Command{
	Name:      "pe",
	Usage:     "parse the PE image mapped in a process and list its sections and exports",
	ArgsUsage: "<pid> <base> [size]",
	Action: func(context *cli.Context) error {
		if err := utils.CheckArgs(context, 2, utils.MinArgs, addrArgsCheck); err != nil {
			return err
		}
		if err := utils.CheckArgs(context, 3, utils.MaxArgs, addrArgsCheck); err != nil {
			return err
		}

		return execLine(context, "pe", context.Args().Tail()...)
	},
}
