package cmd

import (
	"github.com/urfave/cli"

	"apiscope/utils"
)

var analyze = cli.Command{
	Name:      "analyze",
	Usage:     "list the references to exports of other modules in [from, to) of a process",
	ArgsUsage: "<pid> <from> <to> [step] [base] [size]",
	Flags:     analysisFlags,
	Action: func(context *cli.Context) error {
		if err := utils.CheckArgs(context, 3, utils.MinArgs, addrArgsCheck); err != nil {
			return err
		}
		if err := utils.CheckArgs(context, 6, utils.MaxArgs, addrArgsCheck); err != nil {
			return err
		}

		return execLine(context, "analyze", context.Args().Tail()...)
	},
}
