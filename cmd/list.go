package cmd

import (
	"github.com/urfave/cli"

	"apiscope/utils"
)

var list = cli.Command{
	Name:      "ls",
	Usage:     "display the exported functions of the modules loaded in the process",
	ArgsUsage: "<pid>",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "prefix, p",
			Usage: "qualified name prefix filtering, e.g. kernel32.Create",
		},
	},
	Action: func(context *cli.Context) error {
		if err := utils.CheckArgs(context, 1, utils.ExactArgs, pidArgsCheck); err != nil {
			return err
		}

		var args []string
		if prefix := context.String("prefix"); prefix != "" {
			args = append(args, prefix)
		}
		return execLine(context, "symbols", args...)
	},
}

var memmap = cli.Command{
	Name:      "memmap",
	Usage:     "display the committed memory regions of the process",
	ArgsUsage: "<pid>",
	Action: func(context *cli.Context) error {
		if err := utils.CheckArgs(context, 1, utils.ExactArgs, pidArgsCheck); err != nil {
			return err
		}

		return execLine(context, "memmap")
	},
}
