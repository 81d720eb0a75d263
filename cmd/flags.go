package cmd

import (
	"fmt"
	"strconv"

	"github.com/urfave/cli"

	"apiscope/pkg/analysis"
	"apiscope/pkg/disasm"
	"apiscope/utils"
)

var analysisFlags = []cli.Flag{
	cli.IntFlag{
		Name:  "bits, b",
		Usage: "decoder mode of the target, 32 or 64; also selects the pointer width",
		Value: 32,
	},
	cli.StringFlag{
		Name:  "syntax",
		Usage: "disassembly syntax: intel, att or go",
		Value: string(disasm.IntelSyntax),
	},
}

var serverFlags = []cli.Flag{
	cli.StringFlag{
		Name:  "srv",
		Usage: "transport used between server and client: http or grpc",
		Value: "http",
	},
	cli.StringFlag{
		Name:  "addr, a",
		Usage: "listen address of the server",
		Value: defaultAddr,
	},
	cli.StringFlag{
		Name:  "allow",
		Usage: "comma-separated client IPs or CIDRs allowed to connect, empty allows all",
	},
}

func analysisConfig(ctx *cli.Context) analysis.Config {
	return analysis.Config{
		Bits:   ctx.Int("bits"),
		Syntax: disasm.Syntax(ctx.String("syntax")),
	}
}

func flagsOf(groups ...[]cli.Flag) []cli.Flag {
	var flags []cli.Flag
	for _, g := range groups {
		flags = append(flags, g...)
	}
	return flags
}

func pidArgsCheck(args cli.Args) error {
	pid, err := strconv.Atoi(args.First())
	if err != nil {
		return fmt.Errorf("invalid pid %q", args.First())
	}
	if !utils.CheckPid(pid) {
		return fmt.Errorf("pid %d does not exist", pid)
	}

	return nil
}

// addrArgsCheck validates a pid followed by addresses.
func addrArgsCheck(args cli.Args) error {
	if err := pidArgsCheck(args); err != nil {
		return err
	}
	for _, a := range args.Tail() {
		if _, err := utils.ParseAddr(a); err != nil {
			return err
		}
	}
	return nil
}
