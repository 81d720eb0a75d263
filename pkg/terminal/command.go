package terminal

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/google/shlex"

	"apiscope/service"
	"apiscope/service/api"
	"apiscope/utils"
)

const (
	defaultReadSize = 0x40
	defaultPESize   = 0x1000
)

var argumentsErr = "invalid number of arguments, expected %s, actual %d"

type cmdFn func(term *Term, args []string) error

type command struct {
	aliases []string
	fn      cmdFn
	usage   string
	help    string
}

func (c command) match(cmdstr string) bool {
	for _, v := range c.aliases {
		if v == cmdstr {
			return true
		}
	}
	return false
}

type Commands struct {
	cmds   []command
	client service.Client
}

func NewCommands(client service.Client) *Commands {
	c := &Commands{
		client: client,
	}

	c.cmds = []command{
		{
			aliases: []string{"help", "h"},
			fn:      c.help,
			usage:   "help [command]",
			help: `Prints the help message.

Type "help" followed by the name of a command for more information about it.`},
		{
			aliases: []string{"ping"},
			fn:      ping,
			usage:   "ping",
			help:    "checks the server and prints its pid and mode.",
		},
		{
			aliases: []string{"memmap", "mm"},
			fn:      memmap,
			usage:   "memmap",
			help:    "lists the committed memory regions of the target with their protection and owning module.",
		},
		{
			aliases: []string{"read", "x"},
			fn:      read,
			usage:   "read <addr> [size]",
			help: `dumps target memory, unreadable pages show as zeros.

The size defaults to 0x40 bytes.`,
		},
		{
			aliases: []string{"analyze", "an"},
			fn:      analyze,
			usage:   "analyze <from> <to> [step] [base] [size]",
			help: `lists the references to exports of other modules in [from, to).

Every step bytes an instruction is decoded and its immediate, address and
branch operands are matched against the exports of the loaded modules.
Pointer sized values equal to an export are listed as constants. Exports
of the module containing base are ignored; base defaults to from and step
to 1.`,
		},
		{
			aliases: []string{"pe"},
			fn:      peHeaders,
			usage:   "pe <base> [size]",
			help:    "parses the PE image mapped at base and lists its sections and exports.",
		},
		{
			aliases: []string{"symbols", "syms"},
			fn:      symbols,
			usage:   "symbols [prefix]",
			help:    "lists the qualified export names (module.name) starting with prefix.",
		},
		{
			aliases: []string{"exit", "quit", "q"},
			fn:      exit,
			usage:   "exit",
			help:    "exit the client, the server keeps running",
		},
	}
	return c
}

// Find will look up the command function for the given command input.
// If it cannot find the command it will default to noCmdAvailable().
func (c *Commands) Find(cmdstr string) command {
	if cmdstr == "" {
		return command{aliases: []string{"nullcmd"}, fn: nullCommand}
	}

	for _, v := range c.cmds {
		if v.match(cmdstr) {
			return v
		}
	}

	return command{aliases: []string{"nocmd"}, fn: noCmdAvailable}
}

func (c *Commands) Call(cmdStr string, t *Term) error {
	args, err := shlex.Split(cmdStr)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		return nil
	}

	return c.Find(args[0]).fn(t, args[1:])
}

func (c *Commands) help(t *Term, args []string) error {
	if len(args) > 0 {
		cmd := c.Find(args[0])
		if len(cmd.usage) == 0 {
			return errNoCmd
		}
		fmt.Fprintf(t.stdout, "%s\n\n%s\n", cmd.usage, cmd.help)
		return nil
	}

	fmt.Fprintln(t.stdout, "The following commands are available:")
	w := new(tabwriter.Writer)
	w.Init(t.stdout, 0, 8, 0, '-', 0)
	for _, cmd := range c.cmds {
		h := cmd.help
		if idx := strings.Index(h, "\n"); idx >= 0 {
			h = h[:idx]
		}
		if len(cmd.aliases) > 1 {
			fmt.Fprintf(w, "    %s (alias: %s) \t %s\n", cmd.aliases[0], strings.Join(cmd.aliases[1:], " | "), h)
		} else {
			fmt.Fprintf(w, "    %s \t %s\n", cmd.aliases[0], h)
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(t.stdout)
	fmt.Fprintln(t.stdout, "Type help followed by a command for full documentation.")
	return nil
}

// parseAddrs parses args as addresses, filling missing optional ones
// from defaults. At least required values must be present.
func parseAddrs(args []string, required int, defaults ...uint64) ([]uint64, error) {
	if len(args) < required || len(args) > required+len(defaults) {
		expected := fmt.Sprint(required)
		if len(defaults) > 0 {
			expected = fmt.Sprintf("%d to %d", required, required+len(defaults))
		}
		return nil, fmt.Errorf(argumentsErr, expected, len(args))
	}

	vals := make([]uint64, required+len(defaults))
	copy(vals[required:], defaults)
	for i, a := range args {
		v, err := utils.ParseAddr(a)
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}
	return vals, nil
}

func ping(t *Term, args []string) error {
	pong, err := t.client.Ping()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(t.stdout, "%s server, pid %d, %d-bit\n", pong.Server, pong.Pid, pong.Bits)
	return err
}

func memmap(t *Term, args []string) error {
	regions, err := t.client.GetMemoryMap()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(t.stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "base\tsize\taccess\towner")
	for _, r := range regions {
		fmt.Fprintf(w, "%s\t%#x\t%s\t%s\n", t.palette.addr.Sprint(utils.FormatAddr(r.Base)), r.Size, r.Access, r.Owner)
	}
	return w.Flush()
}

func read(t *Term, args []string) error {
	vals, err := parseAddrs(args, 1, defaultReadSize)
	if err != nil {
		return err
	}

	chunks, err := t.client.ReadMemoryRegions([]api.RegionRequest{{Addr: vals[0], Size: vals[1]}})
	if err != nil {
		return err
	}
	for _, c := range chunks {
		utils.Hexdump(t.stdout, c.Addr, c.Mem)
	}
	return nil
}

func analyze(t *Term, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf(argumentsErr, "2 to 5", len(args))
	}
	from, err := utils.ParseAddr(args[0])
	if err != nil {
		return err
	}
	vals, err := parseAddrs(args, 2, 1, from, 0)
	if err != nil {
		return err
	}

	res, err := t.client.AnalyzeExternalRefs(api.AnalyzeRequest{
		From: vals[0],
		To:   vals[1],
		Step: vals[2],
		Base: vals[3],
		Size: vals[4],
	})
	if err != nil {
		return err
	}

	c := res.Context
	fmt.Fprintf(t.stdout, "eax=%08x ecx=%08x edx=%08x ebx=%08x\nesp=%08x ebp=%08x esi=%08x edi=%08x\neip=%08x\n",
		c.Eax, c.Ecx, c.Edx, c.Ebx, c.Esp, c.Ebp, c.Esi, c.Edi, c.Eip)

	w := tabwriter.NewWriter(t.stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintf(w, "\nrefs (%d)\n", len(res.Refs))
	for _, r := range res.Refs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			t.palette.addr.Sprint(utils.FormatAddr(r.Addr)),
			t.palette.kind.Sprint(r.Kind),
			t.palette.symbol.Sprint(r.Module+"."+r.Proc),
			t.palette.dim.Sprint(r.Dis))
	}
	fmt.Fprintf(w, "\napi constants (%d)\n", len(res.APIConstants))
	for _, k := range res.APIConstants {
		fmt.Fprintf(w, "%s\t%s\t%s\n",
			t.palette.addr.Sprint(utils.FormatAddr(k.Addr)),
			utils.FormatAddr(k.Value),
			t.palette.symbol.Sprint(k.Module+"."+k.Proc))
	}
	return w.Flush()
}

func peHeaders(t *Term, args []string) error {
	vals, err := parseAddrs(args, 1, defaultPESize)
	if err != nil {
		return err
	}

	h, err := t.client.CheckPEHeaders(vals[0], vals[1])
	if err != nil {
		return err
	}
	if !h.Valid {
		_, err := fmt.Fprintf(t.stdout, "no valid PE image at %s\n", utils.FormatAddr(vals[0]))
		return err
	}

	w := tabwriter.NewWriter(t.stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintf(w, "sections (%d)\n", len(h.Sections))
	for _, s := range h.Sections {
		fmt.Fprintf(w, "%s\t%#x\t%#x\t%#08x\n", s.Name, s.VirtualAddress, s.VirtualSize, s.Characteristics)
	}
	fmt.Fprintf(w, "\nexports (%d)\n", len(h.Exports))
	for _, x := range h.Exports {
		name := x.Name
		if name == "" {
			name = fmt.Sprintf("#%d", x.Ordinal)
		}
		target := utils.FormatAddr(x.Address)
		if x.Forwarder != "" {
			target = "-> " + x.Forwarder
		}
		fmt.Fprintf(w, "%d\t%s\t%s\n", x.Ordinal, t.palette.symbol.Sprint(name), target)
	}
	return w.Flush()
}

func symbols(t *Term, args []string) error {
	if len(args) > 1 {
		return fmt.Errorf(argumentsErr, "0 to 1", len(args))
	}
	prefix := ""
	if len(args) == 1 {
		prefix = args[0]
	}

	names, err := t.client.Symbols(prefix)
	if err != nil {
		return err
	}
	utils.PrintStringLine(t.stdout, names...)
	return nil
}

type ExitRequestError struct{}

func (ere ExitRequestError) Error() string {
	return ""
}

func exit(t *Term, args []string) error {
	return ExitRequestError{}
}

var errNoCmd = errors.New("command not available")

func noCmdAvailable(t *Term, args []string) error {
	return errNoCmd
}

func nullCommand(t *Term, args []string) error {
	return nil
}
