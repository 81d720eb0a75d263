package terminal

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"os/user"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/derekparker/trie"
	"github.com/fatih/color"
	"github.com/go-delve/liner"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"apiscope/service"
)

const (
	prompt             = "(apiscope) "
	configDir          = ".apiscope"
	historyFile string = ".apiscope_history"
)

type Term struct {
	client      service.Client
	prompt      string
	line        *liner.State
	cmds        *Commands
	historyFile *os.File
	stdout      io.Writer
	palette     palette
}

// palette colours the parts of command output. Colours are disabled when
// stdout is not a terminal.
type palette struct {
	addr   *color.Color
	symbol *color.Color
	kind   *color.Color
	dim    *color.Color
}

func newPalette(enabled bool) palette {
	p := palette{
		addr:   color.New(color.FgCyan),
		symbol: color.New(color.FgGreen, color.Bold),
		kind:   color.New(color.FgYellow),
		dim:    color.New(color.Faint),
	}
	for _, c := range []*color.Color{p.addr, p.symbol, p.kind, p.dim} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

func New(client service.Client) *Term {
	t := NewBatch(client)
	t.line = liner.NewLiner()
	return t
}

// NewBatch returns a terminal without line editing, for running single
// commands with Exec.
func NewBatch(client service.Client) *Term {
	fd := os.Stdout.Fd()
	colors := isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
	return newTerm(client, colorable.NewColorableStdout(), colors)
}

func newTerm(client service.Client, w io.Writer, colors bool) *Term {
	return &Term{
		client:  client,
		prompt:  prompt,
		stdout:  w,
		palette: newPalette(colors),
		cmds:    NewCommands(client),
	}
}

func (t *Term) sigintGuard(ch <-chan os.Signal) {
	for range ch {
		fmt.Fprintf(t.stdout, "received SIGINT, type 'exit' to leave\n")
	}
}

func (t *Term) Run() error {
	defer t.Close()

	var (
		err error
	)

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(ch)
	go t.sigintGuard(ch)

	cmds := trie.New()
	for _, cmd := range t.cmds.cmds {
		for _, alias := range cmd.aliases {
			cmds.Add(alias, nil)
		}
	}

	t.line.SetCompleter(func(line string) (c []string) {
		if strings.Contains(line, " ") {
			return nil
		}
		c = cmds.PrefixSearch(line)
		return
	})

	fullHistory := filepath.Join(getUserHomeDir(), configDir, historyFile)

	t.historyFile, err = os.OpenFile(fullHistory, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		if os.IsNotExist(err) {
			if err := os.MkdirAll(filepath.Dir(fullHistory), 0755); err != nil {
				return fmt.Errorf("create parent dir failed: %v", err)
			}

			t.historyFile, err = os.OpenFile(fullHistory, os.O_CREATE|os.O_RDWR, 0600)
		}
		if err != nil {
			fmt.Printf("Unable to open history file: %v. History will not be saved for this session.\n", err)
			t.historyFile = nil
		}
	}

	if t.historyFile != nil {
		if _, err = t.line.ReadHistory(t.historyFile); err != nil {
			fmt.Printf("Unable to read history file %s: %v\n", fullHistory, err)
		}
	}

	fmt.Fprintln(t.stdout, "Type 'help' for list of commands.")

	for {
		cmd, err := t.promptForInput()
		if err != nil {
			if err == io.EOF {
				fmt.Fprintln(t.stdout, "exit")
				return t.handleExit()
			}
			return errors.New("prompt for input failed")
		}

		if strings.TrimSpace(cmd) == "" {
			continue
		}

		if err = t.cmds.Call(cmd, t); err != nil {
			if _, ok := err.(ExitRequestError); ok {
				return t.handleExit()
			}

			fmt.Fprintf(os.Stderr, "Command failed: %s\n", err)
		}
	}
}

// Exec runs one command line and closes the terminal.
func (t *Term) Exec(cmdStr string) error {
	defer t.Close()
	return t.cmds.Call(cmdStr, t)
}

func (t *Term) Close() {
	if t.line != nil {
		t.line.Close()
	}
	if err := t.client.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "error closing connection: %v\n", err)
	}
}

func getUserHomeDir() string {
	userHomeDir := "."
	usr, err := user.Current()
	if err == nil {
		userHomeDir = usr.HomeDir
	}
	return userHomeDir
}

func (t *Term) promptForInput() (string, error) {
	l, err := t.line.Prompt(t.prompt)
	if err != nil {
		return "", err
	}

	l = strings.TrimSuffix(l, "\n")
	if l != "" {
		t.line.AppendHistory(l)
	}

	return l, nil
}

func (t *Term) handleExit() error {
	if t.historyFile != nil {
		if _, err := t.historyFile.Seek(0, io.SeekStart); err == nil {
			t.historyFile.Truncate(0)
		}
		if _, err := t.line.WriteHistory(t.historyFile); err != nil {
			fmt.Println("readline history error:", err)
			return err
		}
		if err := t.historyFile.Close(); err != nil {
			fmt.Printf("error closing history file: %s\n", err)
			return err
		}
	}

	return nil
}

// RedirectTo redirects the output of this terminal to the specified writer.
func (t *Term) RedirectTo(w io.Writer) {
	t.stdout = w
}
