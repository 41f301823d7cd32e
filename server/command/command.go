// Package command implements a small pflag-based subcommand framework.
package command

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/juju/errors"
	"github.com/spf13/pflag"
)

var ErrCommandNotFound = errors.New("command not found")

// Handler handles a parsed command invocation. It receives the arguments
// left over after flag parsing.
type Handler interface {
	Handle(ctx context.Context, args []string) error
}

// HandlerFunc is a functional implementation of Handler.
type HandlerFunc func(ctx context.Context, args []string) error

func (h HandlerFunc) Handle(ctx context.Context, args []string) error {
	return h(ctx, args)
}

// FlagRegistry registers command-specific flags before parsing.
type FlagRegistry interface {
	RegisterFlags(cmd *Command, flags *pflag.FlagSet)
}

type Params struct {
	Name         string
	Desc         string
	FlagRegistry FlagRegistry
	Handler      Handler
	SubCommands  []*Command
	// DefaultSubCommand is invoked when no subcommand was named.
	DefaultSubCommand string
}

type Command struct {
	params      Params
	subCommands map[string]*Command
	writer      io.Writer
}

func New(params Params) *Command {
	var subCommands map[string]*Command

	if len(params.SubCommands) > 0 {
		subCommands = make(map[string]*Command, len(params.SubCommands))

		for _, cmd := range params.SubCommands {
			subCommands[cmd.Name()] = cmd
		}
	}

	c := &Command{
		params:      params,
		subCommands: subCommands,
	}

	c.SetWriter(os.Stderr)

	return c
}

func (c *Command) SetWriter(w io.Writer) {
	c.writer = w

	for _, s := range c.params.SubCommands {
		s.SetWriter(w)
	}
}

func (c *Command) Name() string {
	return c.params.Name
}

func (c *Command) Desc() string {
	return c.params.Desc
}

func (c *Command) usage(flags *pflag.FlagSet) {
	var b bytes.Buffer

	flagUsages := flags.FlagUsages()

	b.WriteString("Usage: ")
	b.WriteString(c.params.Name)

	if flagUsages != "" {
		b.WriteString(" [OPTIONS]")
	}

	if len(c.params.SubCommands) > 0 {
		b.WriteString(" [COMMAND] [ARG...]")
	}

	b.WriteString("\n")
	b.WriteString(c.params.Desc)
	b.WriteString("\n")

	if flagUsages != "" {
		b.WriteString("\nOptions:\n")
		b.WriteString(flagUsages)
	}

	if len(c.params.SubCommands) > 0 {
		b.WriteString("\nCommands:\n")

		for _, s := range c.params.SubCommands {
			fmt.Fprintf(&b, "  %-12s %s\n", s.Name(), s.Desc())
		}
	}

	_, _ = b.WriteTo(c.writer)
}

// Exec parses flags from args, runs the handler and dispatches to a
// subcommand when one is named. The context is canceled on SIGINT or
// SIGTERM.
func (c *Command) Exec(ctx context.Context, args []string) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return errors.Trace(c.exec(ctx, args))
}

func (c *Command) exec(ctx context.Context, args []string) error {
	flags := pflag.NewFlagSet(c.Name(), pflag.ContinueOnError)
	flags.SetOutput(c.writer)
	flags.SetInterspersed(false)

	flags.Usage = func() {
		c.usage(flags)
	}

	if c.params.FlagRegistry != nil {
		c.params.FlagRegistry.RegisterFlags(c, flags)
	}

	if err := flags.Parse(args); err != nil {
		return errors.Annotatef(err, "parse args for command: %s", c.params.Name)
	}

	args = flags.Args()

	if len(args) == 0 && c.params.DefaultSubCommand != "" {
		args = []string{c.params.DefaultSubCommand}
	}

	if len(args) > 0 && len(c.subCommands) > 0 {
		subCommand, ok := c.subCommands[args[0]]
		if !ok {
			return errors.Annotatef(ErrCommandNotFound, "command: %s", args[0])
		}

		return errors.Trace(subCommand.exec(ctx, args[1:]))
	}

	if c.params.Handler != nil {
		return errors.Trace(c.params.Handler.Handle(ctx, args))
	}

	c.usage(flags)

	return nil
}
