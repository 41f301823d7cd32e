package command_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/classcall/classcall/server/command"
	"github.com/classcall/classcall/server/multierr"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flagRegistryFunc func(cmd *command.Command, flags *pflag.FlagSet)

func (f flagRegistryFunc) RegisterFlags(cmd *command.Command, flags *pflag.FlagSet) {
	f(cmd, flags)
}

func TestCommand_Handler(t *testing.T) {
	var got []string

	cmd := command.New(command.Params{
		Name: "test",
		Handler: command.HandlerFunc(func(ctx context.Context, args []string) error {
			got = args

			return nil
		}),
	})

	err := cmd.Exec(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestCommand_Flags(t *testing.T) {
	var name string

	cmd := command.New(command.Params{
		Name: "test",
		FlagRegistry: flagRegistryFunc(func(cmd *command.Command, flags *pflag.FlagSet) {
			flags.StringVar(&name, "name", "", "name to use")
		}),
		Handler: command.HandlerFunc(func(ctx context.Context, args []string) error {
			return nil
		}),
	})

	err := cmd.Exec(context.Background(), []string{"--name", "value"})
	require.NoError(t, err)
	assert.Equal(t, "value", name)
}

func TestCommand_SubCommand(t *testing.T) {
	invoked := false

	sub := command.New(command.Params{
		Name: "sub",
		Handler: command.HandlerFunc(func(ctx context.Context, args []string) error {
			invoked = true

			return nil
		}),
	})

	cmd := command.New(command.Params{
		Name:        "root",
		SubCommands: []*command.Command{sub},
	})

	err := cmd.Exec(context.Background(), []string{"sub"})
	require.NoError(t, err)
	assert.True(t, invoked)
}

func TestCommand_DefaultSubCommand(t *testing.T) {
	invoked := false

	sub := command.New(command.Params{
		Name: "sub",
		Handler: command.HandlerFunc(func(ctx context.Context, args []string) error {
			invoked = true

			return nil
		}),
	})

	cmd := command.New(command.Params{
		Name:              "root",
		SubCommands:       []*command.Command{sub},
		DefaultSubCommand: "sub",
	})

	err := cmd.Exec(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, invoked)
}

func TestCommand_NotFound(t *testing.T) {
	cmd := command.New(command.Params{
		Name:        "root",
		SubCommands: []*command.Command{command.New(command.Params{Name: "sub"})},
	})
	cmd.SetWriter(&bytes.Buffer{})

	err := cmd.Exec(context.Background(), []string{"missing"})
	assert.True(t, multierr.Is(err, command.ErrCommandNotFound))
}

func TestCommand_Help(t *testing.T) {
	var buf bytes.Buffer

	cmd := command.New(command.Params{
		Name:        "root",
		Desc:        "root command",
		SubCommands: []*command.Command{command.New(command.Params{Name: "sub", Desc: "sub command"})},
	})
	cmd.SetWriter(&buf)

	err := cmd.Exec(context.Background(), []string{"--help"})
	assert.True(t, multierr.Is(err, pflag.ErrHelp))
	assert.Contains(t, buf.String(), "sub command")
}
