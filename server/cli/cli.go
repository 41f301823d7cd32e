// Package cli wires configuration, the signaling server and the headless
// session peer into commands.
package cli

import (
	"context"

	"github.com/classcall/classcall/server/logger"
	"github.com/juju/errors"
)

type Props struct {
	Log     logger.Logger
	Version string
	Args    []string
}

func Exec(ctx context.Context, props Props) error {
	cmd := NewRootCommand(props)
	err := cmd.Exec(ctx, props.Args)

	return errors.Trace(err)
}
