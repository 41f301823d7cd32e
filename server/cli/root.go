package cli

import (
	"github.com/classcall/classcall/server/command"
)

func NewRootCommand(props Props) *command.Command {
	return command.New(command.Params{
		Name:              "classcall",
		Desc:              "Classcall runs one-on-one tutoring video sessions.",
		DefaultSubCommand: "server",
		SubCommands: []*command.Command{
			newServerCmd(props),
			newSessionCmd(props),
			newVersionCmd(props),
		},
	})
}
