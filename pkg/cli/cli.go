package cli

import (
	"context"

	"github.com/urfave/cli/v3"
)

type Error struct {
	Code    int
	Message string
}

func Run(ctx context.Context, argv []string) *Error {
	cmd := &cli.Command{
		Name:  "matins",
		Usage: "Daily devotional broadcaster with per-contact conversations",
		Commands: []*cli.Command{
			serveCommand(),
			sendCommand(),
			generateCommand(),
			consoleCommand(),
			historyCommand(),
			contactsCommand(),
		},
	}

	if err := cmd.Run(ctx, argv); err != nil {
		return &Error{
			Code:    1,
			Message: err.Error(),
		}
	}

	return nil
}

// flagSet concatenates flag groups
func flagSet(groups ...[]cli.Flag) []cli.Flag {
	var flags []cli.Flag
	for _, g := range groups {
		flags = append(flags, g...)
	}
	return flags
}
