package cli

import (
	"context"
	"fmt"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/matins/pkg/usecase/broadcast"
	"github.com/urfave/cli/v3"
)

func sendCommand() *cli.Command {
	var cfg config

	return &cli.Command{
		Name:  "send",
		Usage: "Run one broadcast cycle now",
		Flags: flagSet(
			storageFlags(&cfg),
			llmFlags(&cfg),
			generationFlags(&cfg),
			scheduleFlags(&cfg),
			transportFlags(&cfg),
			contactFlags(&cfg),
			knowledgeFlags(&cfg),
			loggingFlags(&cfg),
		),
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.withLogger(ctx)

			if err := cfg.ensureDirs(); err != nil {
				return err
			}

			history, conversations := cfg.newStores()

			service, err := cfg.newService(ctx)
			if err != nil {
				return err
			}
			generator, err := cfg.newGenerator(ctx, history, service)
			if err != nil {
				return err
			}
			defer func() { _ = generator.Close() }()

			contacts, closeContacts, err := cfg.newContacts(ctx)
			if err != nil {
				return err
			}
			defer closeContacts()

			loc, err := cfg.location()
			if err != nil {
				return err
			}
			formatter, err := cfg.formatter()
			if err != nil {
				return err
			}

			b := broadcast.New(generator, history, conversations, contacts, cfg.newTransport(c.Root().Writer),
				broadcast.WithFormatter(formatter),
				broadcast.WithLocation(loc),
			)

			report, err := b.Run(ctx)
			if report != nil {
				fmt.Fprintf(c.Root().Writer, "run %s: %d/%d delivered (fallback: %t)\n",
					report.RunID, report.SuccessCount, report.TotalTargets, report.Fallback)
				for _, id := range report.Failed {
					fmt.Fprintf(c.Root().Writer, "  failed: %s\n", id)
				}
			}
			if err != nil {
				return goerr.Wrap(err, "broadcast did not complete")
			}
			return nil
		},
	}
}
