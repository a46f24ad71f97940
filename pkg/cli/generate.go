package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/briandowns/spinner"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/matins/pkg/usecase/devotional"
	"github.com/urfave/cli/v3"
)

func generateCommand() *cli.Command {
	var cfg config

	return &cli.Command{
		Name:  "generate",
		Usage: "Generate today's devotional without sending or recording it",
		Flags: flagSet(
			storageFlags(&cfg),
			llmFlags(&cfg),
			generationFlags(&cfg),
			scheduleFlags(&cfg),
			knowledgeFlags(&cfg),
			loggingFlags(&cfg),
		),
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.withLogger(ctx)
			w := c.Root().Writer

			history := cfg.newHistory()
			service, err := cfg.newService(ctx)
			if err != nil {
				return err
			}
			generator, err := cfg.newGenerator(ctx, history, service)
			if err != nil {
				return err
			}
			defer func() { _ = generator.Close() }()

			loc, err := cfg.location()
			if err != nil {
				return err
			}
			formatter, err := cfg.formatter()
			if err != nil {
				return err
			}
			date := formatter.Date(time.Now().In(loc))

			s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(c.Root().ErrWriter))
			s.Suffix = " generating devotional for " + date
			s.Start()
			result, err := generator.Generate(ctx, date)
			s.Stop()
			if err != nil {
				return goerr.Wrap(err, "failed to generate devotional")
			}

			printResult(w, result)
			return nil
		},
	}
}

func printResult(w io.Writer, result *devotional.Result) {
	fmt.Fprintf(w, "%s\n\n", result.Content)
	citation := "(none)"
	if result.Reference != nil {
		citation = result.Reference.Citation
	}
	fmt.Fprintf(w, "citation: %s\nattempts: %d\nfallback: %t\n", citation, result.Attempts, result.Fallback)
}
