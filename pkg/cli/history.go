package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/matins/pkg/citation"
	"github.com/urfave/cli/v3"
)

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Inspect and maintain the send-event history",
		Commands: []*cli.Command{
			historyListCommand(),
			historyRepairCommand(),
			historyExportCommand(),
			historyCheckCommand(),
		},
	}
}

func historyListCommand() *cli.Command {
	var cfg config

	return &cli.Command{
		Name:  "list",
		Usage: "List retained send events",
		Flags: flagSet(storageFlags(&cfg), loggingFlags(&cfg)),
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.withLogger(ctx)

			events, err := cfg.newHistory().Events(ctx)
			if err != nil {
				return goerr.Wrap(err, "failed to read history")
			}

			if len(events) == 0 {
				fmt.Fprintf(c.Root().Writer, "No send events recorded\n")
				return nil
			}
			for _, ev := range events {
				cite := "-"
				if ev.Reference != nil && !ev.Reference.IsZero() {
					cite = ev.Reference.Citation
				}
				fmt.Fprintf(c.Root().Writer, "%s\t%s\t%s\t%d/%d\n",
					ev.OccurredAt.Format("2006-01-02 15:04:05"),
					ev.Date,
					cite,
					ev.SuccessCount,
					ev.TotalTargets,
				)
			}
			return nil
		},
	}
}

func historyRepairCommand() *cli.Command {
	var cfg config

	return &cli.Command{
		Name:  "repair",
		Usage: "Create, migrate or recover the history file",
		Flags: flagSet(storageFlags(&cfg), loggingFlags(&cfg)),
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.withLogger(ctx)

			report, err := cfg.newHistory().Repair(ctx)
			if err != nil {
				return goerr.Wrap(err, "failed to repair history")
			}

			w := c.Root().Writer
			fmt.Fprintf(w, "history: %s\n", report.Path)
			switch {
			case report.Created:
				fmt.Fprintf(w, "status: created\n")
			case report.BackupPath != "":
				fmt.Fprintf(w, "status: reinitialized (backup: %s)\n", report.BackupPath)
			case report.Migrated:
				fmt.Fprintf(w, "status: migrated from legacy format\n")
			case report.Healed:
				fmt.Fprintf(w, "status: healed\n")
			default:
				fmt.Fprintf(w, "status: ok\n")
			}
			fmt.Fprintf(w, "events: %d\n", report.Events)
			return nil
		},
	}
}

func historyExportCommand() *cli.Command {
	var (
		cfg    config
		bucket string
		object string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "bucket",
			Usage:       "Cloud Storage bucket to export to",
			Sources:     cli.EnvVars("MATINS_EXPORT_BUCKET"),
			Destination: &bucket,
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "object",
			Usage:       "Object name (default: history/history-<timestamp>.json)",
			Destination: &object,
		},
	}

	return &cli.Command{
		Name:  "export",
		Usage: "Upload the history to Cloud Storage",
		Flags: flagSet(flags, storageFlags(&cfg), loggingFlags(&cfg)),
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.withLogger(ctx)

			hist, err := cfg.newHistory().Load(ctx)
			if err != nil {
				return goerr.Wrap(err, "failed to read history")
			}

			storage, err := cfg.newStorage(ctx, bucket)
			if err != nil {
				return err
			}

			if object == "" {
				object = fmt.Sprintf("history/history-%s.json", time.Now().UTC().Format("20060102T150405"))
			}

			wc, err := storage.Put(ctx, object)
			if err != nil {
				return goerr.Wrap(err, "failed to open object", goerr.V("object", object))
			}
			enc := json.NewEncoder(wc)
			enc.SetIndent("", "  ")
			if err := enc.Encode(hist); err != nil {
				_ = wc.Close()
				return goerr.Wrap(err, "failed to write history", goerr.V("object", object))
			}
			if err := wc.Close(); err != nil {
				return goerr.Wrap(err, "failed to upload history", goerr.V("object", object))
			}

			fmt.Fprintf(c.Root().Writer, "exported %d events to gs://%s/%s\n", len(hist.Events), bucket, object)
			return nil
		},
	}
}

func historyCheckCommand() *cli.Command {
	var cfg config

	return &cli.Command{
		Name:      "check",
		Usage:     "Report whether a citation was sent within the recency window",
		ArgsUsage: "<citation>",
		Flags:     flagSet(storageFlags(&cfg), generationFlags(&cfg), loggingFlags(&cfg)),
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.withLogger(ctx)

			cite := c.Args().First()
			if cite == "" {
				return goerr.New("citation is required")
			}

			v := citation.NewValidator(cfg.newHistory(), citation.WithNormalizer(cfg.normalizer()))
			used, err := v.IsRecentlyUsed(ctx, cite, int(cfg.windowDays))
			if err != nil {
				return goerr.Wrap(err, "failed to check citation")
			}

			if used {
				fmt.Fprintf(c.Root().Writer, "%s: used within the last %d days\n", cite, cfg.windowDays)
			} else {
				fmt.Fprintf(c.Root().Writer, "%s: not used within the last %d days\n", cite, cfg.windowDays)
			}
			return nil
		},
	}
}
