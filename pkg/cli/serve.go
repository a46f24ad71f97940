package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/matins/pkg/model"
	"github.com/m-mizutani/matins/pkg/service/presence"
	"github.com/m-mizutani/matins/pkg/service/scheduler"
	"github.com/m-mizutani/matins/pkg/service/webhook"
	"github.com/m-mizutani/matins/pkg/usecase/broadcast"
	"github.com/m-mizutani/matins/pkg/usecase/conversation"
	"github.com/m-mizutani/matins/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

func serveCommand() *cli.Command {
	var cfg config

	return &cli.Command{
		Name:  "serve",
		Usage: "Run the daily broadcast and answer inbound messages until interrupted",
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
			logger := logging.From(ctx)

			if err := cfg.ensureDirs(); err != nil {
				return err
			}
			if cfg.gatewayURL == "" {
				return goerr.New("gateway-url is required for serve")
			}

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			history, conversations := cfg.newStores()

			service, err := cfg.newService(ctx)
			if err != nil {
				return err
			}
			generator, err := cfg.newGenerator(ctx, history, service)
			if err != nil {
				return err
			}
			if err := generator.Init(ctx); err != nil {
				logger.Warn("knowledge base unavailable, continuing without it", "error", err)
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
			replies, err := cfg.newReplies()
			if err != nil {
				return err
			}

			transport := cfg.newTransport(c.Root().Writer)
			tracker := presence.New(transport, cfg.presenceIdle)

			var broadcaster *broadcast.Broadcaster
			daily, err := scheduler.NewDaily(cfg.at, loc, func(ctx context.Context) {
				runBroadcast(ctx, broadcaster)
			})
			if err != nil {
				return err
			}
			broadcaster = broadcast.New(generator, history, conversations, contacts, transport,
				broadcast.WithFormatter(formatter),
				broadcast.WithLocation(loc),
				broadcast.WithRetryDelay(cfg.retryDelay),
				broadcast.WithRescheduler(daily),
			)

			handler := conversation.New(conversations, history, transport, service,
				conversation.WithContacts(contacts),
				conversation.WithPresence(tracker),
				conversation.WithKnowledge(generator),
				conversation.WithReplies(replies),
				conversation.WithMaxAge(cfg.maxAge),
			)

			var srvOpts []webhook.Option
			srvOpts = append(srvOpts, webhook.WithBaseContext(context.WithoutCancel(ctx)))
			if cfg.webhookToken != "" {
				srvOpts = append(srvOpts, webhook.WithToken(cfg.webhookToken))
			}
			srv := webhook.New(handler, srvOpts...)

			daily.Start(ctx)
			logger.Info("matins started",
				"schedule", daily.String(),
				"listen", cfg.listenAddr,
				"history", history.Path(),
				"conversations", conversations.Dir(),
			)

			serveErr := srv.ListenAndServe(ctx, cfg.listenAddr)

			daily.Stop()
			tracker.Stop(context.WithoutCancel(ctx))
			logger.Info("matins stopped")

			return serveErr
		},
	}
}

// runBroadcast executes one cycle and logs its outcome. Failures skip the cycle.
func runBroadcast(ctx context.Context, b *broadcast.Broadcaster) {
	logger := logging.From(ctx)

	report, err := b.Run(ctx)
	switch {
	case errors.Is(err, model.ErrTransportNotReady):
		logger.Warn("broadcast postponed", "error", err)
	case err != nil && report != nil:
		logger.Error("broadcast sent but not recorded", "run_id", report.RunID, "error", err)
	case err != nil:
		logger.Error("broadcast skipped", "error", err)
	}
}
