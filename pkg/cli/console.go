package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/matins/pkg/model"
	"github.com/m-mizutani/matins/pkg/usecase/conversation"
	"github.com/urfave/cli/v3"
)

func consoleCommand() *cli.Command {
	var (
		cfg       config
		contactID string
		name      string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "as",
			Usage:       "Contact ID to chat as",
			Value:       "console",
			Sources:     cli.EnvVars("MATINS_CONSOLE_CONTACT"),
			Destination: &contactID,
		},
		&cli.StringFlag{
			Name:        "name",
			Usage:       "Display name of the console contact",
			Destination: &name,
		},
	}

	return &cli.Command{
		Name:  "console",
		Usage: "Chat with the bot from the terminal as a contact",
		Flags: flagSet(
			flags,
			storageFlags(&cfg),
			llmFlags(&cfg),
			generationFlags(&cfg),
			knowledgeFlags(&cfg),
			loggingFlags(&cfg),
		),
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.withLogger(ctx)
			w := c.Root().Writer

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

			replies, err := cfg.newReplies()
			if err != nil {
				return err
			}

			// replies are printed to the terminal instead of a gateway
			handler := conversation.New(conversations, history, cfg.newTransport(w), service,
				conversation.WithKnowledge(generator),
				conversation.WithReplies(replies),
				conversation.WithTypingSimulation(false),
			)

			rl, err := readline.NewEx(&readline.Config{
				Prompt:          "> ",
				InterruptPrompt: "^C",
				EOFPrompt:       "exit",
				Stdout:          w,
			})
			if err != nil {
				return goerr.Wrap(err, "failed to start console")
			}
			defer func() { _ = rl.Close() }()

			fmt.Fprintf(w, "Chatting as %s. Type 'exit' to quit.\n", contactID)
			return chatLoop(ctx, rl, func(text string) error {
				return handler.Handle(ctx, &model.InboundMessage{
					ContactID:  contactID,
					Name:       name,
					Kind:       model.MessageKindText,
					Text:       text,
					ReceivedAt: time.Now(),
				})
			})
		},
	}
}

type lineReader interface {
	Readline() (string, error)
}

func chatLoop(ctx context.Context, rl lineReader, send func(text string) error) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return goerr.Wrap(err, "failed to read input")
		}

		text := strings.TrimSpace(line)
		if text == "" {
			continue
		}
		if text == "exit" {
			return nil
		}

		if err := send(text); err != nil {
			return goerr.Wrap(err, "failed to handle message")
		}
	}
}
