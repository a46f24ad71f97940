package cli

import (
	"context"
	"fmt"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/matins/pkg/contact"
	"github.com/m-mizutani/matins/pkg/model"
	"github.com/urfave/cli/v3"
)

func contactsCommand() *cli.Command {
	return &cli.Command{
		Name:  "contacts",
		Usage: "Manage the contact list",
		Commands: []*cli.Command{
			contactsListCommand(),
			contactsAddCommand(),
		},
	}
}

func contactsListCommand() *cli.Command {
	var (
		cfg config
		all bool
	)

	flags := []cli.Flag{
		&cli.BoolFlag{
			Name:        "all",
			Aliases:     []string{"a"},
			Usage:       "Include inactive contacts",
			Destination: &all,
		},
	}

	return &cli.Command{
		Name:  "list",
		Usage: "List contacts",
		Flags: flagSet(flags, storageFlags(&cfg), contactFlags(&cfg), loggingFlags(&cfg)),
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.withLogger(ctx)

			src, closeContacts, err := cfg.newContacts(ctx)
			if err != nil {
				return err
			}
			defer closeContacts()

			contacts, err := src.List(ctx)
			if err != nil {
				return goerr.Wrap(err, "failed to list contacts")
			}
			if !all {
				contacts = model.ActiveContacts(contacts)
			}

			for _, ct := range contacts {
				status := "active"
				if !ct.Active {
					status = "inactive"
				}
				fmt.Fprintf(c.Root().Writer, "%s\t%s\t%s\n", ct.ID, ct.Name, status)
			}
			return nil
		},
	}
}

func contactsAddCommand() *cli.Command {
	var (
		cfg      config
		name     string
		inactive bool
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "name",
			Usage:       "Contact name",
			Destination: &name,
		},
		&cli.BoolFlag{
			Name:        "inactive",
			Usage:       "Add the contact without subscribing it to broadcasts",
			Destination: &inactive,
		},
	}

	return &cli.Command{
		Name:      "add",
		Usage:     "Add a contact by phone number",
		ArgsUsage: "<phone>",
		Flags:     flagSet(flags, storageFlags(&cfg), contactFlags(&cfg), loggingFlags(&cfg)),
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.withLogger(ctx)

			id, err := contact.NormalizePhone(c.Args().First())
			if err != nil {
				return err
			}

			src, closeContacts, err := cfg.newContacts(ctx)
			if err != nil {
				return err
			}
			defer closeContacts()

			if err := src.Add(ctx, &model.Contact{ID: id, Name: name, Active: !inactive}); err != nil {
				return goerr.Wrap(err, "failed to add contact", goerr.V("id", id))
			}
			fmt.Fprintf(c.Root().Writer, "added %s\n", id)
			return nil
		},
	}
}
