package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/urfave/cli/v3"

	"github.com/phrazzld/imagery-api/internal/platform/postgres"
)

var migrateCommands = []string{"up", "down", "reset", "status", "version"}

func newMigrateCommand() *cli.Command {
	commands := make([]*cli.Command, 0, len(migrateCommands))
	for _, name := range migrateCommands {
		commands = append(commands, &cli.Command{
			Name:   name,
			Usage:  fmt.Sprintf("goose %s", name),
			Action: migrateAction(name),
		})
	}
	commands = append(commands, &cli.Command{
		Name:      "up-to",
		Usage:     "migrate up to a specific version",
		ArgsUsage: "VERSION",
		Action:    migrateAction("up-to"),
	})

	return &cli.Command{
		Name:     "migrate",
		Usage:    "Apply or inspect database schema migrations",
		Commands: commands,
	}
}

func migrateAction(command string) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		cfg, log, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		db, err := postgres.Open(ctx, cfg.Database.URL)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := db.Close(); cerr != nil {
				log.Error("failed to close database", slog.String("error", cerr.Error()))
			}
		}()

		log.Info("running migration", slog.String("command", command))
		return postgres.Migrate(ctx, db, command, log, cmd.Args().Slice()...)
	}
}
