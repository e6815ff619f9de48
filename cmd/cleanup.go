package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/coderbot/coderbot/internal/config"
	"github.com/coderbot/coderbot/internal/conversation"
	"github.com/coderbot/coderbot/internal/database"
)

// CleanupCommand returns the one-shot retention cleanup command.
func CleanupCommand() *cli.Command {
	return &cli.Command{
		Name:  "cleanup",
		Usage: "Remove archived conversations and completed actions past the retention window",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "days",
				Usage: "Retention window in days (overrides config)",
			},
		},
		Action: runCleanup,
	}
}

func runCleanup(c *cli.Context) error {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return err
	}

	days := cfg.Conversation.RetentionDays
	if c.IsSet("days") {
		days = c.Int("days")
	}
	if days <= 0 {
		return fmt.Errorf("retention window must be positive, got %d", days)
	}

	db, err := database.NewDB()
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()
	if err := database.Migrate(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	store := conversation.NewService(conversation.NewPostgresStore(db))
	removed, err := store.CleanupOld(c.Context, days)
	if err != nil {
		return fmt.Errorf("cleanup failed: %w", err)
	}

	fmt.Printf("Removed %d conversations older than %d days\n", removed, days)
	return nil
}
