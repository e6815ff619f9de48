package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/coderbot/coderbot/internal/ai"
	"github.com/coderbot/coderbot/internal/api"
	"github.com/coderbot/coderbot/internal/config"
	"github.com/coderbot/coderbot/internal/conversation"
	"github.com/coderbot/coderbot/internal/database"
	"github.com/coderbot/coderbot/internal/engine"
	"github.com/coderbot/coderbot/internal/githubapp"
	"github.com/coderbot/coderbot/internal/jobqueue"
)

// APICommand returns the CLI command for starting the webhook/API server.
func APICommand() *cli.Command {
	return &cli.Command{
		Name:  "api",
		Usage: "Start the Coder Bot webhook and API server",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port for the API server (overrides config)",
			},
		},
		Action: runAPI,
	}
}

func runAPI(c *cli.Context) error {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return err
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	port := cfg.Server.Port
	if c.IsSet("port") {
		port = c.Int("port")
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

	auth, err := githubapp.NewAppAuth(cfg.GitHub.AppID, cfg.GitHub.PrivateKey)
	if err != nil {
		return fmt.Errorf("failed to load GitHub App credentials: %w", err)
	}
	client := githubapp.NewClient(cfg.GitHub.APIBaseURL, auth)

	connector, err := ai.NewConnector(c.Context, ai.Options{
		Provider:    ai.Provider(cfg.AI.Provider),
		Model:       cfg.AI.Model,
		APIKey:      cfg.AI.APIKey,
		BaseURL:     cfg.AI.BaseURL,
		MaxTokens:   cfg.AI.MaxTokens,
		Temperature: cfg.AI.Temperature,
		Timeout:     time.Duration(cfg.AI.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("failed to create model connector: %w", err)
	}

	eng := engine.New(store, client, connector, client.Tokens(), engine.Config{
		BotHandle:          client.BotUsername(c.Context),
		EditThreshold:      cfg.Conversation.SignificantEditThreshold,
		MaxContextMessages: cfg.Conversation.MaxContextMessages,
		MaxFileBytes:       cfg.Conversation.MaxFileBytes,
	})

	databaseURL, err := database.LoadDatabaseURL()
	if err != nil {
		return err
	}
	queue, err := jobqueue.New(databaseURL, store, cfg.Conversation.RetentionDays)
	if err != nil {
		return fmt.Errorf("failed to create job queue: %w", err)
	}
	if err := queue.Start(c.Context); err != nil {
		return fmt.Errorf("failed to start job queue: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		queue.Stop(ctx)
	}()

	server := api.NewServer(port,
		api.NewWebhookHandler(cfg.GitHub.WebhookSecret, eng),
		api.NewDashboardHandler(store),
	)
	return server.Start()
}
