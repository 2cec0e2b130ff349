package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/garudnet/relaybot/internal/config"
	"github.com/garudnet/relaybot/internal/dashboard"
	"github.com/garudnet/relaybot/internal/db"
	"github.com/garudnet/relaybot/internal/genai"
	"github.com/garudnet/relaybot/internal/relay"
	discordadapter "github.com/garudnet/relaybot/internal/relay/discord"
	slackadapter "github.com/garudnet/relaybot/internal/relay/slack"
	telegramadapter "github.com/garudnet/relaybot/internal/relay/telegram"
)

const (
	// maxRestarts bounds the crash-restart loop before giving up.
	maxRestarts = 5
	// restartDelay is the pause between restart attempts.
	restartDelay = 10 * time.Second
)

func newServeCmd() *cobra.Command {
	var configPath string
	var envPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay daemon",
		Long:  "Connects to the configured chat platform and relays user messages to the generation service until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, envPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "relaybot.yaml", "path to relaybot config file")
	cmd.Flags().StringVar(&envPath, "env", ".env", "path to env file with secrets (optional)")
	return cmd
}

func runServe(cmd *cobra.Command, configPath, envPath string) error {
	// Secrets come from the environment; the env file is a convenience and
	// may be absent.
	if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("load env file %s: %w", envPath, err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	botToken := os.Getenv("BOT_TOKEN")
	if botToken == "" {
		return fmt.Errorf("BOT_TOKEN is required (set it in the environment or %s)", envPath)
	}
	geminiKey := os.Getenv("GEMINI_API_KEY")
	if geminiKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is required (set it in the environment or %s)", envPath)
	}

	gormDB, err := db.Connect(cfg.DB)
	if err != nil {
		return err
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}

	gen := genai.New(geminiKey, genai.Config{
		Model:           cfg.Gemini.Model,
		Temperature:     cfg.Gemini.Temperature,
		TopP:            cfg.Gemini.TopP,
		TopK:            cfg.Gemini.TopK,
		MaxOutputTokens: cfg.Gemini.MaxOutputTokens,
		Safety:          cfg.Gemini.Safety,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle OS signals for graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(cmd.OutOrStdout(), "relaybot: shutting down")
		cancel()
	}()

	// Crash-restart loop: a daemon error is retried with a fresh adapter; a
	// signal shutdown is not.
	for attempt := 0; attempt < maxRestarts; attempt++ {
		err := runDaemonOnce(ctx, cmd, cfg, gormDB, gen, botToken)
		if err == nil || errors.Is(err, context.Canceled) {
			return nil
		}

		log.Printf("relaybot: daemon exited (attempt %d/%d): %v", attempt+1, maxRestarts, err)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(restartDelay):
		}
	}
	return fmt.Errorf("relaybot: giving up after %d restart attempts", maxRestarts)
}

// runDaemonOnce wires one full daemon instance and runs it to completion.
func runDaemonOnce(ctx context.Context, cmd *cobra.Command, cfg *config.Config, gormDB *gorm.DB, gen genai.Generator, botToken string) error {
	adapter, err := createAdapter(cfg, botToken)
	if err != nil {
		return err
	}
	defer adapter.Close()

	sessions := relay.NewSessions()
	history := relay.NewConversationStore(cfg.Bot.HistorySize)
	limiter := relay.NewRateLimiter(cfg.Bot.RateLimitPerUser, time.Second)

	clone, err := relay.NewCloneDialogue(relay.CloneDialogueOpts{DB: gormDB, Sessions: sessions})
	if err != nil {
		return err
	}

	dispatcher, err := relay.NewDispatcher(relay.DispatcherOpts{
		Adapter:          adapter,
		Generator:        gen,
		Limiter:          limiter,
		History:          history,
		Sessions:         sessions,
		Clone:            clone,
		Admins:           cfg.Admins(),
		OwnerID:          cfg.Bot.OwnerID,
		BotUsername:      cfg.Bot.Username,
		BlockedUsers:     cfg.Bot.BlockedUsers,
		MaxMessageLength: cfg.Bot.MaxMessageLength,
		NetworkURL:       cfg.Bot.NetworkURL,
		SupportURL:       cfg.Bot.SupportURL,
		WebsiteURL:       cfg.Bot.WebsiteURL,
		Out:              cmd.OutOrStdout(),
	})
	if err != nil {
		return err
	}

	daemon, err := relay.NewDaemon(relay.DaemonOpts{
		Adapter:    adapter,
		Dispatcher: dispatcher,
		OwnerID:    cfg.Bot.OwnerID,
		Out:        cmd.OutOrStdout(),
	})
	if err != nil {
		return err
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	if cfg.Digest.Enabled {
		digest, err := relay.NewDigest(relay.DigestOpts{
			Adapter:  adapter,
			Sessions: sessions,
			History:  history,
			Clone:    clone,
			OwnerID:  cfg.Bot.OwnerID,
			Cron:     cfg.Digest.Cron,
		})
		if err != nil {
			return err
		}
		go digest.Run(runCtx)
	}

	if cfg.Dashboard.Enabled {
		go func() {
			err := dashboard.Start(runCtx, dashboard.StartOpts{
				DB:   gormDB,
				Addr: cfg.Dashboard.Addr,
				Out:  cmd.OutOrStdout(),
				Stats: func() dashboard.Stats {
					return dashboard.Stats{
						TotalUsers:          sessions.Count(),
						ActiveConversations: history.ActiveCount(),
						RateLimitedUsers:    limiter.SaturatedCount(time.Now()),
						BlockedUsers:        dispatcher.BlockedCount(),
					}
				},
			})
			if err != nil {
				log.Printf("relaybot: dashboard: %v", err)
			}
		}()
	}

	return daemon.Run(runCtx)
}

// createAdapter builds a platform adapter from the config.
func createAdapter(cfg *config.Config, botToken string) (relay.Adapter, error) {
	switch cfg.Bot.Platform {
	case "telegram":
		return telegramadapter.New(telegramadapter.AdapterOpts{
			BotToken: botToken,
		})
	case "discord":
		return discordadapter.New(discordadapter.AdapterOpts{
			BotToken: botToken,
		})
	case "slack":
		return slackadapter.New(slackadapter.AdapterOpts{
			BotToken: botToken,
			AppToken: os.Getenv("SLACK_APP_TOKEN"),
		})
	default:
		return nil, fmt.Errorf("relaybot: unsupported platform %q", cfg.Bot.Platform)
	}
}
