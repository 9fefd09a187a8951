// Package main contains the entrypoint for the Telegram tutor bot.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbot "github.com/go-telegram/bot"

	"github.com/tutorgram/mashabot/internal/access"
	"github.com/tutorgram/mashabot/internal/bot"
	"github.com/tutorgram/mashabot/internal/bot/handlers"
	"github.com/tutorgram/mashabot/internal/bot/tasks"
	"github.com/tutorgram/mashabot/internal/config"
	"github.com/tutorgram/mashabot/internal/database"
	"github.com/tutorgram/mashabot/internal/gemini"
	"github.com/tutorgram/mashabot/internal/i18n"
	"github.com/tutorgram/mashabot/internal/logger"
	"github.com/tutorgram/mashabot/internal/session"
	"github.com/tutorgram/mashabot/internal/telegram"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	exitCode := run(ctx)
	stop() // Ensure context cancellation is signaled before exit
	os.Exit(exitCode)
}

// run initializes and starts all application components (config, logger,
// db, AI client, session manager, bot, scheduler), handles graceful
// shutdown, and returns an exit code (0 for success, 1 for failure).
func run(ctx context.Context) int {
	configPath := flag.String("config", "./config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "path", *configPath, "error", err)
		return 1
	}

	log := logger.NewLogger(cfg.Log.Level, cfg.Log.JSON)
	slog.SetDefault(log)
	log.Info("Logger initialized", "level", cfg.Log.Level, "json", cfg.Log.JSON)

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		log.Error("Failed to connect to database", "path", cfg.Database.Path, "error", err)
		return 1
	}
	defer database.CloseDB(db)
	store := database.NewStore(db, log)

	translator, err := i18n.Load(cfg.Telegram.TranslationsPath, cfg.Telegram.Language, log)
	if err != nil {
		log.Error("Failed to load translations", "path", cfg.Telegram.TranslationsPath, "error", err)
		return 1
	}

	genClient, err := gemini.NewClient(ctx, cfg.AI, log)
	if err != nil {
		log.Error("Failed to initialize Gemini client", "error", err)
		return 1
	}

	policy := access.NewPolicy(cfg.Telegram.AllowedUsers)
	log.Info("Access policy loaded", "allowed_users", policy.Size())

	sessions := session.NewManager(store, genClient, log, session.Options{
		MaxDailyMessages:   cfg.Telegram.MaxDailyMessages,
		MaxHistoryMessages: cfg.Telegram.MaxHistoryMessages,
		GenerationTimeout:  cfg.AI.Timeout,
	})

	hDeps := handlers.HandlerDeps{
		Logger:     log,
		Config:     cfg,
		Sessions:   sessions,
		Policy:     policy,
		Translator: translator,
	}
	tDeps := tasks.TaskDeps{
		Logger: log,
		Store:  store,
		Config: cfg,
	}

	// Command handlers get the access middleware from the registry; the
	// default free-text handler is wrapped here.
	defaultHandler := handlers.AllowedOnly(hDeps)(handlers.NewMessageHandler(hDeps))
	botOpts := []tgbot.Option{
		tgbot.WithMiddlewares(logger.Middleware(log)),
		tgbot.WithDefaultHandler(defaultHandler),
	}
	tg, err := telegram.NewTelegramBot(cfg.Telegram.Token, log, botOpts...)
	if err != nil {
		log.Error("Failed to create Telegram bot", "error", err)
		return 1
	}

	cmdHandlers := handlers.RegisterAllCommands(hDeps)
	if err := telegram.RegisterHandlers(tg, log, cmdHandlers); err != nil {
		log.Error("Failed to register Telegram handlers", "error", err)
		return 1
	}

	sched, err := bot.NewScheduler(log, &cfg.Scheduler, tasks.RegisterAllTasks(tDeps))
	if err != nil {
		log.Error("Failed to create scheduler", "error", err)
		return 1
	}
	app := bot.NewBot(log, cfg, db, store, tg, sched)

	log.Info("Starting bot...")
	runErr := app.Run(ctx) // Run blocks until context is cancelled or an error occurs
	log.Info("Bot run loop finished. Initiating shutdown...")

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Error("Bot stopped due to error", "error", runErr)
		// Allow logs to flush before exiting on error
		time.Sleep(time.Second)
		return 1
	}

	log.Info("Bot stopped gracefully.")
	time.Sleep(time.Second)
	return 0
}
