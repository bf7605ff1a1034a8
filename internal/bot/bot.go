// Package bot delivers relayed items through Telegram and serves the admin commands.
package bot

import (
	"context"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"rss_relay/internal/config"
	"rss_relay/internal/fetcher"
	"rss_relay/internal/manager"
	"rss_relay/internal/model"
	"rss_relay/internal/scheduler"
	"rss_relay/internal/storage"
)

const maxMessageLen = 4096

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetChat(config tgbotapi.ChatInfoConfig) (tgbotapi.Chat, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Manager is the feed management surface driven by admin commands.
type Manager interface {
	Create(ctx context.Context, feed model.Feed) (*model.Feed, error)
	Update(ctx context.Context, id string, patch func(*model.Feed)) (*model.Feed, error)
	SetActive(ctx context.Context, id string, active bool) (*model.Feed, error)
	Delete(ctx context.Context, id string) error
	Bulk(ctx context.Context, action manager.BulkAction, ids []string) (manager.BulkResult, error)
	Get(ctx context.Context, id string) (*model.Feed, error)
	List(ctx context.Context, opts storage.ListOptions) ([]model.Feed, error)
	CheckNow(ctx context.Context, id string) (scheduler.CheckReport, error)
	SetAggressiveMode(ctx context.Context, on bool) (scheduler.ReloadResult, error)
	AggressiveMode() bool
	Reload(ctx context.Context) (scheduler.ReloadResult, error)
	Jobs() []scheduler.JobInfo
	Preview(ctx context.Context, rawURL string, kind model.SourceKind, n int) ([]fetcher.Item, string)
	Stats(ctx context.Context) (storage.Stats, error)
}

// Bot is the Telegram admin interface for managing relayed feeds.
type Bot struct {
	api telegramAPI
	mgr Manager
	cfg *config.Config
	log *slog.Logger
}

// Connect creates a Telegram API client for token.
func Connect(token string) (*tgbotapi.BotAPI, error) {
	return tgbotapi.NewBotAPI(token)
}

// New creates a Bot serving admin commands over api.
func New(api telegramAPI, mgr Manager, cfg *config.Config, log *slog.Logger) *Bot {
	return &Bot{
		api: api,
		mgr: mgr,
		cfg: cfg,
		log: log,
	}
}

// Run starts the bot's long-polling loop, blocking until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update := <-updates:
			if update.CallbackQuery != nil {
				if !b.cfg.IsUserAllowed(update.CallbackQuery.From.ID) {
					continue
				}
				b.handleCallback(ctx, update.CallbackQuery)
				continue
			}
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			if !b.cfg.IsUserAllowed(update.Message.From.ID) {
				b.reply(update.Message.Chat.ID, "Access denied.")
				continue
			}
			b.handleCommand(ctx, update.Message)
		}
	}
}

// SendMessage sends a text message to the given chat.
func (b *Bot) SendMessage(chatID int64, text string) {
	b.send(tgbotapi.NewMessage(chatID, truncate(text, maxMessageLen)))
}

func (b *Bot) send(msg tgbotapi.MessageConfig) {
	msg.DisableWebPagePreview = true
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send message", "chat_id", msg.ChatID, "error", err)
	}
}

func (b *Bot) reply(chatID int64, text string) {
	b.SendMessage(chatID, text)
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	cmd := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())
	chatID := msg.Chat.ID

	b.log.Debug("command", "cmd", cmd, "args", args, "chat_id", chatID)

	switch cmd {
	case "start", "help":
		b.handleHelp(chatID)
	case "add":
		b.handleAdd(ctx, chatID, args)
	case "list":
		b.handleList(ctx, chatID, args)
	case "info":
		b.handleInfo(ctx, chatID, args)
	case "remove":
		b.handleRemove(ctx, chatID, args)
	case "rename":
		b.handleRename(ctx, chatID, args)
	case "interval":
		b.handleInterval(ctx, chatID, args)
	case "pause":
		b.handleSetActive(ctx, chatID, args, false)
	case "resume":
		b.handleSetActive(ctx, chatID, args, true)
	case cmdCheck:
		b.handleCheck(ctx, chatID, args)
	case "bulk":
		b.handleBulk(ctx, chatID, args)
	case "set":
		b.handleSet(ctx, chatID, args)
	case "preview":
		b.handlePreview(ctx, chatID, args)
	case "aggressive":
		b.handleAggressive(ctx, chatID, args)
	case "reload":
		b.handleReload(ctx, chatID)
	case "jobs":
		b.handleJobs(chatID)
	case "stats":
		b.handleStats(ctx, chatID)
	default:
		b.reply(chatID, "Unknown command. Use /help for a list of commands.")
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
