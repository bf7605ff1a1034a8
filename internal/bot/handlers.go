package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"rss_relay/internal/filter"
	"rss_relay/internal/manager"
	"rss_relay/internal/model"
	"rss_relay/internal/scheduler"
	"rss_relay/internal/storage"
)

const previewItems = 5

var errAmbiguousID = errors.New("ambiguous feed ID")

func (b *Bot) handleHelp(chatID int64) {
	b.reply(chatID, `Feed management:
/add <url> [-k kind] [-d destination] [name] - add a feed (destination defaults to this chat)
/list [category] - show feeds
/info <id> - feed details
/remove <id> - delete a feed
/rename <id> <name> - rename a feed
/interval <id> <seconds> - set check interval
/pause <id> - stop checking
/resume <id> - resume checking
/check <id> - check now
/set <id> <field> <value> - change a setting ("-" clears)
/preview <url> [kind] - show the first items of a feed
/bulk activate|deactivate|delete <id> [id...] - apply to many feeds

Scheduler:
/jobs - installed schedules
/aggressive [on|off] - short interval for every feed
/reload - reschedule all active feeds
/stats - counters

Kinds: web, rss, youtube, facebook, instagram, tiktok
Fields: `+strings.Join(SettingFields, ", ")+`
Feed IDs may be shortened to any unique prefix.`)
}

func (b *Bot) handleAdd(ctx context.Context, chatID int64, args string) {
	a, err := ParseAddArgs(args)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}

	dest := a.Destination
	if dest == "" {
		dest = strconv.FormatInt(chatID, 10)
	}
	name := a.Name
	if name == "" {
		name = filter.Domain(a.URL)
	}
	if name == "" {
		name = a.URL
	}

	feed, err := b.mgr.Create(ctx, model.Feed{
		Name:        name,
		URL:         a.URL,
		SourceKind:  a.Kind,
		Destination: dest,
		IsActive:    true,
	})
	if err != nil {
		b.replyError(chatID, "Failed to add feed", err)
		return
	}

	b.reply(chatID, fmt.Sprintf("Feed added!\n%s %s (every %ds)\nURL: %s\nDestination: %s\nUse /set %s include|exclude|... to add filters.",
		shortID(feed.ID), feed.Name, feed.IntervalSeconds, feed.URL, feed.Destination, shortID(feed.ID)))
}

func (b *Bot) handleList(ctx context.Context, chatID int64, args string) {
	feeds, err := b.mgr.List(ctx, storage.ListOptions{Category: args})
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, FormatFeedList(feeds))
}

func (b *Bot) handleInfo(ctx context.Context, chatID int64, args string) {
	ref, err := ParseIDArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /info <id>")
		return
	}
	feed, ok := b.lookup(ctx, chatID, ref)
	if !ok {
		return
	}

	msg := tgbotapi.NewMessage(chatID, truncate(FormatFeedInfo(feed), maxMessageLen))
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Check now", cmdCheck+":"+feed.ID),
			tgbotapi.NewInlineKeyboardButtonData("Delete", cmdDeleteConfirm+":"+feed.ID),
		),
	)
	b.send(msg)
}

func (b *Bot) handleRemove(ctx context.Context, chatID int64, args string) {
	ref, err := ParseIDArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /remove <id>")
		return
	}
	feed, ok := b.lookup(ctx, chatID, ref)
	if !ok {
		return
	}

	if err := b.mgr.Delete(ctx, feed.ID); err != nil {
		b.reply(chatID, fmt.Sprintf("Error deleting feed: %v", err))
		return
	}
	b.reply(chatID, fmt.Sprintf("Feed %s \"%s\" deleted.", shortID(feed.ID), feed.Name))
}

func (b *Bot) handleRename(ctx context.Context, chatID int64, args string) {
	ref, name, err := ParseRenameArgs(args)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}
	feed, ok := b.lookup(ctx, chatID, ref)
	if !ok {
		return
	}

	if _, err := b.mgr.Update(ctx, feed.ID, func(f *model.Feed) { f.Name = name }); err != nil {
		b.replyError(chatID, "Error", err)
		return
	}
	b.reply(chatID, fmt.Sprintf("Feed %s renamed to \"%s\".", shortID(feed.ID), name))
}

func (b *Bot) handleInterval(ctx context.Context, chatID int64, args string) {
	ref, secs, err := ParseIntervalArgs(args)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}
	feed, ok := b.lookup(ctx, chatID, ref)
	if !ok {
		return
	}

	if _, err := b.mgr.Update(ctx, feed.ID, func(f *model.Feed) { f.IntervalSeconds = secs }); err != nil {
		b.replyError(chatID, "Error", err)
		return
	}
	b.reply(chatID, fmt.Sprintf("Feed %s interval set to %ds.", shortID(feed.ID), secs))
}

func (b *Bot) handleSetActive(ctx context.Context, chatID int64, args string, active bool) {
	cmd, verb := "pause", statusPaused
	if active {
		cmd, verb = "resume", "resumed"
	}
	ref, err := ParseIDArg(args)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Usage: /%s <id>", cmd))
		return
	}
	feed, ok := b.lookup(ctx, chatID, ref)
	if !ok {
		return
	}

	if _, err := b.mgr.SetActive(ctx, feed.ID, active); err != nil {
		b.replyError(chatID, "Error", err)
		return
	}
	b.reply(chatID, fmt.Sprintf("Feed %s \"%s\" %s.", shortID(feed.ID), feed.Name, verb))
}

func (b *Bot) handleCheck(ctx context.Context, chatID int64, args string) {
	ref, err := ParseIDArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /check <id>")
		return
	}
	feed, ok := b.lookup(ctx, chatID, ref)
	if !ok {
		return
	}

	report, err := b.mgr.CheckNow(ctx, feed.ID)
	switch {
	case errors.Is(err, scheduler.ErrCheckInProgress):
		b.reply(chatID, fmt.Sprintf("Feed %s is already being checked.", shortID(feed.ID)))
	case errors.Is(err, scheduler.ErrNotRunning):
		b.reply(chatID, "Scheduler is not running.")
	case err != nil:
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
	default:
		b.reply(chatID, FormatCheckReport(feed, report))
	}
}

func (b *Bot) handleSet(ctx context.Context, chatID int64, args string) {
	a, err := ParseSetArgs(args)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}
	feed, ok := b.lookup(ctx, chatID, a.FeedID)
	if !ok {
		return
	}

	draft := *feed
	if err := ApplySetting(&draft, a.Field, a.Value); err != nil {
		b.reply(chatID, err.Error())
		return
	}

	updated, err := b.mgr.Update(ctx, feed.ID, func(f *model.Feed) { _ = ApplySetting(f, a.Field, a.Value) })
	if err != nil {
		b.replyError(chatID, "Error", err)
		return
	}

	text := fmt.Sprintf("Feed %s: %s updated.", shortID(updated.ID), a.Field)
	if warnings := manager.RegexWarnings(updated.Filters); len(warnings) > 0 {
		text += "\nWarning, these patterns do not compile and are ignored:\n" + strings.Join(warnings, "\n")
	}
	b.reply(chatID, text)
}

func (b *Bot) handleBulk(ctx context.Context, chatID int64, args string) {
	parts := strings.Fields(args)
	if len(parts) < 2 {
		b.reply(chatID, "Usage: /bulk activate|deactivate|delete <id> [id...]")
		return
	}

	failed := make(map[string]string)
	var ids []string
	for _, ref := range parts[1:] {
		feed, err := b.findFeed(ctx, ref)
		if err != nil {
			failed[ref] = err.Error()
			continue
		}
		ids = append(ids, feed.ID)
	}

	res, err := b.mgr.Bulk(ctx, manager.BulkAction(strings.ToLower(parts[0])), ids)
	if err != nil {
		b.replyError(chatID, "Error", err)
		return
	}
	for id, msg := range res.Failed {
		failed[shortID(id)] = msg
	}
	b.reply(chatID, FormatBulkResult(res.Succeeded, failed))
}

func (b *Bot) handlePreview(ctx context.Context, chatID int64, args string) {
	parts := strings.Fields(args)
	if len(parts) == 0 {
		b.reply(chatID, "Usage: /preview <url> [kind]")
		return
	}
	var kind model.SourceKind
	if len(parts) > 1 {
		kind = model.SourceKind(strings.ToLower(parts[1]))
		if !kind.Valid() {
			b.reply(chatID, fmt.Sprintf("Unknown kind %q.", parts[1]))
			return
		}
	}

	items, url := b.mgr.Preview(ctx, parts[0], kind, previewItems)
	b.reply(chatID, FormatPreview(url, items))
}

func (b *Bot) handleAggressive(ctx context.Context, chatID int64, args string) {
	if args == "" {
		state := "off"
		if b.mgr.AggressiveMode() {
			state = "on"
		}
		b.reply(chatID, fmt.Sprintf("Aggressive mode is %s. Use /aggressive on|off.", state))
		return
	}

	on, err := ParseSwitch(args)
	if err != nil {
		b.reply(chatID, "Usage: /aggressive on|off")
		return
	}
	res, err := b.mgr.SetAggressiveMode(ctx, on)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	state := "off"
	if res.Aggressive {
		state = "on"
	}
	b.reply(chatID, fmt.Sprintf("Aggressive mode %s, %d feeds rescheduled.", state, res.Scheduled))
}

func (b *Bot) handleReload(ctx context.Context, chatID int64) {
	res, err := b.mgr.Reload(ctx)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, fmt.Sprintf("Reloaded, %d feeds scheduled.", res.Scheduled))
}

func (b *Bot) handleJobs(chatID int64) {
	b.reply(chatID, FormatJobs(b.mgr.Jobs(), b.mgr.AggressiveMode()))
}

func (b *Bot) handleStats(ctx context.Context, chatID int64) {
	st, err := b.mgr.Stats(ctx)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, FormatStats(st))
}

// lookup resolves a full feed ID or a unique prefix and replies when nothing matches.
func (b *Bot) lookup(ctx context.Context, chatID int64, ref string) (*model.Feed, bool) {
	feed, err := b.findFeed(ctx, ref)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		b.reply(chatID, fmt.Sprintf("Feed %s not found.", ref))
		return nil, false
	case errors.Is(err, errAmbiguousID):
		b.reply(chatID, fmt.Sprintf("Feed ID %s is ambiguous, use more characters.", ref))
		return nil, false
	case err != nil:
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return nil, false
	}
	return feed, true
}

func (b *Bot) findFeed(ctx context.Context, ref string) (*model.Feed, error) {
	feed, err := b.mgr.Get(ctx, ref)
	if err == nil {
		return feed, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	feeds, err := b.mgr.List(ctx, storage.ListOptions{})
	if err != nil {
		return nil, err
	}
	var match *model.Feed
	for i := range feeds {
		if !strings.HasPrefix(feeds[i].ID, ref) {
			continue
		}
		if match != nil {
			return nil, errAmbiguousID
		}
		match = &feeds[i]
	}
	if match == nil {
		return nil, storage.ErrNotFound
	}
	return match, nil
}

func (b *Bot) replyError(chatID int64, prefix string, err error) {
	var verr *manager.ValidationError
	if errors.As(err, &verr) {
		b.reply(chatID, fmt.Sprintf("%s: %s %s.", prefix, verr.Field, verr.Msg))
		return
	}
	b.reply(chatID, fmt.Sprintf("%s: %v", prefix, err))
}
