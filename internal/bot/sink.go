package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"rss_relay/internal/dispatch"
	"rss_relay/internal/model"
)

const discussionText = "Discussion"

// Destination is a parsed Telegram delivery target.
type Destination struct {
	ChatID  int64
	Channel string
	ReplyTo int
}

// ParseDestination parses "<chat_id>" or "@channel", optionally followed by
// ":<reply_to_message_id>".
func ParseDestination(s string) (Destination, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Destination{}, errors.New("destination is empty")
	}

	var d Destination
	if i := strings.LastIndex(s, ":"); i > 0 {
		reply, err := strconv.Atoi(s[i+1:])
		if err != nil || reply <= 0 {
			return Destination{}, fmt.Errorf("invalid reply id in %q", s)
		}
		d.ReplyTo = reply
		s = s[:i]
	}

	if strings.HasPrefix(s, "@") {
		if len(s) < 2 || strings.ContainsAny(s, " \t") {
			return Destination{}, fmt.Errorf("invalid channel %q", s)
		}
		d.Channel = s
		return d, nil
	}

	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id == 0 {
		return Destination{}, fmt.Errorf("invalid chat id %q", s)
	}
	d.ChatID = id
	return d, nil
}

// Sink delivers formatted items to Telegram chats and channels.
type Sink struct {
	api     telegramAPI
	limiter *rate.Limiter
	log     *slog.Logger
}

// NewSink creates a Sink that sends at most perSecond messages per second.
func NewSink(api telegramAPI, perSecond float64, log *slog.Logger) *Sink {
	return &Sink{
		api:     api,
		limiter: rate.NewLimiter(rate.Limit(perSecond), 1),
		log:     log,
	}
}

// Deliver posts msg and returns the Telegram message ID. In thread mode a
// follow-up reply is posted under the message to open a discussion.
func (s *Sink) Deliver(ctx context.Context, msg dispatch.Message) (string, error) {
	dest, err := ParseDestination(msg.Destination)
	if err != nil {
		return "", fmt.Errorf("%w: %v", dispatch.ErrDestinationNotFound, err)
	}

	text := msg.Text
	if n := utf8.RuneCountInString(text); n > maxMessageLen {
		s.log.Warn("message too long, truncated", "destination", msg.Destination, "length", n)
		text = truncate(text, maxMessageLen)
	}
	sent, err := s.send(ctx, dest, text, !msg.AllowEmbeds, dest.ReplyTo)
	if err != nil {
		return "", err
	}

	if msg.Mode == model.ModeThread {
		if _, err := s.send(ctx, dest, discussionText, true, sent.MessageID); err != nil {
			s.log.Warn("open discussion thread", "destination", msg.Destination, "message_id", sent.MessageID, "error", err)
		}
	}
	return strconv.Itoa(sent.MessageID), nil
}

// CheckDestination verifies that the bot can see the destination chat.
func (s *Sink) CheckDestination(ctx context.Context, destination string) error {
	dest, err := ParseDestination(destination)
	if err != nil {
		return fmt.Errorf("%w: %v", dispatch.ErrDestinationNotFound, err)
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err = s.api.GetChat(tgbotapi.ChatInfoConfig{
		ChatConfig: tgbotapi.ChatConfig{ChatID: dest.ChatID, SuperGroupUsername: dest.Channel},
	})
	return classify(err)
}

func (s *Sink) send(ctx context.Context, dest Destination, text string, noPreview bool, replyTo int) (tgbotapi.Message, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return tgbotapi.Message{}, err
	}

	var msg tgbotapi.MessageConfig
	if dest.Channel != "" {
		msg = tgbotapi.NewMessageToChannel(dest.Channel, text)
	} else {
		msg = tgbotapi.NewMessage(dest.ChatID, text)
	}
	msg.DisableWebPagePreview = noPreview
	msg.ReplyToMessageID = replyTo

	sent, err := s.api.Send(msg)
	if err != nil {
		return tgbotapi.Message{}, classify(err)
	}
	return sent, nil
}

// classify maps Telegram errors for unknown or forbidden chats onto
// dispatch.ErrDestinationNotFound.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		notFound := apiErr.Code == 403 ||
			(apiErr.Code == 400 && strings.Contains(strings.ToLower(apiErr.Message), "chat not found"))
		if notFound {
			return fmt.Errorf("%w: %s", dispatch.ErrDestinationNotFound, apiErr.Message)
		}
	}
	return fmt.Errorf("telegram request: %w", err)
}
