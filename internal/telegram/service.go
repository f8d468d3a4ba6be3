// Package telegram adapts the Telegram Bot API to the chat package's
// Transport, Authorizer and Source interfaces.
package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/log"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"sheetbot-go/internal/chat"
)

// captionLimit is Telegram's maximum caption length in characters.
const captionLimit = 1024

// pollTimeout is the long-poll duration in seconds.
const pollTimeout = 60

// stallTimeout is how long one long poll may take before the connection
// is treated as dead.
const stallTimeout = 150 * time.Second

// Commands is the command menu registered with Telegram.
var Commands = []tgbotapi.BotCommand{
	{Command: "streak", Description: "Show your current activity streak"},
	{Command: "topstreaks", Description: "Show the top streaks"},
	{Command: "resetstreak", Description: "Reset a user's streak (admins only)"},
	{Command: "dmgroup", Description: "DM every user in the DMTargets table (admins only)"},
}

// Service provides methods for interacting with the Telegram Bot API.
type Service struct {
	logger    *log.Logger
	bot       *tgbotapi.BotAPI
	ownerID   string
	adminRole string

	mu     sync.Mutex
	offset int
}

// Options configures privilege checks.
type Options struct {
	// OwnerID is always privileged.
	OwnerID string
	// AdminRole is the administrator custom title that grants privilege.
	// Empty means every administrator is privileged.
	AdminRole string
}

// NewService creates a new Telegram Service.
func NewService(botToken string, opts Options, logger *log.Logger) (*Service, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("telegram init failed: %w", err)
	}
	return newService(bot, opts, logger), nil
}

// NewServiceWithClient is NewService against a custom endpoint and HTTP
// client. endpoint follows tgbotapi.APIEndpoint's format.
func NewServiceWithClient(botToken, endpoint string, client tgbotapi.HTTPClient, opts Options, logger *log.Logger) (*Service, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(botToken, endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("telegram init failed: %w", err)
	}
	return newService(bot, opts, logger), nil
}

func newService(bot *tgbotapi.BotAPI, opts Options, logger *log.Logger) *Service {
	logger.Info("authorized on telegram", "user", bot.Self.UserName)
	return &Service{
		logger:    logger,
		bot:       bot,
		ownerID:   opts.OwnerID,
		adminRole: opts.AdminRole,
	}
}

// RegisterCommands publishes the command menu.
func (s *Service) RegisterCommands() error {
	if _, err := s.bot.Request(tgbotapi.NewSetMyCommands(Commands...)); err != nil {
		return fmt.Errorf("failed to register commands: %w", err)
	}
	return nil
}

// Resolve looks a chat up by numeric id or @username.
func (s *Service) Resolve(ctx context.Context, id string) (chat.Destination, error) {
	id = strings.TrimSpace(id)
	cfg := tgbotapi.ChatInfoConfig{}
	if strings.HasPrefix(id, "@") {
		cfg.SuperGroupUsername = id
	} else {
		n, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			return chat.Destination{}, fmt.Errorf("%w: %q is not a chat id", chat.ErrDestinationNotFound, id)
		}
		cfg.ChatID = n
	}

	c, err := s.bot.GetChat(cfg)
	if err != nil {
		return chat.Destination{}, fmt.Errorf("%w: %s: %v", chat.ErrDestinationNotFound, id, err)
	}
	title := c.Title
	if title == "" {
		title = strings.TrimSpace(c.FirstName + " " + c.LastName)
	}
	return chat.Destination{ID: strconv.FormatInt(c.ID, 10), Title: title}, nil
}

// Send posts msg to dest. Images go out as photos and other files as
// documents, with the text as caption when it fits.
func (s *Service) Send(ctx context.Context, dest chat.Destination, msg chat.Message) (chat.Sent, error) {
	chatID, err := strconv.ParseInt(dest.ID, 10, 64)
	if err != nil {
		return chat.Sent{}, fmt.Errorf("invalid chat id %q: %w", dest.ID, err)
	}
	replyTo, _ := strconv.Atoi(msg.ReplyTo)

	if msg.Attachment == nil {
		return s.sendText(chatID, msg.Text, replyTo)
	}

	caption := msg.Text
	var first chat.Sent
	if utf8.RuneCountInString(caption) > captionLimit {
		if first, err = s.sendText(chatID, msg.Text, replyTo); err != nil {
			return chat.Sent{}, err
		}
		caption = ""
	}

	file := tgbotapi.FileBytes{Name: msg.Attachment.Name, Bytes: msg.Attachment.Data}
	var c tgbotapi.Chattable
	if strings.HasPrefix(msg.Attachment.ContentType, "image/") {
		photo := tgbotapi.NewPhoto(chatID, file)
		photo.Caption = caption
		photo.ReplyToMessageID = replyTo
		c = photo
	} else {
		doc := tgbotapi.NewDocument(chatID, file)
		doc.Caption = caption
		doc.ReplyToMessageID = replyTo
		c = doc
	}

	m, err := s.bot.Send(c)
	if err != nil {
		if first.MessageID != "" {
			// The text went out; report it so the row is not sent twice.
			s.logger.Warn("attachment upload failed after text was sent", "chat", dest.ID, "error", err)
			return first, nil
		}
		return chat.Sent{}, fmt.Errorf("failed to send attachment: %w", err)
	}
	if first.MessageID != "" {
		return first, nil
	}
	return chat.Sent{ChatID: dest.ID, MessageID: strconv.Itoa(m.MessageID)}, nil
}

func (s *Service) sendText(chatID int64, text string, replyTo int) (chat.Sent, error) {
	out := tgbotapi.NewMessage(chatID, text)
	out.ReplyToMessageID = replyTo
	m, err := s.bot.Send(out)
	if err != nil {
		return chat.Sent{}, fmt.Errorf("failed to send message: %w", err)
	}
	return chat.Sent{ChatID: strconv.FormatInt(chatID, 10), MessageID: strconv.Itoa(m.MessageID)}, nil
}

type reactionType struct {
	Type  string `json:"type"`
	Emoji string `json:"emoji"`
}

// React sets an emoji reaction on a sent message. Bots without premium
// hold one reaction per message, so each call replaces the previous one.
func (s *Service) React(ctx context.Context, sent chat.Sent, symbol string) error {
	reaction, err := json.Marshal([]reactionType{{Type: "emoji", Emoji: symbol}})
	if err != nil {
		return err
	}
	params := tgbotapi.Params{
		"chat_id":    sent.ChatID,
		"message_id": sent.MessageID,
		"reaction":   string(reaction),
	}
	if _, err := s.bot.MakeRequest("setMessageReaction", params); err != nil {
		return fmt.Errorf("failed to react with %q: %w", symbol, err)
	}
	return nil
}

// IsPrivileged reports whether userID is the owner, the chat's creator,
// or an administrator carrying the configured title.
func (s *Service) IsPrivileged(ctx context.Context, chatID, userID string) (bool, error) {
	if s.ownerID != "" && userID == s.ownerID {
		return true, nil
	}
	cid, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return false, fmt.Errorf("invalid chat id %q: %w", chatID, err)
	}
	uid, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return false, fmt.Errorf("invalid user id %q: %w", userID, err)
	}

	member, err := s.bot.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{ChatID: cid, UserID: uid},
	})
	if err != nil {
		return false, fmt.Errorf("failed to look up chat member: %w", err)
	}
	return privileged(member, s.adminRole), nil
}

func privileged(member tgbotapi.ChatMember, role string) bool {
	if member.IsCreator() {
		return true
	}
	if !member.IsAdministrator() {
		return false
	}
	return role == "" || strings.EqualFold(strings.TrimSpace(member.CustomTitle), role)
}

// Listen long-polls for updates and hands messages to handle until ctx
// is done. It returns an error when a poll fails or stalls so the caller
// can reconnect; the update offset survives across calls.
func (s *Service) Listen(ctx context.Context, handle chat.Handler) error {
	type result struct {
		updates []tgbotapi.Update
		err     error
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		cfg := tgbotapi.NewUpdate(s.nextOffset())
		cfg.Timeout = pollTimeout
		done := make(chan result, 1)
		go func() {
			updates, err := s.bot.GetUpdates(cfg)
			done <- result{updates, err}
		}()

		timer := time.NewTimer(stallTimeout)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
			return fmt.Errorf("no updates received for %v (possible disconnect)", stallTimeout)
		case r := <-done:
			timer.Stop()
			if r.err != nil {
				return fmt.Errorf("failed to get updates: %w", r.err)
			}
			for _, update := range r.updates {
				s.advance(update.UpdateID)
				if ev, ok := toEvent(update); ok {
					handle(ctx, ev)
				}
			}
		}
	}
}

func (s *Service) nextOffset() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offset
}

func (s *Service) advance(updateID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if updateID >= s.offset {
		s.offset = updateID + 1
	}
}

// toEvent converts a text message update. Other updates are ignored.
func toEvent(update tgbotapi.Update) (chat.Event, bool) {
	msg := update.Message
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return chat.Event{}, false
	}
	text := msg.Text
	if text == "" {
		text = msg.Caption
	}

	ev := chat.Event{
		Kind:      chat.EventMessage,
		ChatID:    strconv.FormatInt(msg.Chat.ID, 10),
		MessageID: strconv.Itoa(msg.MessageID),
		From:      toUser(msg.From),
		Text:      text,
	}
	if msg.IsCommand() {
		ev.Kind = chat.EventCommand
		ev.Command = strings.ToLower(msg.Command())
		ev.Args = strings.TrimSpace(msg.CommandArguments())
	}
	if msg.ReplyToMessage != nil && msg.ReplyToMessage.From != nil {
		u := toUser(msg.ReplyToMessage.From)
		ev.ReplyTo = &u
	}
	return ev, true
}

func toUser(u *tgbotapi.User) chat.User {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if u.UserName != "" {
		name = "@" + u.UserName
	}
	return chat.User{ID: strconv.FormatInt(u.ID, 10), Name: name, IsBot: u.IsBot}
}
