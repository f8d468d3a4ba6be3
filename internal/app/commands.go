package app

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"sheetbot-go/internal/chat"
	"sheetbot-go/internal/cooldown"
	"sheetbot-go/internal/metrics"
	"sheetbot-go/internal/rowstore"
	"sheetbot-go/internal/streak"
	"sheetbot-go/internal/supervisor"
	"sheetbot-go/internal/worker"
)

// Replies sent by the command router.
const (
	replyError        = "An error occurred."
	replyNoPermission = "You do not have permission to use this command."
	replyNoStreaks    = "No streaks found."
	replyResetUsage   = "Reply to a member's message or give their user id: /resetstreak <user id>"
	replyDMUsage      = "Usage: /dmgroup <message>"
	replyNoDMTargets  = "DMTargets table not found."
)

// DMTargetsTable lists the user ids /dmgroup writes to, one per row in the
// first column below a header.
const DMTargetsTable = "DMTargets"

const (
	// commandTimeout bounds the work done for one inbound event.
	commandTimeout = 2 * time.Minute
	// broadcastTimeout bounds a whole /dmgroup run.
	broadcastTimeout = 30 * time.Minute
	// dmPause spaces out direct messages to stay under flood limits.
	dmPause = time.Second
)

var errNoWorker = errors.New("worker queue full")

// Router turns inbound chat events into streak updates and command
// replies. Events are handed to the worker pool keyed by user so one
// user's events are processed in order.
type Router struct {
	streaks    *streak.Service
	store      rowstore.Store
	transport  chat.Transport
	auth       chat.Authorizer
	cooldowns  cooldown.Store
	pool       *worker.WorkerPool
	crashes    supervisor.Reporter
	streakChat string
	dmPause    time.Duration
	logger     *log.Logger
}

// NewRouter creates a Router. streakChat limits automatic streak touches
// to one chat; empty accepts every chat. crashes may be nil.
func NewRouter(streaks *streak.Service, store rowstore.Store, transport chat.Transport, auth chat.Authorizer, cooldowns cooldown.Store,
	pool *worker.WorkerPool, crashes supervisor.Reporter, streakChat string, logger *log.Logger) *Router {
	return &Router{
		streaks:    streaks,
		store:      store,
		transport:  transport,
		auth:       auth,
		cooldowns:  cooldowns,
		pool:       pool,
		crashes:    crashes,
		streakChat: streakChat,
		dmPause:    dmPause,
		logger:     logger,
	}
}

// Handle queues ev for processing. It never blocks on the chat platform.
func (r *Router) Handle(ctx context.Context, ev chat.Event) {
	if ev.From.IsBot || ev.From.ID == "" {
		return
	}
	base := context.WithoutCancel(ctx)
	timeout := commandTimeout
	if ev.Kind == chat.EventCommand && ev.Command == "dmgroup" {
		timeout = broadcastTimeout
	}
	task := worker.Func{K: ev.From.ID, Fn: func() error {
		taskCtx, cancel := context.WithTimeout(base, timeout)
		defer cancel()
		return r.Process(taskCtx, ev)
	}}
	if !r.pool.Submit(task) {
		r.logger.Warn("dropping event", "user", ev.From.ID, "chat", ev.ChatID, "error", errNoWorker)
	}
}

// Process handles one event synchronously.
func (r *Router) Process(ctx context.Context, ev chat.Event) error {
	switch ev.Kind {
	case chat.EventMessage:
		if r.streakChat != "" && ev.ChatID != r.streakChat {
			return nil
		}
		return r.fail(ctx, ev, "message", r.touch(ctx, ev))
	case chat.EventCommand:
		var err error
		switch ev.Command {
		case "streak":
			err = r.cmdStreak(ctx, ev)
		case "topstreaks":
			err = r.cmdTopStreaks(ctx, ev)
		case "resetstreak":
			err = r.cmdResetStreak(ctx, ev)
		case "dmgroup":
			err = r.cmdDMGroup(ctx, ev)
		default:
			return nil
		}
		return r.fail(ctx, ev, ev.Command, err)
	}
	return nil
}

// touch records activity and announces the streak once per day.
func (r *Router) touch(ctx context.Context, ev chat.Event) error {
	res, err := r.streaks.Touch(ctx, ev.From.ID, ev.From.Name)
	if err != nil {
		return err
	}
	if !res.ShouldAnnounce() {
		return nil
	}
	if err := r.reply(ctx, ev, fmt.Sprintf("🔥 Current streak for %s: %d days!", displayName(ev.From), res.Count)); err != nil {
		return err
	}
	return r.streaks.MarkShown(ctx, ev.From.ID, res.Today)
}

func (r *Router) cmdStreak(ctx context.Context, ev chat.Event) error {
	if !r.allow(ctx, ev) {
		return nil
	}
	res, err := r.streaks.Touch(ctx, ev.From.ID, ev.From.Name)
	if err != nil {
		return err
	}
	if err := r.reply(ctx, ev, fmt.Sprintf("🔥 %s, your streak is: %d days!", displayName(ev.From), res.Count)); err != nil {
		return err
	}
	if res.ShouldAnnounce() {
		return r.streaks.MarkShown(ctx, ev.From.ID, res.Today)
	}
	return nil
}

func (r *Router) cmdTopStreaks(ctx context.Context, ev chat.Event) error {
	if !r.allow(ctx, ev) {
		return nil
	}
	top, err := r.streaks.Top(ctx, streak.DefaultTopLimit)
	if err != nil {
		return err
	}
	return r.reply(ctx, ev, FormatTop(top))
}

func (r *Router) cmdResetStreak(ctx context.Context, ev chat.Event) error {
	if !r.privileged(ctx, ev) {
		metrics.CommandsTotal.WithLabelValues(ev.Command, "denied").Inc()
		return r.reply(ctx, ev, replyNoPermission)
	}

	var targetID, targetName string
	switch {
	case ev.ReplyTo != nil:
		targetID, targetName = ev.ReplyTo.ID, displayName(*ev.ReplyTo)
	case ev.Args != "":
		arg := strings.Fields(ev.Args)[0]
		if _, err := strconv.ParseInt(arg, 10, 64); err != nil {
			return r.reply(ctx, ev, replyResetUsage)
		}
		targetID, targetName = arg, arg
	default:
		return r.reply(ctx, ev, replyResetUsage)
	}

	found, err := r.streaks.Reset(ctx, targetID)
	if err != nil {
		return err
	}
	if !found {
		return r.reply(ctx, ev, fmt.Sprintf("Could not find entry for %s.", targetName))
	}
	r.logger.Info("streak reset", "target", targetID, "by", ev.From.ID)
	return r.reply(ctx, ev, fmt.Sprintf("Reset streak for %s.", targetName))
}

// cmdDMGroup sends the command's text to every user listed in the
// DMTargets table and replies with a summary. Failed sends do not stop
// the run.
func (r *Router) cmdDMGroup(ctx context.Context, ev chat.Event) error {
	if !r.privileged(ctx, ev) {
		metrics.CommandsTotal.WithLabelValues(ev.Command, "denied").Inc()
		return r.reply(ctx, ev, replyNoPermission)
	}
	text := strings.TrimSpace(ev.Args)
	if text == "" {
		return r.reply(ctx, ev, replyDMUsage)
	}

	tbl, err := r.store.EnsureTable(ctx, DMTargetsTable, nil)
	if errors.Is(err, rowstore.ErrTableNotFound) {
		return r.reply(ctx, ev, replyNoDMTargets)
	}
	if err != nil {
		return fmt.Errorf("open %s: %w", DMTargetsTable, err)
	}
	rows, err := r.store.ReadAllRows(ctx, tbl)
	if err != nil {
		return fmt.Errorf("read %s: %w", DMTargetsTable, err)
	}

	var sent int
	var failed []string
	for i := 1; i < len(rows); i++ {
		id := strings.TrimSpace(rows[i].Cell(0))
		if id == "" {
			continue
		}
		if sent+len(failed) > 0 && !sleepCtx(ctx, r.dmPause) {
			failed = append(failed, id)
			continue
		}
		if _, err := r.transport.Send(ctx, chat.Destination{ID: id}, chat.Message{Text: text}); err != nil {
			r.logger.Debug("direct message failed", "user", id, "error", err)
			failed = append(failed, id)
			continue
		}
		sent++
	}
	r.logger.Info("group DM finished", "by", ev.From.ID, "sent", sent, "failed", len(failed))

	summary := fmt.Sprintf("Sent to %d users. Failed: %d.", sent, len(failed))
	if len(failed) > 0 {
		summary += "\nFailed IDs: " + strings.Join(failed, ", ")
	}
	return r.reply(ctx, ev, summary)
}

// sleepCtx waits for d and reports false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// allow applies the per-user cooldown. Privileged users skip it.
func (r *Router) allow(ctx context.Context, ev chat.Event) bool {
	ok, wait := r.cooldowns.Allow(ctx, cooldown.Key(ev.Command, ev.From.ID))
	if ok {
		return true
	}
	if r.privileged(ctx, ev) {
		return true
	}
	metrics.CommandsTotal.WithLabelValues(ev.Command, "cooldown").Inc()
	secs := int(math.Ceil(wait.Seconds()))
	if err := r.reply(ctx, ev, fmt.Sprintf("Please wait %ds before using /%s again.", secs, ev.Command)); err != nil {
		r.logger.Warn("failed to send cooldown reply", "user", ev.From.ID, "error", err)
	}
	return false
}

func (r *Router) privileged(ctx context.Context, ev chat.Event) bool {
	ok, err := r.auth.IsPrivileged(ctx, ev.ChatID, ev.From.ID)
	if err != nil {
		r.logger.Warn("privilege lookup failed", "user", ev.From.ID, "chat", ev.ChatID, "error", err)
		return false
	}
	return ok
}

func (r *Router) reply(ctx context.Context, ev chat.Event, text string) error {
	_, err := r.transport.Send(ctx, chat.Destination{ID: ev.ChatID}, chat.Message{Text: text, ReplyTo: ev.MessageID})
	if err != nil {
		return fmt.Errorf("reply to %s: %w", ev.ChatID, err)
	}
	return nil
}

// fail records err, tells the user something went wrong and passes err
// on to the worker pool. Transient store errors are logged but not
// recorded as crashes.
func (r *Router) fail(ctx context.Context, ev chat.Event, label string, err error) error {
	if err == nil {
		if ev.Kind == chat.EventCommand {
			metrics.CommandsTotal.WithLabelValues(label, "ok").Inc()
		}
		return nil
	}
	metrics.CommandsTotal.WithLabelValues(label, "error").Inc()
	transient := rowstore.IsTransient(err)
	if transient {
		r.logger.Warn("event failed, store unavailable", "kind", label, "user", ev.From.ID, "chat", ev.ChatID, "error", err)
	} else {
		r.logger.Error("event failed", "kind", label, "user", ev.From.ID, "chat", ev.ChatID, "error", err)
	}
	if r.crashes != nil && !transient {
		r.crashes.Record(ctx, fmt.Errorf("%s from %s: %w", label, ev.From.ID, err), debug.Stack())
	}
	if ev.Kind == chat.EventCommand {
		if rerr := r.reply(ctx, ev, replyError); rerr != nil {
			r.logger.Warn("failed to send error reply", "chat", ev.ChatID, "error", rerr)
		}
	}
	return err
}

// FormatTop renders the leaderboard reply.
func FormatTop(top []streak.Record) string {
	if len(top) == 0 {
		return replyNoStreaks
	}
	var b strings.Builder
	b.WriteString("🏆 Top Streaks")
	for i, rec := range top {
		name := rec.Name
		if name == "" {
			name = rec.UserID
		}
		fmt.Fprintf(&b, "\n%d. %s: %d 🔥", i+1, name, rec.Count)
	}
	return b.String()
}

func displayName(u chat.User) string {
	if u.Name != "" {
		return u.Name
	}
	return u.ID
}
