package app

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sheetbot-go/internal/chat"
	"sheetbot-go/internal/crashlog"
	"sheetbot-go/internal/rowstore"
	"sheetbot-go/internal/streak"
)

var (
	ann  = chat.User{ID: "7", Name: "@ann"}
	bob  = chat.User{ID: "8", Name: "Bob Builder"}
	root = chat.User{ID: "1", Name: "@root"}
)

func message(from chat.User, chatID string) chat.Event {
	return chat.Event{Kind: chat.EventMessage, ChatID: chatID, MessageID: "m", From: from, Text: "hello"}
}

func command(from chat.User, name, args string) chat.Event {
	return chat.Event{Kind: chat.EventCommand, ChatID: "-100", MessageID: "c", From: from, Command: name, Args: args}
}

func lastReply(t *testing.T, app *testApp) string {
	t.Helper()
	out := app.transport.Outbox()
	require.NotEmpty(t, out)
	return out[len(out)-1].Text
}

func TestRouter_MessageAnnouncesOncePerDay(t *testing.T) {
	app := newTestApp(t, testConfig(), nil)
	ctx := context.Background()

	require.NoError(t, app.Router.Process(ctx, message(ann, "-100")))
	require.NoError(t, app.Router.Process(ctx, message(ann, "-100")))

	out := app.transport.Outbox()
	require.Len(t, out, 1)
	assert.Equal(t, "🔥 Current streak for @ann: 1 days!", out[0].Text)
	assert.Equal(t, "m", out[0].ReplyTo)

	rows := app.store.Rows(streak.Table)
	require.Len(t, rows, 2)
	assert.Equal(t, rowstore.Row{"7", "@ann", "2025-01-01", "1", "2025-01-01"}, rows[1])
}

func TestRouter_StreakChatFilter(t *testing.T) {
	cfg := testConfig()
	cfg.Telegram.StreakChatID = "-100"
	app := newTestApp(t, cfg, nil)

	require.NoError(t, app.Router.Process(context.Background(), message(ann, "-200")))
	assert.Empty(t, app.store.Rows(streak.Table))
	assert.Empty(t, app.transport.Outbox())

	require.NoError(t, app.Router.Process(context.Background(), message(ann, "-100")))
	assert.Len(t, app.store.Rows(streak.Table), 2)
}

func TestRouter_HandleIgnoresBots(t *testing.T) {
	app := newTestApp(t, testConfig(), nil)
	app.WorkerPool.Start()

	app.Router.Handle(context.Background(), message(chat.User{ID: "9", Name: "helper", IsBot: true}, "-100"))
	app.Router.Handle(context.Background(), message(chat.User{}, "-100"))
	app.Router.Handle(context.Background(), message(ann, "-100"))
	app.WorkerPool.Stop()

	rows := app.store.Rows(streak.Table)
	require.Len(t, rows, 2)
	assert.Equal(t, "7", rows[1][0])
}

func TestRouter_StreakCommand(t *testing.T) {
	app := newTestApp(t, testConfig(), nil)
	ctx := context.Background()

	require.NoError(t, app.Router.Process(ctx, command(ann, "streak", "")))
	assert.Equal(t, "🔥 @ann, your streak is: 1 days!", lastReply(t, app))
	assert.Equal(t, "2025-01-01", app.store.Rows(streak.Table)[1][4], "the command counts as today's announcement")

	// A plain message afterwards is not announced again.
	require.NoError(t, app.Router.Process(ctx, message(ann, "-100")))
	assert.Len(t, app.transport.Outbox(), 1)

	require.NoError(t, app.Router.Process(ctx, command(ann, "streak", "")))
	assert.Contains(t, lastReply(t, app), "Please wait")
	assert.Contains(t, lastReply(t, app), "/streak")

	// Cooldowns are per command.
	require.NoError(t, app.Router.Process(ctx, command(ann, "topstreaks", "")))
	assert.Contains(t, lastReply(t, app), "Top Streaks")
}

func TestRouter_PrivilegedSkipsCooldown(t *testing.T) {
	app := newTestApp(t, testConfig(), nil)
	app.transport.Grant(root.ID)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, app.Router.Process(ctx, command(root, "streak", "")))
		assert.Equal(t, "🔥 @root, your streak is: 1 days!", lastReply(t, app))
	}
}

func TestRouter_TopStreaks(t *testing.T) {
	app := newTestApp(t, testConfig(), nil)
	ctx := context.Background()

	require.NoError(t, app.Router.Process(ctx, command(ann, "topstreaks", "")))
	assert.Equal(t, "No streaks found.", lastReply(t, app))

	app.store.Seed(streak.Table,
		streak.Header,
		rowstore.Row{"7", "@ann", "2025-01-01", "5", ""},
		rowstore.Row{"8", "", "2025-01-01", "9", ""},
		rowstore.Row{"9", "@cat", "2024-12-31", "2", ""},
	)
	require.NoError(t, app.Router.Process(ctx, command(bob, "topstreaks", "")))
	assert.Equal(t, "🏆 Top Streaks\n1. 8: 9 🔥\n2. @ann: 5 🔥\n3. @cat: 2 🔥", lastReply(t, app))
}

func TestRouter_ResetStreak(t *testing.T) {
	app := newTestApp(t, testConfig(), nil)
	app.transport.Grant(root.ID)
	ctx := context.Background()
	app.store.Seed(streak.Table,
		streak.Header,
		rowstore.Row{"7", "@ann", "2024-12-31", "5", "2024-12-31"},
	)

	tests := []struct {
		name  string
		ev    chat.Event
		reply string
	}{
		{name: "not privileged", ev: command(bob, "resetstreak", "7"), reply: replyNoPermission},
		{name: "no target", ev: command(root, "resetstreak", ""), reply: replyResetUsage},
		{name: "non-numeric target", ev: command(root, "resetstreak", "ann"), reply: replyResetUsage},
		{name: "unknown id", ev: command(root, "resetstreak", "999"), reply: "Could not find entry for 999."},
		{name: "by id", ev: command(root, "resetstreak", "7 extra"), reply: "Reset streak for 7."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, app.Router.Process(ctx, tt.ev))
			assert.Equal(t, tt.reply, lastReply(t, app))
		})
	}

	assert.Equal(t, rowstore.Row{"7", "@ann", "2025-01-01", "0", ""}, app.store.Rows(streak.Table)[1])

	byReply := command(root, "resetstreak", "")
	byReply.ReplyTo = &ann
	require.NoError(t, app.Router.Process(ctx, byReply))
	assert.Equal(t, "Reset streak for @ann.", lastReply(t, app))
}

func TestRouter_UnknownCommandIgnored(t *testing.T) {
	app := newTestApp(t, testConfig(), nil)
	require.NoError(t, app.Router.Process(context.Background(), command(ann, "start", "")))
	assert.Empty(t, app.transport.Outbox())
}

func TestRouter_StoreFailureRepliesAndRecordsCrash(t *testing.T) {
	app := newTestApp(t, testConfig(), nil)
	broken := errors.New("streak sheet has no header")
	app.store.FailOn = func(op rowstore.Op, table string) error {
		if table == streak.Table && op == rowstore.OpRead {
			return broken
		}
		return nil
	}

	err := app.Router.Process(context.Background(), command(ann, "streak", ""))
	require.Error(t, err)
	assert.True(t, errors.Is(err, broken))
	assert.Equal(t, "An error occurred.", lastReply(t, app))

	crashes := app.store.Rows(crashlog.Table)
	require.Len(t, crashes, 2)
	assert.Contains(t, crashes[1][1], "streak from 7")
	assert.Contains(t, app.crashFile.String(), "CRASH:")

	// Messages fail quietly.
	require.Error(t, app.Router.Process(context.Background(), message(ann, "-100")))
	assert.Len(t, app.transport.Outbox(), 1)
}

func TestRouter_TransientStoreFailureNotRecorded(t *testing.T) {
	app := newTestApp(t, testConfig(), nil)
	app.store.FailOn = func(op rowstore.Op, table string) error {
		if table == streak.Table && op == rowstore.OpRead {
			return rowstore.ErrUnavailable
		}
		return nil
	}

	err := app.Router.Process(context.Background(), message(ann, "-100"))
	assert.ErrorIs(t, err, rowstore.ErrUnavailable)

	err = app.Router.Process(context.Background(), command(bob, "streak", ""))
	assert.ErrorIs(t, err, rowstore.ErrUnavailable)
	assert.Equal(t, "An error occurred.", lastReply(t, app))

	assert.Nil(t, app.store.Rows(crashlog.Table))
	assert.Empty(t, app.crashFile.String())
}

func TestRouter_DMGroup(t *testing.T) {
	app := newTestApp(t, testConfig(), nil)
	app.Router.dmPause = 0
	app.transport.Grant(root.ID)
	app.transport.Block("103")
	ctx := context.Background()

	require.NoError(t, app.Router.Process(ctx, command(ann, "dmgroup", "hi all")))
	assert.Equal(t, "You do not have permission to use this command.", lastReply(t, app))

	require.NoError(t, app.Router.Process(ctx, command(root, "dmgroup", "  ")))
	assert.Equal(t, "Usage: /dmgroup <message>", lastReply(t, app))

	require.NoError(t, app.Router.Process(ctx, command(root, "dmgroup", "hi all")))
	assert.Equal(t, "DMTargets table not found.", lastReply(t, app))
	assert.Nil(t, app.store.Rows(DMTargetsTable))

	app.store.Seed(DMTargetsTable,
		rowstore.Row{"UserID"},
		rowstore.Row{"101"},
		rowstore.Row{""},
		rowstore.Row{" 102 ", "extra"},
		rowstore.Row{"103"},
	)
	before := len(app.transport.Outbox())
	require.NoError(t, app.Router.Process(ctx, command(root, "dmgroup", "Meeting moved to 5pm")))

	out := app.transport.Outbox()[before:]
	require.Len(t, out, 3)
	assert.Equal(t, "101", out[0].ChatID)
	assert.Equal(t, "Meeting moved to 5pm", out[0].Text)
	assert.Equal(t, "102", out[1].ChatID)
	assert.Equal(t, "-100", out[2].ChatID)
	assert.Equal(t, "Sent to 2 users. Failed: 1.\nFailed IDs: 103", out[2].Text)
}

func TestRouter_DMGroupReadFailure(t *testing.T) {
	app := newTestApp(t, testConfig(), nil)
	app.transport.Grant(root.ID)
	app.store.Seed(DMTargetsTable, rowstore.Row{"UserID"}, rowstore.Row{"101"})
	app.store.FailOn = func(op rowstore.Op, table string) error {
		if table == DMTargetsTable && op == rowstore.OpRead {
			return rowstore.ErrUnavailable
		}
		return nil
	}

	err := app.Router.Process(context.Background(), command(root, "dmgroup", "hi"))
	assert.ErrorIs(t, err, rowstore.ErrUnavailable)
	assert.Equal(t, "An error occurred.", lastReply(t, app))
}
