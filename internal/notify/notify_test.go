package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	name string
	err  error
	msgs []string
}

func (f *fakeSender) Send(_ context.Context, title, msg string) error {
	f.msgs = append(f.msgs, title+"|"+msg)
	return f.err
}

func (f *fakeSender) Name() string { return f.name }

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestNotifyFiltersEvents(t *testing.T) {
	s := &fakeSender{name: "a"}
	n := NewNotifier([]Sender{s}, []string{"trading_halted", " partial_execution "}, 0, quiet())
	ctx := context.Background()

	require.NoError(t, n.Notify(ctx, "trade_executed", "t", "m"))
	require.NoError(t, n.Notify(ctx, "partial_execution", "Partial", "leg B"))
	require.NoError(t, n.NotifyAll(ctx, "Started", "paper mode"))

	assert.Equal(t, []string{"Partial|leg B", "Started|paper mode"}, s.msgs)
}

func TestNotifyCooldownSuppressesRepeats(t *testing.T) {
	s := &fakeSender{name: "a"}
	n := NewNotifier([]Sender{s}, nil, time.Minute, quiet())
	clock := time.Unix(0, 0)
	n.now = func() time.Time { return clock }
	ctx := context.Background()

	require.NoError(t, n.Notify(ctx, "trading_blocked", "Blocked", "min_balance"))
	require.NoError(t, n.Notify(ctx, "trading_blocked", "Blocked", "min_balance"))
	require.NoError(t, n.Notify(ctx, "trading_blocked", "Blocked", "stop_loss"))
	assert.Len(t, s.msgs, 2)

	clock = clock.Add(2 * time.Minute)
	require.NoError(t, n.Notify(ctx, "trading_blocked", "Blocked", "min_balance"))
	assert.Len(t, s.msgs, 3)
}

func TestDispatchContinuesPastFailures(t *testing.T) {
	bad := &fakeSender{name: "bad", err: errors.New("down")}
	good := &fakeSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, 0, quiet())

	err := n.Notify(context.Background(), "e", "t", "m")
	require.Error(t, err)
	assert.ErrorContains(t, err, "1 sender(s) failed")
	assert.ErrorContains(t, err, "bad: down")
	assert.Len(t, good.msgs, 1)
}

func TestTelegramAndDiscordSenders(t *testing.T) {
	var got []map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		body["path"] = r.URL.Path
		got = append(got, body)
		if r.URL.Path == "/fail" {
			http.Error(w, "nope", http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()
	ctx := context.Background()

	tg := NewTelegramSender("TOKEN", "42")
	tg.apiBase = srv.URL
	require.NoError(t, tg.Send(ctx, "Halted", "integrity"))

	dc := NewDiscordSender(srv.URL + "/hook")
	require.NoError(t, dc.Send(ctx, "Halted", "integrity"))

	require.Len(t, got, 2)
	assert.Equal(t, "/botTOKEN/sendMessage", got[0]["path"])
	assert.Equal(t, "42", got[0]["chat_id"])
	assert.Equal(t, "*Halted*\nintegrity", got[0]["text"])
	assert.Equal(t, "**Halted**\nintegrity", got[1]["content"])

	err := NewDiscordSender(srv.URL+"/fail").Send(ctx, "x", "y")
	assert.ErrorContains(t, err, "discord: unexpected status 400: nope")
}
