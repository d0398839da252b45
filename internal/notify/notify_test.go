package notify

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTelegram struct {
	mu   sync.Mutex
	sent []string
	chat []string
}

func (f *fakeTelegram) handler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch {
	case strings.HasSuffix(r.URL.Path, "/getMe"):
		fmt.Fprint(w, `{"ok":true,"result":{"id":7,"is_bot":true,"first_name":"fx","username":"fx_bot"}}`)
	case strings.HasSuffix(r.URL.Path, "/sendMessage"):
		_ = r.ParseForm()
		f.mu.Lock()
		f.sent = append(f.sent, r.PostForm.Get("text"))
		f.chat = append(f.chat, r.PostForm.Get("chat_id"))
		f.mu.Unlock()
		fmt.Fprint(w, `{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":42,"type":"private"},"text":"ok"}}`)
	default:
		fmt.Fprint(w, `{"ok":false,"error_code":404,"description":"Not Found"}`)
	}
}

func TestTelegramNotify(t *testing.T) {
	t.Parallel()
	fake := &fakeTelegram{}
	srv := httptest.NewServer(http.HandlerFunc(fake.handler))
	defer srv.Close()

	tg, err := newTelegram("TOKEN", srv.URL+"/bot%s/%s", 42, "[fx]")
	require.NoError(t, err)

	require.NoError(t, tg.Notify(context.Background(), "BUY EURUSD 0.02 @ 1.08012"))
	require.Len(t, fake.sent, 1)
	assert.Equal(t, "[fx] BUY EURUSD 0.02 @ 1.08012", fake.sent[0])
	assert.Equal(t, "42", fake.chat[0])

	require.NoError(t, tg.Notify(context.Background(), strings.Repeat("x", 5000)))
	assert.Len(t, fake.sent[1], maxMessageLen)
}

func TestTelegramRequiresCredentials(t *testing.T) {
	t.Parallel()
	_, err := NewTelegram("", 1, "")
	assert.Error(t, err)
}

func TestFromEnvFallsBackToNoop(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	t.Setenv("TELEGRAM_CHAT_ID", "")
	assert.IsType(t, Noop{}, FromEnv(context.Background(), true, ""))
	assert.IsType(t, Noop{}, FromEnv(context.Background(), false, ""))
	assert.NoError(t, Noop{}.Notify(context.Background(), "ignored"))
}
