package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"lighter-hedge-bot/internal/config"

	"go.uber.org/zap"
)

func TestTelegramSendDisabled(t *testing.T) {
	cfg := config.TelegramConfig{Enabled: false}
	client := newTelegram(cfg, zap.NewNop(), "http://unused", nil)
	if err := client.Send(context.Background(), "hello"); err != nil {
		t.Fatalf("expected nil error when disabled, got %v", err)
	}
}

func TestTelegramSendMissingConfig(t *testing.T) {
	cfg := config.TelegramConfig{Enabled: true}
	client := newTelegram(cfg, zap.NewNop(), "http://unused", nil)
	if err := client.Send(context.Background(), "hello"); err == nil {
		t.Fatalf("expected error for missing token/chat_id")
	}
}

func TestTelegramSendPostsMessage(t *testing.T) {
	var gotPath string
	var gotPayload map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&gotPayload); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"result":{}}`))
	}))
	defer server.Close()

	cfg := config.TelegramConfig{Enabled: true, Token: "token", ChatID: "123"}
	client := newTelegram(cfg, zap.NewNop(), server.URL, server.Client())
	if err := client.Send(context.Background(), "hello"); err != nil {
		t.Fatalf("expected send success, got %v", err)
	}
	if gotPath != "/bottoken/sendMessage" {
		t.Fatalf("expected path /bottoken/sendMessage, got %s", gotPath)
	}
	if gotPayload["chat_id"] != "123" {
		t.Fatalf("expected chat_id 123, got %q", gotPayload["chat_id"])
	}
	if !strings.Contains(gotPayload["text"], "hello") {
		t.Fatalf("expected text hello, got %q", gotPayload["text"])
	}
}

type recordingSender struct {
	messages []string
	err      error
}

func (r *recordingSender) Send(_ context.Context, message string) error {
	r.messages = append(r.messages, message)
	return r.err
}

func TestNotifyLiquidationFormatsMessage(t *testing.T) {
	sender := &recordingSender{}
	NotifyLiquidation(context.Background(), sender, "0xabc", 0.013, zap.NewNop())
	if len(sender.messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(sender.messages))
	}
	if !strings.Contains(sender.messages[0], "0xabc") || !strings.Contains(sender.messages[0], "0.0130") {
		t.Fatalf("unexpected message: %q", sender.messages[0])
	}
}

func TestNotifyLiquidationSwallowsSendError(t *testing.T) {
	sender := &recordingSender{err: errors.New("boom")}
	NotifyLiquidation(context.Background(), sender, "0xabc", 0.01, zap.NewNop())
	if len(sender.messages) != 1 {
		t.Fatalf("expected send attempt despite error")
	}
}

func TestNotifyShutdownEmergencyPrefix(t *testing.T) {
	sender := &recordingSender{}
	NotifyShutdown(context.Background(), sender, true, 3, zap.NewNop())
	if len(sender.messages) != 1 || !strings.HasPrefix(sender.messages[0], "EMERGENCY STOP") {
		t.Fatalf("unexpected messages: %v", sender.messages)
	}
}
