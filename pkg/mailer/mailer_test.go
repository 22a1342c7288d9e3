package mailer

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestBuildMessage(t *testing.T) {
	msg, err := buildMessage("jeu@thetiptop.fr", Message{
		To:      "winner@example.com",
		Subject: "Your prize",
		Text:    "You won an infuser",
		HTML:    "<p>You won an infuser</p>",
	})
	if err != nil {
		t.Fatalf("buildMessage: %v", err)
	}

	var buf bytes.Buffer
	if _, err := msg.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	raw := buf.String()
	for _, want := range []string{"winner@example.com", "jeu@thetiptop.fr", "Subject: Your prize", "text/html"} {
		if !strings.Contains(raw, want) {
			t.Fatalf("expected %q in message:\n%s", want, raw)
		}
	}
}

func TestBuildMessage_Invalid(t *testing.T) {
	cases := []Message{
		{Subject: "s", Text: "t"},
		{To: "a@b.fr", Text: "t"},
		{To: "a@b.fr", Subject: "s"},
	}
	for _, tc := range cases {
		if _, err := buildMessage("jeu@thetiptop.fr", tc); !errors.Is(err, ErrInvalidMessage) {
			t.Fatalf("expected ErrInvalidMessage for %+v, got %v", tc, err)
		}
	}

	if _, err := buildMessage("jeu@thetiptop.fr", Message{To: "not an address", Subject: "s", Text: "t"}); err == nil {
		t.Fatal("expected malformed recipient to fail")
	}
}

func TestNewSMTPMailer_RequiresHostAndSender(t *testing.T) {
	if _, err := NewSMTPMailer(SMTPConfig{From: "a@b.fr"}); err == nil {
		t.Fatal("expected missing host to fail")
	}
	if _, err := NewSMTPMailer(SMTPConfig{Host: "smtp.example.com"}); err == nil {
		t.Fatal("expected missing sender to fail")
	}
	if _, err := NewSMTPMailer(SMTPConfig{Host: "smtp.example.com", From: "a@b.fr", TLS: "none"}); err != nil {
		t.Fatalf("NewSMTPMailer: %v", err)
	}
}

func TestLogMailer(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	m := NewLogMailer(zap.New(core))

	if err := m.Send(context.Background(), Message{To: "a@b.fr", Subject: "hello", Text: "body"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if logs.Len() != 1 {
		t.Fatalf("expected 1 log entry, got %d", logs.Len())
	}
	if got := logs.All()[0].ContextMap()["to"]; got != "a@b.fr" {
		t.Fatalf("unexpected recipient field %v", got)
	}
}
