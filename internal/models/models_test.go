package models

import (
	"errors"
	"testing"
)

func TestCanonicalSender(t *testing.T) {
	tests := map[string]string{
		"5215550001@s.whatsapp.net":    "5215550001",
		"5215550001:12@s.whatsapp.net": "5215550001",
		"whatsapp:+5215550001":         "5215550001",
		"+5215550001":                  "5215550001",
		" 5215550001 ":                 "5215550001",
	}
	for in, want := range tests {
		if got := CanonicalSender(in); got != want {
			t.Errorf("CanonicalSender(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSendMessageRequestValidate(t *testing.T) {
	tests := []struct {
		req     SendMessageRequest
		wantErr error
	}{
		{SendMessageRequest{Number: "1", Message: "hi"}, nil},
		{SendMessageRequest{Number: "1", URLMedia: "https://x/y.png"}, nil},
		{SendMessageRequest{Message: "hi"}, ErrEmptyRecipient},
		{SendMessageRequest{Number: "1"}, ErrEmptyBody},
	}
	for _, tt := range tests {
		if err := tt.req.Validate(); !errors.Is(err, tt.wantErr) {
			t.Errorf("Validate(%+v) = %v, want %v", tt.req, err, tt.wantErr)
		}
	}
}

func TestBlacklistRequestValidate(t *testing.T) {
	ok := BlacklistRequest{Number: "1", Intent: BlacklistAdd}
	if err := ok.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	bad := BlacklistRequest{Number: "1", Intent: "toggle"}
	if err := bad.Validate(); !errors.Is(err, ErrInvalidIntent) {
		t.Fatalf("expected ErrInvalidIntent, got %v", err)
	}
}

func TestFormMessagesWithDefaults(t *testing.T) {
	m := FormMessages{Welcome: "Hola"}.WithDefaults()
	if m.Welcome != "Hola" {
		t.Errorf("custom welcome overwritten: %q", m.Welcome)
	}
	if m.Cancel != "Registro cancelado" {
		t.Errorf("expected default cancel message, got %q", m.Cancel)
	}
	if len(m.Success) != 2 {
		t.Errorf("expected default success messages, got %v", m.Success)
	}
}

func TestNewClientRecord(t *testing.T) {
	rec := NewClientRecord("bot-1", "5215550001", map[string]string{
		"identification_number": "12345",
		"nombres":               "Juan Perez",
		"email":                 "juan@example.com",
	})
	if rec.Phone != "5215550001" || rec.Fields[FieldPhone] != "5215550001" {
		t.Errorf("phone not attached: %+v", rec)
	}
	if rec.FullName != "Juan Perez" {
		t.Errorf("expected full name copied from nombres, got %q", rec.FullName)
	}
	if rec.IdentificationNumber != "12345" || rec.Email != "juan@example.com" {
		t.Errorf("unexpected record: %+v", rec)
	}
}
