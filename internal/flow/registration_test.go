package flow

import (
	"context"
	"reflect"
	"testing"

	"github.com/BTreeMap/ChatDesk/internal/models"
)

func runRegistration(t *testing.T, r *Router, from string, inputs ...string) {
	t.Helper()
	for _, in := range inputs {
		if err := r.Dispatch(context.Background(), event(from, in)); err != nil {
			t.Fatalf("dispatch %q: %v", in, err)
		}
	}
}

func TestRegistrationPersistsWithSender(t *testing.T) {
	r, sender, _, clients := newRegistrationRouter(t)
	runRegistration(t, r, "5215550001", "Registro", "12345", "Juan Perez")

	if len(clients.saved) != 1 {
		t.Fatalf("expected one client, got %d", len(clients.saved))
	}
	rec := clients.saved[0]
	if rec.Phone != "5215550001" || rec.Fields[models.FieldPhone] != "5215550001" {
		t.Errorf("sender not attached to record: %+v", rec)
	}
	if rec.FullName != "Juan Perez" || rec.IdentificationNumber != "12345" || rec.ChatbotID != "bot-1" {
		t.Errorf("unexpected record: %+v", rec)
	}
	bodies := sender.bodies()
	if !reflect.DeepEqual(bodies[len(bodies)-2:], models.DefaultFormMessages().Success) {
		t.Errorf("expected success messages, got %q", bodies)
	}
	if conv, _ := r.States().Get(context.Background(), "5215550001"); conv != nil {
		t.Error("state should be cleared after completion")
	}
}

func TestRegistrationDuplicate(t *testing.T) {
	r, sender, _, clients := newRegistrationRouter(t)
	runRegistration(t, r, "1", "registro", "12345", "Juan Perez")
	sender.reset()
	runRegistration(t, r, "2", "registro", "12345", "Ana Lopez")

	if len(clients.saved) != 1 {
		t.Fatalf("duplicate should not be saved, got %d clients", len(clients.saved))
	}
	bodies := sender.bodies()
	if last := bodies[len(bodies)-1]; last != models.DefaultFormMessages().AlreadyRegistered {
		t.Errorf("expected already-registered message, got %q", last)
	}
	if conv, _ := r.States().Get(context.Background(), "2"); conv != nil {
		t.Error("state should be cleared after a duplicate")
	}
}

func TestRegistrationSaveFailure(t *testing.T) {
	r, sender, _, clients := newRegistrationRouter(t)
	clients.err = errBoom
	runRegistration(t, r, "1", "registro", "12345", "Juan Perez")

	bodies := sender.bodies()
	if last := bodies[len(bodies)-1]; last != models.DefaultFormMessages().SaveFailed {
		t.Errorf("expected save failure message, got %q", last)
	}
	if conv, _ := r.States().Get(context.Background(), "1"); conv != nil {
		t.Error("state should be cleared after a save failure")
	}
}

func TestRegistrationUnavailable(t *testing.T) {
	t.Run("no chatbot", func(t *testing.T) {
		r, sender, cfg, _ := newRegistrationRouter(t)
		cfg.bot = nil
		runRegistration(t, r, "1", "registrarme")
		if got := sender.bodies(); !reflect.DeepEqual(got, []string{models.DefaultFormMessages().Unavailable}) {
			t.Fatalf("replies = %q", got)
		}
		if conv, _ := r.States().Get(context.Background(), "1"); conv != nil {
			t.Error("no state should be created")
		}
	})
	t.Run("empty form", func(t *testing.T) {
		r, sender, cfg, _ := newRegistrationRouter(t)
		cfg.fields = nil
		runRegistration(t, r, "1", "registrarme")
		if got := sender.bodies(); !reflect.DeepEqual(got, []string{models.DefaultFormMessages().NotConfigured}) {
			t.Fatalf("replies = %q", got)
		}
		if conv, _ := r.States().Get(context.Background(), "1"); conv != nil {
			t.Error("no state should be created")
		}
	})
}

func TestRegistrationCustomMessages(t *testing.T) {
	r, sender, cfg, _ := newRegistrationRouter(t)
	cfg.messages = &models.FormMessages{Welcome: "Bienvenido al registro", Cancel: "Listo, cancelado"}
	runRegistration(t, r, "1", "registro", "cancelar")
	want := []string{"Bienvenido al registro", "Número de identificación:", "Listo, cancelado"}
	if got := sender.bodies(); !reflect.DeepEqual(got, want) {
		t.Fatalf("replies = %q, want %q", got, want)
	}
}

func TestRegistrationTriggerIsExact(t *testing.T) {
	cfg := newFakeConfig()
	h := NewRegistrationHandler(cfg, &fakeClients{})
	r := NewRouter(&recordingSender{}, WithHandler(h))
	turn := &Turn{Sender: "1", Text: "quiero registrarme mañana", router: r}
	handled, err := h.Handle(context.Background(), turn)
	if err != nil || handled {
		t.Fatalf("partial trigger should not start a registration: handled=%v err=%v", handled, err)
	}
}

func TestRegistrationLookupFailureIsRetried(t *testing.T) {
	r, sender, cfg, _ := newRegistrationRouter(t)
	cfg.botErr = errBoom
	err := r.Dispatch(context.Background(), event("1", "registro"))
	if err == nil {
		t.Fatal("expected failure after retries")
	}
	if cfg.botCalls != 3 {
		t.Errorf("expected 3 lookup attempts, got %d", cfg.botCalls)
	}
	if got := sender.bodies(); !reflect.DeepEqual(got, []string{MsgApology}) {
		t.Errorf("replies = %q", got)
	}
}
