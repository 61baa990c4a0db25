package flow

import (
	"context"
	"testing"

	"github.com/BTreeMap/ChatDesk/internal/form"
	"github.com/BTreeMap/ChatDesk/internal/models"
	"github.com/BTreeMap/ChatDesk/internal/store"
)

func startedProgress(t *testing.T) form.Progress {
	t.Helper()
	def := models.FormDefinition{
		{Name: models.FieldIdentification, Label: "Cédula", Validation: "identification"},
		{Name: models.FieldFullName, Label: "Nombre", Validation: "full_name"},
	}
	m := form.NewMachine()
	step, err := m.Start(def, models.FormMessages{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	step = m.Advance(step.Next.(form.AwaitingField).Progress, "12345678")
	return step.Next.(form.AwaitingField).Progress
}

func TestStoreStateStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := store.NewInMemoryStore()
	states := NewStoreStateStore(repo)

	conv := Conversation{Owner: RegistrationHandlerName, ChatbotID: "bot-1", Form: startedProgress(t)}
	if err := states.Put(ctx, "5215550001", conv); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := states.Get(ctx, "5215550001")
	if err != nil || got == nil {
		t.Fatalf("Get: %+v, %v", got, err)
	}
	if got.Owner != RegistrationHandlerName || got.ChatbotID != "bot-1" {
		t.Errorf("unexpected conversation: %+v", got)
	}
	if got.Form.Index() != 1 || got.Form.Answers()[models.FieldIdentification] != "12345678" {
		t.Errorf("form progress not restored: index=%d answers=%v", got.Form.Index(), got.Form.Answers())
	}
	if got.UpdatedAt.IsZero() {
		t.Error("expected UpdatedAt to be set")
	}

	if err := states.Delete(ctx, "5215550001"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if got, _ := states.Get(ctx, "5215550001"); got != nil {
		t.Errorf("expected no conversation after Delete, got %+v", got)
	}
}

func TestStoreStateStoreDropsCorruptRows(t *testing.T) {
	ctx := context.Background()
	repo := store.NewInMemoryStore()
	repo.SaveFlowState(ctx, models.FlowState{Sender: "5215550001", Owner: RegistrationHandlerName, Data: `{"form":{"index":7}}`})

	states := NewStoreStateStore(repo)
	got, err := states.Get(ctx, "5215550001")
	if err != nil || got != nil {
		t.Fatalf("expected corrupt conversation to be discarded, got %+v, %v", got, err)
	}
	if fs, _ := repo.GetFlowState(ctx, "5215550001"); fs != nil {
		t.Errorf("expected corrupt row to be deleted, got %+v", fs)
	}
}

func TestMemoryStateStore(t *testing.T) {
	ctx := context.Background()
	states := NewMemoryStateStore()
	if got, _ := states.Get(ctx, "a"); got != nil {
		t.Fatalf("expected empty store, got %+v", got)
	}
	states.Put(ctx, "a", Conversation{Owner: "x"})
	if got, _ := states.Get(ctx, "a"); got == nil || got.Owner != "x" {
		t.Fatalf("unexpected conversation: %+v", got)
	}
	states.Delete(ctx, "a")
	if got, _ := states.Get(ctx, "a"); got != nil {
		t.Errorf("expected conversation to be deleted, got %+v", got)
	}
}
