package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/ChatDesk/internal/models"
	"github.com/BTreeMap/ChatDesk/internal/store"
)

// StoreStateStore implements StateStore on top of a store.FlowStateRepo so conversations
// survive restarts.
type StoreStateStore struct {
	repo store.FlowStateRepo
}

// NewStoreStateStore creates a StateStore backed by repo.
func NewStoreStateStore(repo store.FlowStateRepo) *StoreStateStore {
	slog.Debug("Creating StoreStateStore")
	return &StoreStateStore{repo: repo}
}

// Get implements StateStore.
func (s *StoreStateStore) Get(ctx context.Context, sender string) (*Conversation, error) {
	fs, err := s.repo.GetFlowState(ctx, sender)
	if err != nil {
		slog.Error("StoreStateStore.Get: load failed", "error", err, "sender", sender)
		return nil, err
	}
	if fs == nil {
		return nil, nil
	}

	var conv Conversation
	if err := json.Unmarshal([]byte(fs.Data), &conv); err != nil {
		// corrupt rows are dropped and the sender starts over
		slog.Warn("StoreStateStore.Get: discarding undecodable conversation", "error", err, "sender", sender, "owner", fs.Owner)
		if derr := s.repo.DeleteFlowState(ctx, sender); derr != nil {
			return nil, fmt.Errorf("failed to delete corrupt conversation: %w", derr)
		}
		return nil, nil
	}
	conv.Owner = fs.Owner
	conv.UpdatedAt = fs.UpdatedAt
	slog.Debug("StoreStateStore.Get found", "sender", sender, "owner", conv.Owner, "field_index", conv.Form.Index())
	return &conv, nil
}

// Put implements StateStore.
func (s *StoreStateStore) Put(ctx context.Context, sender string, conv Conversation) error {
	data, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("failed to encode conversation: %w", err)
	}
	now := time.Now()
	fs := models.FlowState{Sender: sender, Owner: conv.Owner, Data: string(data), CreatedAt: now, UpdatedAt: now}
	if err := s.repo.SaveFlowState(ctx, fs); err != nil {
		slog.Error("StoreStateStore.Put: save failed", "error", err, "sender", sender, "owner", conv.Owner)
		return err
	}
	slog.Debug("StoreStateStore.Put succeeded", "sender", sender, "owner", conv.Owner)
	return nil
}

// Delete implements StateStore.
func (s *StoreStateStore) Delete(ctx context.Context, sender string) error {
	if err := s.repo.DeleteFlowState(ctx, sender); err != nil {
		slog.Error("StoreStateStore.Delete failed", "error", err, "sender", sender)
		return err
	}
	slog.Debug("StoreStateStore.Delete succeeded", "sender", sender)
	return nil
}

var _ StateStore = (*StoreStateStore)(nil)
