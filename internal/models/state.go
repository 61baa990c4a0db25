package models

import "time"

// FlowState is the persisted conversation of one sender.
// Data holds the owning handler's encoded state.
type FlowState struct {
	Sender    string    `json:"sender"`
	Owner     string    `json:"owner"`
	Data      string    `json:"data"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
