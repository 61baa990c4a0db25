// Package form implements the step-by-step data collection state machine used for
// registrations.
//
// The machine is pure: it takes the current state and the user's input and returns the
// next state with the replies to send. Loading form definitions and persisting completed
// answers is left to the caller.
package form

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/BTreeMap/ChatDesk/internal/keyword"
	"github.com/BTreeMap/ChatDesk/internal/models"
)

// DefaultCancelKeyword aborts a registration in progress.
const DefaultCancelKeyword = "cancelar"

// ErrEmptyForm is returned by Start when the form has no fields.
var ErrEmptyForm = fmt.Errorf("form has no fields: %w", models.ErrUnavailable)

// State is the conversation state of a registration. A nil State means not started.
type State interface {
	stateName() string
}

// AwaitingField waits for the answer to the field at Progress.Index().
type AwaitingField struct {
	Progress Progress
}

// Completed holds every collected answer keyed by field name.
type Completed struct {
	Answers map[string]string
}

// Cancelled is reached when the user sends the cancel keyword.
type Cancelled struct{}

func (AwaitingField) stateName() string { return "awaiting_field" }
func (Completed) stateName() string     { return "completed" }
func (Cancelled) stateName() string     { return "cancelled" }

// StateName returns a short label for logs.
func StateName(s State) string {
	if s == nil {
		return "not_started"
	}
	return s.stateName()
}

// Progress is a registration in flight. The index always points inside the definition.
type Progress struct {
	index    int
	answers  map[string]string
	def      models.FormDefinition
	messages models.FormMessages
}

// Index returns the position of the field being asked.
func (p Progress) Index() int { return p.index }

// Field returns the field being asked.
func (p Progress) Field() models.FieldSpec { return p.def[p.index] }

// Definition returns the form being filled.
func (p Progress) Definition() models.FormDefinition { return p.def }

// Messages returns the text bundle of the form.
func (p Progress) Messages() models.FormMessages { return p.messages }

// Answers returns a copy of the answers collected so far.
func (p Progress) Answers() map[string]string {
	out := make(map[string]string, len(p.answers))
	for k, v := range p.answers {
		out[k] = v
	}
	return out
}

type progressJSON struct {
	Index    int                   `json:"index"`
	Answers  map[string]string     `json:"answers"`
	Fields   models.FormDefinition `json:"fields"`
	Messages models.FormMessages   `json:"messages"`
}

// MarshalJSON encodes the progress for durable conversation stores.
func (p Progress) MarshalJSON() ([]byte, error) {
	return json.Marshal(progressJSON{Index: p.index, Answers: p.answers, Fields: p.def, Messages: p.messages})
}

// UnmarshalJSON decodes progress and rejects an index outside the definition.
func (p *Progress) UnmarshalJSON(data []byte) error {
	var raw progressJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Index < 0 || raw.Index >= len(raw.Fields) {
		return fmt.Errorf("form progress index %d out of range for %d fields", raw.Index, len(raw.Fields))
	}
	if raw.Answers == nil {
		raw.Answers = map[string]string{}
	}
	*p = Progress{index: raw.Index, answers: raw.Answers, def: raw.Fields, messages: raw.Messages}
	return nil
}

// Outcome classifies a step.
type Outcome int

const (
	// OutcomeStarted means the form was opened and the first field asked.
	OutcomeStarted Outcome = iota
	// OutcomeNext means an answer was accepted and the next field asked.
	OutcomeNext
	// OutcomeInvalid means the answer was rejected and the same field asked again.
	OutcomeInvalid
	// OutcomeCompleted means the last field was answered.
	OutcomeCompleted
	// OutcomeCancelled means the user cancelled.
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeStarted:
		return "started"
	case OutcomeNext:
		return "next"
	case OutcomeInvalid:
		return "invalid"
	case OutcomeCompleted:
		return "completed"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Step is the result of a transition.
type Step struct {
	Next    State
	Replies []string
	Outcome Outcome
}

// Machine runs registrations. The zero value is not usable; use NewMachine.
type Machine struct {
	cancelKeyword string
	validators    map[string]Validator
}

// Option configures a Machine.
type Option func(*Machine)

// WithCancelKeyword replaces the cancel keyword.
func WithCancelKeyword(word string) Option {
	return func(m *Machine) {
		if w := strings.TrimSpace(word); w != "" {
			m.cancelKeyword = w
		}
	}
}

// WithValidator adds or replaces the validator for a kind.
func WithValidator(kind string, v Validator) Option {
	return func(m *Machine) {
		if v != nil {
			m.validators[CanonicalKind(kind)] = v
		}
	}
}

// NewMachine creates a Machine with the built-in validators.
func NewMachine(opts ...Option) *Machine {
	m := &Machine{cancelKeyword: DefaultCancelKeyword, validators: builtinValidators()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CancelKeyword returns the word that aborts a registration.
func (m *Machine) CancelKeyword() string { return m.cancelKeyword }

// Validate reports whether input is acceptable for a field of the given kind.
// Kinds without a validator accept any non-blank input.
func (m *Machine) Validate(kind, input string) bool {
	v, ok := m.validators[CanonicalKind(kind)]
	if !ok {
		v = IsText
	}
	return v(strings.TrimSpace(input))
}

// Start opens a registration and asks the first field.
func (m *Machine) Start(def models.FormDefinition, messages models.FormMessages) (Step, error) {
	if len(def) == 0 {
		return Step{}, ErrEmptyForm
	}
	messages = messages.WithDefaults()
	p := Progress{index: 0, answers: map[string]string{}, def: def, messages: messages}
	return Step{
		Next:    AwaitingField{Progress: p},
		Replies: []string{messages.Welcome, def[0].Label},
		Outcome: OutcomeStarted,
	}, nil
}

// Advance applies one user answer to a registration in progress.
func (m *Machine) Advance(p Progress, input string) Step {
	if keyword.Equal(input, m.cancelKeyword) {
		return Step{Next: Cancelled{}, Replies: []string{p.messages.Cancel}, Outcome: OutcomeCancelled}
	}

	field := p.Field()
	answer := strings.TrimSpace(input)
	if !m.Validate(field.Validation, answer) {
		return Step{
			Next:    AwaitingField{Progress: p},
			Replies: []string{p.messages.Invalid, field.Label},
			Outcome: OutcomeInvalid,
		}
	}

	answers := p.Answers()
	answers[field.Name] = answer

	if p.index+1 >= len(p.def) {
		return Step{Next: Completed{Answers: answers}, Outcome: OutcomeCompleted}
	}

	next := Progress{index: p.index + 1, answers: answers, def: p.def, messages: p.messages}
	return Step{
		Next:    AwaitingField{Progress: next},
		Replies: []string{next.Field().Label},
		Outcome: OutcomeNext,
	}
}

// IsEmptyForm reports whether err came from starting a form with no fields.
func IsEmptyForm(err error) bool {
	return errors.Is(err, ErrEmptyForm)
}
