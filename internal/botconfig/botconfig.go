// Package botconfig loads chatbot configuration from a YAML file and seeds it into a store.
//
//	chatbots:
//	  - id: main
//	    name: Recepción
//	    active: true
//	    form:
//	      fields:
//	        - {field_name: nombres, field_label: "¿Cuál es tu nombre?", validation_type: text}
//	      messages:
//	        welcome_message: "Iniciemos tu registro"
//	    flows:
//	      - {id: horario, keywords: [horario], response_text: "Atendemos de 9 a 18", priority: 1}
//	    welcome: {id: hola, message: "¡Hola! Soy tu asistente"}
//	    prompts:
//	      - {id: rol, kind: behavior, text: "Eres un asistente amable"}
package botconfig

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/BTreeMap/ChatDesk/internal/models"
	"github.com/BTreeMap/ChatDesk/internal/store"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid bot configuration")

// File is the top-level document.
type File struct {
	Chatbots []Bot `yaml:"chatbots"`
}

// Bot is one chatbot with everything attached to it.
type Bot struct {
	models.Chatbot `yaml:",inline"`
	Form           *Form                  `yaml:"form"`
	Flows          []models.FlowCandidate `yaml:"flows"`
	Welcome        *models.Welcome        `yaml:"welcome"`
	Prompts        []models.Prompt        `yaml:"prompts"`
}

// Form is a chatbot's registration form.
type Form struct {
	Fields   models.FormDefinition `yaml:"fields"`
	Messages *models.FormMessages  `yaml:"messages"`
}

// Load reads and validates path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read bot config %s: %w", path, err)
	}
	return Parse(bytes.NewReader(data))
}

// Parse decodes and validates a YAML document. Unknown keys are rejected.
func Parse(r io.Reader) (*File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var f File
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to decode bot config: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks ids are present and unique and prompt kinds are known.
func (f *File) Validate() error {
	seen := make(map[string]bool, len(f.Chatbots))
	for i, b := range f.Chatbots {
		id := strings.TrimSpace(b.ID)
		if id == "" {
			return fmt.Errorf("%w: chatbot %d has no id", ErrInvalidConfig, i)
		}
		if seen[id] {
			return fmt.Errorf("%w: duplicate chatbot id %q", ErrInvalidConfig, id)
		}
		seen[id] = true

		behavior := 0
		for _, p := range b.Prompts {
			switch p.Kind {
			case models.PromptBehavior:
				behavior++
			case models.PromptKnowledge:
			default:
				return fmt.Errorf("%w: chatbot %q prompt %q has unknown kind %q", ErrInvalidConfig, id, p.ID, p.Kind)
			}
		}
		if behavior > 1 {
			return fmt.Errorf("%w: chatbot %q has %d behavior prompts", ErrInvalidConfig, id, behavior)
		}
	}
	return nil
}

// Seed writes every chatbot into w. Chatbots without a created_at are stamped in file
// order so the last one listed is the newest. Flows, welcomes and prompts without an id get
// one derived from the chatbot id and position, so seeding twice overwrites instead of
// duplicating.
func (f *File) Seed(ctx context.Context, w store.ConfigWriter) error {
	base := time.Now().UTC().Add(-time.Duration(len(f.Chatbots)) * time.Second)
	for i, b := range f.Chatbots {
		bot := b.Chatbot
		if bot.CreatedAt.IsZero() {
			bot.CreatedAt = base.Add(time.Duration(i) * time.Second)
		}
		if err := w.SaveChatbot(ctx, bot); err != nil {
			return fmt.Errorf("failed to save chatbot %q: %w", bot.ID, err)
		}
		if b.Form != nil {
			if err := w.SaveFormFields(ctx, bot.ID, b.Form.Fields); err != nil {
				return fmt.Errorf("failed to save form of %q: %w", bot.ID, err)
			}
			if b.Form.Messages != nil {
				if err := w.SaveFormMessages(ctx, bot.ID, *b.Form.Messages); err != nil {
					return fmt.Errorf("failed to save form messages of %q: %w", bot.ID, err)
				}
			}
		}
		for j, fl := range b.Flows {
			fl.ChatbotID = bot.ID
			if fl.ID == "" {
				fl.ID = fmt.Sprintf("%s-flow-%d", bot.ID, j)
			}
			if err := w.SaveFlow(ctx, fl); err != nil {
				return fmt.Errorf("failed to save flow %q of %q: %w", fl.ID, bot.ID, err)
			}
		}
		if b.Welcome != nil {
			wel := *b.Welcome
			wel.ChatbotID = bot.ID
			if wel.ID == "" {
				wel.ID = bot.ID + "-welcome"
			}
			if err := w.SaveWelcome(ctx, wel); err != nil {
				return fmt.Errorf("failed to save welcome of %q: %w", bot.ID, err)
			}
		}
		for j, p := range b.Prompts {
			p.ChatbotID = bot.ID
			if p.ID == "" {
				p.ID = fmt.Sprintf("%s-prompt-%d", bot.ID, j)
			}
			if err := w.SavePrompt(ctx, p); err != nil {
				return fmt.Errorf("failed to save prompt %q of %q: %w", p.ID, bot.ID, err)
			}
		}
	}
	return nil
}
