package models

import "time"

// Chatbot is a configured assistant. Flows, forms, welcomes and prompts hang off its ID.
type Chatbot struct {
	ID        string    `json:"id" yaml:"id"`
	UserID    string    `json:"user_id" yaml:"user_id"`
	Name      string    `json:"name" yaml:"name"`
	Active    bool      `json:"active" yaml:"active"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// FieldSpec is one step of a data-collection form.
type FieldSpec struct {
	Name       string `json:"field_name" yaml:"field_name"`
	Label      string `json:"field_label" yaml:"field_label"`
	Validation string `json:"validation_type" yaml:"validation_type"`
}

// FormDefinition is the ordered list of fields a registration collects.
type FormDefinition []FieldSpec

// FormMessages holds the texts a registration conversation sends.
// Zero-valued fields are replaced by DefaultFormMessages when merged with WithDefaults.
type FormMessages struct {
	Welcome           string   `json:"welcome_message" yaml:"welcome_message"`
	Success           []string `json:"success_messages" yaml:"success_messages"`
	Cancel            string   `json:"cancel_message" yaml:"cancel_message"`
	Invalid           string   `json:"invalid_message" yaml:"invalid_message"`
	AlreadyRegistered string   `json:"already_registered_message" yaml:"already_registered_message"`
	SaveFailed        string   `json:"save_failed_message" yaml:"save_failed_message"`
	Unavailable       string   `json:"unavailable_message" yaml:"unavailable_message"`
	NotConfigured     string   `json:"not_configured_message" yaml:"not_configured_message"`
}

// DefaultFormMessages returns the built-in Spanish texts.
func DefaultFormMessages() FormMessages {
	return FormMessages{
		Welcome:           "📝 Iniciemos tu registro. Escribe \"cancelar\" para detener el proceso.",
		Success:           []string{"✅ Registro completado exitosamente.", "¡Gracias por registrarte! 🎉"},
		Cancel:            "Registro cancelado",
		Invalid:           "❌ Respuesta no válida. Intenta nuevamente.",
		AlreadyRegistered: "⚠️ Ya te encuentras registrado.",
		SaveFailed:        "❌ Error al guardar los datos",
		Unavailable:       "❌ Servicio no disponible",
		NotConfigured:     "❌ Formulario no configurado",
	}
}

// WithDefaults fills empty fields of m from DefaultFormMessages.
func (m FormMessages) WithDefaults() FormMessages {
	d := DefaultFormMessages()
	if m.Welcome == "" {
		m.Welcome = d.Welcome
	}
	if len(m.Success) == 0 {
		m.Success = d.Success
	}
	if m.Cancel == "" {
		m.Cancel = d.Cancel
	}
	if m.Invalid == "" {
		m.Invalid = d.Invalid
	}
	if m.AlreadyRegistered == "" {
		m.AlreadyRegistered = d.AlreadyRegistered
	}
	if m.SaveFailed == "" {
		m.SaveFailed = d.SaveFailed
	}
	if m.Unavailable == "" {
		m.Unavailable = d.Unavailable
	}
	if m.NotConfigured == "" {
		m.NotConfigured = d.NotConfigured
	}
	return m
}

// FlowCandidate is a keyword-triggered canned reply. Lower Priority wins.
type FlowCandidate struct {
	ID        string   `json:"id" yaml:"id"`
	ChatbotID string   `json:"chatbot_id" yaml:"-"`
	Keywords  []string `json:"keyword" yaml:"keywords"`
	Response  string   `json:"response_text" yaml:"response_text"`
	MediaURL  string   `json:"media_url,omitempty" yaml:"media_url"`
	Priority  int      `json:"priority" yaml:"priority"`
}

// Welcome is the greeting an AI conversation opens with.
type Welcome struct {
	ID        string `json:"id" yaml:"id"`
	ChatbotID string `json:"chatbot_id" yaml:"-"`
	Message   string `json:"welcome_message" yaml:"message"`
	MediaURL  string `json:"media_url,omitempty" yaml:"media_url"`
}

// ChatHistoryEntry is one user message with the assistant reply.
type ChatHistoryEntry struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id,omitempty"`
	ChatbotID string    `json:"chatbot_id"`
	Phone     string    `json:"phone_number"`
	Message   string    `json:"message"`
	Response  string    `json:"response"`
	Embedding []float64 `json:"embedding,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ClientRecord is a completed registration.
type ClientRecord struct {
	ID                   string            `json:"id"`
	ChatbotID            string            `json:"chatbot_id"`
	Phone                string            `json:"phone_number"`
	IdentificationNumber string            `json:"identification_number,omitempty"`
	FullName             string            `json:"full_name,omitempty"`
	Email                string            `json:"email,omitempty"`
	Fields               map[string]string `json:"fields"`
	CreatedAt            time.Time         `json:"created_at"`
}

// Well-known form field names mapped onto ClientRecord columns.
const (
	FieldIdentification = "identification_number"
	FieldFullName       = "full_name"
	FieldFirstNames     = "nombres"
	FieldEmail          = "email"
	FieldPhone          = "phone_number"
)

// NewClientRecord builds a record from collected answers. The sender's phone is added
// under phone_number and "nombres" is copied into full_name when full_name is absent.
func NewClientRecord(chatbotID, phone string, answers map[string]string) ClientRecord {
	fields := make(map[string]string, len(answers)+2)
	for k, v := range answers {
		fields[k] = v
	}
	fields[FieldPhone] = phone
	if _, ok := fields[FieldFullName]; !ok {
		if n, ok := fields[FieldFirstNames]; ok {
			fields[FieldFullName] = n
		}
	}
	return ClientRecord{
		ChatbotID:            chatbotID,
		Phone:                phone,
		IdentificationNumber: fields[FieldIdentification],
		FullName:             fields[FieldFullName],
		Email:                fields[FieldEmail],
		Fields:               fields,
	}
}

// ChatRole is the author of a ChatTurn.
type ChatRole string

const (
	RoleUser      ChatRole = "user"
	RoleAssistant ChatRole = "assistant"
)

// ChatTurn is one message of the conversation sent to the reply generator.
type ChatTurn struct {
	Role    ChatRole `json:"role"`
	Content string   `json:"content"`
}

// PromptKind distinguishes the single behavior prompt from knowledge snippets.
type PromptKind string

const (
	PromptBehavior  PromptKind = "behavior"
	PromptKnowledge PromptKind = "knowledge"
)

// Prompt is a system prompt attached to a chatbot.
type Prompt struct {
	ID        string     `json:"id" yaml:"id"`
	ChatbotID string     `json:"chatbot_id" yaml:"-"`
	Kind      PromptKind `json:"kind" yaml:"kind"`
	Text      string     `json:"prompt_text" yaml:"text"`
}
