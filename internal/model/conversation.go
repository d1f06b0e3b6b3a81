package model

type ConversationStatus string

const (
	ConversationStatusActive   ConversationStatus = "active"
	ConversationStatusArchived ConversationStatus = "archived"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Conversation struct {
	ID            string             `json:"id"`
	SessionID     string             `json:"session_id"`
	Title         string             `json:"title"`
	Status        ConversationStatus `json:"status"`
	StartedAt     int64              `json:"started_at"`
	LastMessageAt int64              `json:"last_message_at"`
}

type Message struct {
	ID             string   `json:"id"`
	ConversationID string   `json:"conversation_id"`
	Role           Role     `json:"role"`
	Content        string   `json:"content"`
	Sources        []Source `json:"sources"`
	Metadata       Metadata `json:"metadata,omitempty"`
	Feedback       *string  `json:"feedback,omitempty"`
	CreatedAt      int64    `json:"created_at"`
}

// Source is one citation attached to an answer.
type Source struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Score   float32 `json:"score"`
	Excerpt string  `json:"excerpt"`
}

// Turn is a role-labelled history entry handed to the answer engine.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}
