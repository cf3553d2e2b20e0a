package models

import (
	"time"

	"gorm.io/datatypes"
)

type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Conversation groups chat messages about a single game.
type Conversation struct {
	ID        string    `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	GameID    string    `gorm:"column:game_id;type:uuid;index" json:"game_id"`
	UserID    string    `gorm:"column:user_id;type:uuid;index" json:"user_id"`
	Title     string    `gorm:"column:title;type:text" json:"title"`
	CreatedAt time.Time `gorm:"column:created_at;type:timestamptz" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamptz;index" json:"updated_at"`
}

func (Conversation) TableName() string { return "conversations" }

// MessageSource cites one knowledge vector backing a generated answer.
type MessageSource struct {
	VectorID   string  `json:"vector_id"`
	ImageID    string  `json:"image_id,omitempty"`
	Similarity float64 `json:"similarity"`
	Facet      Facet   `json:"facet"`
	Snippet    string  `json:"snippet,omitempty"`
	ImageURL   string  `json:"image_url,omitempty"`
}

// ChatMessage is immutable once created; only the usefulness signal may
// be set afterwards through feedback.
type ChatMessage struct {
	ID             string         `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	ConversationID string         `gorm:"column:conversation_id;type:uuid;index" json:"conversation_id"`
	Role           MessageRole    `gorm:"column:role;type:text" json:"role"`
	Content        string         `gorm:"column:content;type:text" json:"content"`
	Sources        datatypes.JSON `gorm:"column:sources;type:jsonb" json:"sources,omitempty"`
	RetrievalFacet Facet          `gorm:"column:retrieval_facet;type:text" json:"retrieval_facet,omitempty"`
	IsUseful       *bool          `gorm:"column:is_useful" json:"is_useful,omitempty"`
	CreatedAt      time.Time      `gorm:"column:created_at;type:timestamptz;index" json:"created_at"`
}

func (ChatMessage) TableName() string { return "chat_messages" }

// MessageFeedback stores at most one usefulness signal per message;
// a later submission overwrites the earlier one.
type MessageFeedback struct {
	ID        string    `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	MessageID string    `gorm:"column:message_id;type:uuid;uniqueIndex" json:"message_id"`
	IsUseful  bool      `gorm:"column:is_useful" json:"is_useful"`
	Comment   string    `gorm:"column:comment;type:text" json:"comment,omitempty"`
	CreatedAt time.Time `gorm:"column:created_at;type:timestamptz" json:"created_at"`
}

func (MessageFeedback) TableName() string { return "message_feedback" }
