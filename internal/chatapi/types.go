package chatapi

import "time"

// HeartbeatRequest is the chat-channel liveness signal.
type HeartbeatRequest struct {
	SupportsChat bool   `json:"supports_chat"`
	Status       string `json:"status,omitempty"`
}

// HeartbeatResponse piggy-backs the unread counter on the heartbeat.
type HeartbeatResponse struct {
	UnreadCount int `json:"unread_count"`
}

// Peer identifies a remote agent in a conversation.
type Peer struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Conversation summarizes one peer's thread.
type Conversation struct {
	Peer        Peer   `json:"peer"`
	LastMessage string `json:"last_message"`
	UnreadCount int    `json:"unread_count"`
}

// ConversationsResponse is the conversation listing.
type ConversationsResponse struct {
	Conversations []Conversation `json:"conversations"`
}

// Message is one chat message from a peer.
type Message struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// MessagesResponse is the per-conversation message listing.
type MessagesResponse struct {
	Messages []Message `json:"messages"`
}

// SendMessageRequest dispatches a reply to a peer.
type SendMessageRequest struct {
	TargetAgentID string `json:"target_agent_id"`
	Content       string `json:"content"`
}

// SendMessageResponse reports whether the target can receive chat.
type SendMessageResponse struct {
	TargetSupportsChat bool   `json:"target_supports_chat"`
	DeliveryHint       string `json:"delivery_hint,omitempty"`
}

// RegisterRequest creates a chat identity for this agent.
type RegisterRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Role        string   `json:"role"`
	EntityType  string   `json:"entity_type"`
	Endpoint    string   `json:"endpoint,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Skills      []string `json:"skills,omitempty"`
}

// RegisterResponse carries the issued chat credentials.
type RegisterResponse struct {
	APIKey  string `json:"api_key"`
	AgentID string `json:"agent_id"`
}
