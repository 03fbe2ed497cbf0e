package unifiedllm

import "strings"

// Role identifies who produced a message in a conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of a prompt. The agent loop only exchanges text, so
// content is a list of text segments rather than a multimodal union.
type Message struct {
	Role    Role     `json:"role"`
	Content []string `json:"content"`
}

// TextContent joins all text segments of the message.
func (m Message) TextContent() string {
	return strings.Join(m.Content, "")
}

// SystemMessage creates a system Message.
func SystemMessage(text string) Message {
	return Message{Role: RoleSystem, Content: []string{text}}
}

// UserMessage creates a user Message.
func UserMessage(text string) Message {
	return Message{Role: RoleUser, Content: []string{text}}
}

// AssistantMessage creates an assistant Message.
func AssistantMessage(text string) Message {
	return Message{Role: RoleAssistant, Content: []string{text}}
}

// Request is the input to Client.Complete.
type Request struct {
	Model         string            `json:"model,omitempty"`
	Messages      []Message         `json:"messages"`
	Provider      string            `json:"provider,omitempty"`
	Temperature   *float64          `json:"temperature,omitempty"`
	MaxTokens     *int              `json:"max_tokens,omitempty"`
	StopSequences []string          `json:"stop_sequences,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// SystemPrompt returns the concatenated system messages of the request.
func (r Request) SystemPrompt() string {
	var parts []string
	for _, msg := range r.Messages {
		if msg.Role == RoleSystem {
			parts = append(parts, msg.TextContent())
		}
	}
	return strings.Join(parts, "\n")
}

// FinishReason describes why generation stopped.
type FinishReason struct {
	Reason string `json:"reason"` // "stop", "length", "error", "other"
	Raw    string `json:"raw,omitempty"`
}

// Usage tracks token consumption. Adapters that cannot observe real usage
// report an estimate.
type Usage struct {
	InputTokens  int  `json:"input_tokens"`
	OutputTokens int  `json:"output_tokens"`
	TotalTokens  int  `json:"total_tokens"`
	Estimated    bool `json:"estimated,omitempty"`
}

// Add returns the sum of u and other.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		InputTokens:  u.InputTokens + other.InputTokens,
		OutputTokens: u.OutputTokens + other.OutputTokens,
		TotalTokens:  u.TotalTokens + other.TotalTokens,
		Estimated:    u.Estimated || other.Estimated,
	}
}

// Response is the output of Client.Complete.
type Response struct {
	ID           string       `json:"id"`
	Model        string       `json:"model"`
	Provider     string       `json:"provider"`
	Message      Message      `json:"message"`
	FinishReason FinishReason `json:"finish_reason"`
	Usage        Usage        `json:"usage"`
}

// Text returns the generated text.
func (r Response) Text() string {
	return r.Message.TextContent()
}
