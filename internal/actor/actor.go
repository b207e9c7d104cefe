// Package actor abstracts the fallible move-proposing collaborator: an LLM
// queried with a running message transcript.
package actor

import (
	"context"
	"time"
)

// Message roles follow the chat-completions convention.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Reply is one raw actor response with its measured latency and reported
// cost. Text carries the unparsed reply body.
type Reply struct {
	Text    string
	Cost    float64
	Latency time.Duration
}

// Actor produces a reply for a transcript. A nil reply or an error is a
// transport failure; the negotiation layer owns retries.
type Actor interface {
	Name() string
	Send(ctx context.Context, transcript []Message) (*Reply, error)
}
