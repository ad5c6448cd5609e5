package monitor

import "time"

// Message is the batcher's view of a chat message: just enough to classify
// it and to act on the original via its channel/message ids.
type Message struct {
	ID         string
	ChannelID  string
	AuthorID   string
	AuthorName string
	Content    string
	Timestamp  time.Time
}

// Verdict is a classifier decision for one message, severity on a 0-100
// scale.
type Verdict struct {
	Violation bool   `json:"violation"`
	Reason    string `json:"reason"`
	Severity  int    `json:"severity"`
	Comment   string `json:"comment,omitempty"`
}

// Entry is one buffered message awaiting classification.
type Entry struct {
	Message    Message
	Context    []Message
	EnqueuedAt time.Time
}

// Options carries the batch-wide rule text and prompt override.
type Options struct {
	Rules  string
	Prompt string
}
