// Package notify carries user-facing notices, undo prompts and the
// connection banner from the core to whichever front end is attached.
package notify

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tOgg1/pushdeck/internal/logging"
)

// Level is the severity of a notice.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Notice is a one-shot message for the user.
type Notice struct {
	Level Level
	Text  string
	At    time.Time
}

// Prompt is an open undo affordance for one deleted message.
type Prompt struct {
	ID        string
	MessageID int64
	Text      string
	Deadline  time.Time
}

// NewPrompt builds a prompt with a fresh id.
func NewPrompt(messageID int64, text string, deadline time.Time) Prompt {
	return Prompt{ID: uuid.NewString(), MessageID: messageID, Text: text, Deadline: deadline}
}

// Banner is the persistent connection banner. The zero value hides it.
type Banner struct {
	Visible bool
	Text    string
	// Retryable means a manual retry action should be offered.
	Retryable bool
}

// Sink receives everything the user should see.
type Sink interface {
	Notify(n Notice)

	// ShowUndo opens prompt and returns the func that closes it.
	ShowUndo(p Prompt) (closePrompt func())

	SetBanner(b Banner)
}

// LogSink writes to the structured log. It serves the tail command,
// which has no interactive surface.
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink creates a LogSink on the "notify" component logger.
func NewLogSink() *LogSink {
	return &LogSink{logger: logging.Component("notify")}
}

func (s *LogSink) Notify(n Notice) {
	var ev *zerolog.Event
	switch n.Level {
	case LevelError:
		ev = s.logger.Error()
	case LevelWarn:
		ev = s.logger.Warn()
	default:
		ev = s.logger.Info()
	}
	ev.Msg(n.Text)
}

func (s *LogSink) ShowUndo(p Prompt) func() {
	s.logger.Info().Int64("message_id", p.MessageID).Time("deadline", p.Deadline).Msg(p.Text)
	return func() {}
}

func (s *LogSink) SetBanner(b Banner) {
	if b.Visible {
		s.logger.Warn().Bool("retryable", b.Retryable).Msg(b.Text)
		return
	}
	s.logger.Info().Msg("connection restored")
}

// Discard drops everything.
type Discard struct{}

func (Discard) Notify(Notice)          {}
func (Discard) ShowUndo(Prompt) func() { return func() {} }
func (Discard) SetBanner(Banner)       {}

// Multi fans out to several sinks.
type Multi []Sink

func (m Multi) Notify(n Notice) {
	for _, s := range m {
		s.Notify(n)
	}
}

func (m Multi) ShowUndo(p Prompt) func() {
	closers := make([]func(), 0, len(m))
	for _, s := range m {
		closers = append(closers, s.ShowUndo(p))
	}
	return func() {
		for _, c := range closers {
			c()
		}
	}
}

func (m Multi) SetBanner(b Banner) {
	for _, s := range m {
		s.SetBanner(b)
	}
}
