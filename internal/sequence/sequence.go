// Package sequence runs multi-step conversations bound to one user in one
// channel. A Manager owns every live Sequence, routes follow-up messages to
// it, expires it after a period of inactivity and removes the messages it
// produced once it ends.
package sequence

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"gatekeeper/internal/clock"

	"github.com/bwmarrin/discordgo"
)

// StopKeyword cancels any sequence when sent as the whole message.
const StopKeyword = "STOP"

var (
	ErrAlreadyActive = errors.New("sequence already active for this user in this channel")
	ErrClosed        = errors.New("sequence manager closed")
)

type State int32

const (
	StateCreated State = iota
	StateAwaitingInput
	StateTerminal
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateAwaitingInput:
		return "awaiting_input"
	case StateTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

type Reason string

const (
	ReasonCompleted Reason = "completed"
	ReasonStopped   Reason = "stopped"
	ReasonTimeout   Reason = "timeout"
	ReasonLeft      Reason = "left"
	ReasonFailed    Reason = "failed"
	ReasonShutdown  Reason = "shutdown"
	ReasonCancelled Reason = "cancelled"
)

// Status is returned by a step to say whether the conversation goes on.
type Status int

const (
	Continue Status = iota
	Done
)

// Handler implements one kind of conversation. Start sends the first prompt.
// HandleMessage consumes one reply from the owner. Both run while the
// sequence is locked and must not block on network round trips.
type Handler interface {
	Start(seq *Sequence) error
	HandleMessage(seq *Sequence, msg *discordgo.Message) (Status, error)
}

// Closer is implemented by handlers that react to the sequence ending,
// whatever the reason (completion, STOP, idle timeout, member leave).
type Closer interface {
	Close(seq *Sequence, reason Reason)
}

// StepError wraps a failure raised inside a handler.
type StepError struct {
	Kind string
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s sequence %s step: %v", e.Kind, e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Spec describes a sequence to start.
type Spec struct {
	Kind      string
	Owner     string
	ChannelID string
	// GuildID is empty for direct message sequences.
	GuildID string
	New     func() Handler
	// Cleanup deletes every tracked message when the sequence ends.
	Cleanup bool
	// Announce posts an introductory notice before the first prompt.
	Announce bool
}

type key struct {
	owner   string
	channel string
}

// Sequence is the handle for one live conversation.
type Sequence struct {
	ID        string
	Kind      string
	Owner     string
	ChannelID string
	GuildID   string
	CreatedAt time.Time

	manager *Manager
	handler Handler
	cleanup bool

	// mu serializes steps, timer expiry and destroy.
	mu    sync.Mutex
	gen   uint64
	timer clock.Timer
	state atomic.Int32

	trackMu sync.Mutex
	tracked []string
}

func (s *Sequence) State() State { return State(s.state.Load()) }

func (s *Sequence) Handler() Handler { return s.handler }

// Reply sends content to the sequence channel and tracks it for cleanup.
func (s *Sequence) Reply(content string) {
	s.Send(&discordgo.MessageSend{Content: content})
}

func (s *Sequence) ReplyEmbed(embed *discordgo.MessageEmbed) {
	s.Send(&discordgo.MessageSend{Embeds: []*discordgo.MessageEmbed{embed}})
}

func (s *Sequence) Send(msg *discordgo.MessageSend) {
	s.manager.messenger.Send(s.ChannelID, msg, func(sent *discordgo.Message, err error) {
		if err != nil {
			s.manager.logger.Warn("sequence reply failed", s.fields(err)...)
			return
		}
		s.Track(sent.ID)
	})
}

// Track records a message id for deletion when the sequence ends. Replies
// that land after cleanup already ran are deleted straight away.
func (s *Sequence) Track(messageID string) {
	s.trackMu.Lock()
	late := s.State() == StateTerminal
	if !late {
		s.tracked = append(s.tracked, messageID)
	}
	s.trackMu.Unlock()

	if late && s.cleanup {
		s.manager.messenger.Delete(s.ChannelID, messageID, nil)
	}
}

// Tracked returns a copy of the ids awaiting cleanup.
func (s *Sequence) Tracked() []string {
	s.trackMu.Lock()
	defer s.trackMu.Unlock()
	return append([]string(nil), s.tracked...)
}
