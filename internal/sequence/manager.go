package sequence

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"gatekeeper/internal/clock"
	"gatekeeper/internal/discord"
	"gatekeeper/internal/metrics"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const DefaultIdleTimeout = 5 * time.Minute

const introNotice = "You are now in an interactive sequence. Reply in this channel to continue, or type `STOP` to cancel."

// Membership reports whether a user still shares any guild with the bot.
type Membership interface {
	SharesGuild(userID string) bool
}

type Config struct {
	IdleTimeout time.Duration
	Clock       clock.Clock
	Messenger   discord.Messenger
	Notifier    *discord.Notifier
	Members     Membership
	Logger      *zap.Logger
}

// Manager owns the table of live sequences keyed by (owner, channel).
type Manager struct {
	mu     sync.Mutex
	active map[key]*Sequence
	owners map[string]int
	closed bool

	idle      time.Duration
	clock     clock.Clock
	messenger discord.Messenger
	notifier  *discord.Notifier
	members   Membership
	logger    *zap.Logger
}

func NewManager(cfg Config) *Manager {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	return &Manager{
		active:    make(map[key]*Sequence),
		owners:    make(map[string]int),
		idle:      cfg.IdleTimeout,
		clock:     cfg.Clock,
		messenger: cfg.Messenger,
		notifier:  cfg.Notifier,
		members:   cfg.Members,
		logger:    cfg.Logger,
	}
}

// Start registers a new sequence and runs its first step. It fails with
// ErrAlreadyActive if the owner already has a live sequence in the channel;
// the existing one is left untouched and the factory is not called.
func (m *Manager) Start(spec Spec) (*Sequence, error) {
	if spec.New == nil {
		return nil, errors.New("sequence spec has no handler factory")
	}

	seq := &Sequence{
		ID:        uuid.NewString(),
		Kind:      spec.Kind,
		Owner:     spec.Owner,
		ChannelID: spec.ChannelID,
		GuildID:   spec.GuildID,
		CreatedAt: m.clock.Now(),
		manager:   m,
		cleanup:   spec.Cleanup,
	}
	seq.mu.Lock()
	defer seq.mu.Unlock()

	k := key{owner: spec.Owner, channel: spec.ChannelID}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	if _, exists := m.active[k]; exists {
		m.mu.Unlock()
		return nil, ErrAlreadyActive
	}
	seq.handler = spec.New()
	if seq.handler == nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("%s sequence factory returned no handler", spec.Kind)
	}
	m.active[k] = seq
	m.owners[spec.Owner]++
	m.mu.Unlock()

	metrics.SequencesActive.Inc()
	metrics.SequencesStarted.WithLabelValues(seq.Kind).Inc()
	m.logger.Info("sequence started", seq.fields(nil)...)

	if spec.Announce {
		seq.Reply(introNotice)
	}
	if err := m.begin(seq); err != nil {
		// The caller reports start failures, so no notice is sent here.
		m.logger.Error("sequence start failed", seq.fields(err)...)
		m.destroy(seq, ReasonFailed)
		return nil, err
	}
	seq.state.Store(int32(StateAwaitingInput))
	m.arm(seq)
	return seq, nil
}

// Active returns the live sequence for owner in channelID.
func (m *Manager) Active(owner, channelID string) (*Sequence, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seq, ok := m.active[key{owner: owner, channel: channelID}]
	return seq, ok
}

// HasActive reports whether owner has a live sequence in any channel.
func (m *Manager) HasActive(owner string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.owners[owner] > 0
}

// ForOwner lists the owner's live sequences.
func (m *Manager) ForOwner(owner string) []*Sequence {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Sequence
	for k, seq := range m.active {
		if k.owner == owner {
			out = append(out, seq)
		}
	}
	return out
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// HandleMessage routes msg to the author's sequence in that channel and
// reports whether a sequence consumed it.
func (m *Manager) HandleMessage(msg *discordgo.Message) bool {
	if msg == nil || msg.Author == nil || msg.Author.Bot {
		return false
	}
	seq, ok := m.Active(msg.Author.ID, msg.ChannelID)
	if !ok {
		return false
	}

	seq.mu.Lock()
	defer seq.mu.Unlock()
	if seq.State() == StateTerminal {
		return true
	}

	m.disarm(seq)
	seq.Track(msg.ID)

	if strings.TrimSpace(msg.Content) == StopKeyword {
		m.destroy(seq, ReasonStopped)
		return true
	}

	status, err := m.step(seq, msg)
	switch {
	case err != nil:
		m.fail(seq, err)
	case status == Done:
		m.destroy(seq, ReasonCompleted)
	case seq.State() != StateTerminal:
		m.arm(seq)
	}
	return true
}

// HandleMemberLeave ends the user's sequences bound to the guild they left,
// and all of them once the user shares no guild with the bot.
func (m *Manager) HandleMemberLeave(guildID, userID string) {
	for _, seq := range m.ForOwner(userID) {
		if seq.GuildID == guildID || !m.sharesGuild(userID) {
			m.Destroy(seq, ReasonLeft)
		}
	}
}

// Destroy ends seq. It is idempotent. Handlers must not call it on their own
// sequence; they return Done instead.
func (m *Manager) Destroy(seq *Sequence, reason Reason) {
	seq.mu.Lock()
	defer seq.mu.Unlock()
	m.destroy(seq, reason)
}

// Close ends every live sequence and rejects further starts.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	live := make([]*Sequence, 0, len(m.active))
	for _, seq := range m.active {
		live = append(live, seq)
	}
	m.mu.Unlock()

	for _, seq := range live {
		m.Destroy(seq, ReasonShutdown)
	}
}

func (m *Manager) begin(seq *Sequence) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &StepError{Kind: seq.Kind, Step: "start", Err: fmt.Errorf("panic: %v", rec)}
		}
	}()
	if err := seq.handler.Start(seq); err != nil {
		return &StepError{Kind: seq.Kind, Step: "start", Err: err}
	}
	return nil
}

func (m *Manager) step(seq *Sequence, msg *discordgo.Message) (status Status, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			status = Done
			err = &StepError{Kind: seq.Kind, Step: "message", Err: fmt.Errorf("panic: %v", rec)}
		}
	}()
	status, err = seq.handler.HandleMessage(seq, msg)
	if err != nil {
		return Done, &StepError{Kind: seq.Kind, Step: "message", Err: err}
	}
	return status, nil
}

// fail logs a step error, tells the owner and ends the sequence. Caller holds seq.mu.
func (m *Manager) fail(seq *Sequence, err error) {
	m.logger.Error("sequence step failed", seq.fields(err)...)
	if m.notifier != nil {
		m.notifier.Transient(seq.ChannelID, fmt.Sprintf("%s error: something went wrong, so this conversation was cancelled. Please try again.", discord.Mention(seq.Owner)))
	}
	m.destroy(seq, ReasonFailed)
}

// arm schedules idle expiry. Caller holds seq.mu.
func (m *Manager) arm(seq *Sequence) {
	m.disarm(seq)
	gen := seq.gen
	seq.timer = m.clock.AfterFunc(m.idle, func() { m.expire(seq, gen) })
}

// disarm cancels pending expiry. Bumping gen also voids a timer that already
// fired and is waiting on seq.mu. Caller holds seq.mu.
func (m *Manager) disarm(seq *Sequence) {
	seq.gen++
	if seq.timer != nil {
		seq.timer.Stop()
		seq.timer = nil
	}
}

func (m *Manager) expire(seq *Sequence, gen uint64) {
	seq.mu.Lock()
	defer seq.mu.Unlock()
	if seq.gen != gen || seq.State() == StateTerminal {
		return
	}
	m.destroy(seq, ReasonTimeout)
}

// destroy is the single teardown path. Caller holds seq.mu.
func (m *Manager) destroy(seq *Sequence, reason Reason) {
	if State(seq.state.Swap(int32(StateTerminal))) == StateTerminal {
		return
	}
	m.disarm(seq)
	m.unregister(seq)

	if closer, ok := seq.handler.(Closer); ok {
		m.close(closer, seq, reason)
	}
	if seq.cleanup {
		m.purge(seq)
	}

	metrics.SequencesActive.Dec()
	metrics.SequencesFinished.WithLabelValues(seq.Kind, string(reason)).Inc()
	m.logger.Info("sequence ended", append(seq.fields(nil), zap.String("reason", string(reason)))...)
}

func (m *Manager) unregister(seq *Sequence) {
	k := key{owner: seq.Owner, channel: seq.ChannelID}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active[k] != seq {
		return
	}
	delete(m.active, k)
	if m.owners[seq.Owner]--; m.owners[seq.Owner] <= 0 {
		delete(m.owners, seq.Owner)
	}
}

func (m *Manager) close(closer Closer, seq *Sequence, reason Reason) {
	defer func() {
		if rec := recover(); rec != nil {
			m.logger.Error("sequence close panicked", seq.fields(fmt.Errorf("%v", rec))...)
		}
	}()
	closer.Close(seq, reason)
}

func (m *Manager) purge(seq *Sequence) {
	seq.trackMu.Lock()
	defer seq.trackMu.Unlock()
	batches, singles := deleteTracked(m.messenger, seq.ChannelID, &seq.tracked, func(err error) {
		if err != nil {
			m.logger.Warn("sequence cleanup failed", seq.fields(err)...)
		}
	})
	if batches > 0 || singles > 0 {
		m.logger.Debug("sequence messages purged", append(seq.fields(nil), zap.Int("batches", batches), zap.Int("singles", singles))...)
	}
}

func (m *Manager) sharesGuild(userID string) bool {
	if m.members == nil {
		return true
	}
	return m.members.SharesGuild(userID)
}

func (s *Sequence) fields(err error) []zap.Field {
	fields := []zap.Field{
		zap.String("sequence_id", s.ID),
		zap.String("kind", s.Kind),
		zap.String("user_id", s.Owner),
		zap.String("channel_id", s.ChannelID),
		zap.String("guild_id", s.GuildID),
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	return fields
}
