// Package testutil holds in-memory fakes for the Discord adapter and clock.
// Fakes complete callbacks synchronously on the calling goroutine.
package testutil

import (
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"gatekeeper/internal/clock"
	"gatekeeper/internal/discord"

	"github.com/bwmarrin/discordgo"
)

var ErrFake = errors.New("fake failure")

type SentMessage struct {
	ID        string
	ChannelID string
	UserID    string
	Content   string
	Embeds    []*discordgo.MessageEmbed
	DM        bool
}

type Messenger struct {
	mu         sync.Mutex
	nextID     int
	Sent       []SentMessage
	Deleted    []string
	Bulk       [][]string
	FailSend   bool
	FailDM     bool
	FailDelete bool
}

func NewMessenger() *Messenger { return &Messenger{} }

func (m *Messenger) Send(channelID string, msg *discordgo.MessageSend, done func(*discordgo.Message, error)) {
	m.mu.Lock()
	if m.FailSend {
		m.mu.Unlock()
		if done != nil {
			done(nil, &discord.TransportError{Op: "send", Err: ErrFake})
		}
		return
	}
	sent := m.record(channelID, "", msg, false)
	m.mu.Unlock()
	if done != nil {
		done(&discordgo.Message{ID: sent.ID, ChannelID: channelID, Content: sent.Content}, nil)
	}
}

func (m *Messenger) SendDM(userID string, msg *discordgo.MessageSend, done func(*discordgo.Message, error)) {
	m.mu.Lock()
	if m.FailDM {
		m.mu.Unlock()
		if done != nil {
			done(nil, &discord.TransportError{Op: "send dm", Err: ErrFake})
		}
		return
	}
	sent := m.record("dm-"+userID, userID, msg, true)
	m.mu.Unlock()
	if done != nil {
		done(&discordgo.Message{ID: sent.ID, ChannelID: sent.ChannelID, Content: sent.Content}, nil)
	}
}

func (m *Messenger) Delete(channelID, messageID string, done func(error)) {
	m.mu.Lock()
	fail := m.FailDelete
	if !fail {
		m.Deleted = append(m.Deleted, messageID)
	}
	m.mu.Unlock()
	if done != nil {
		if fail {
			done(&discord.TransportError{Op: "delete", Err: ErrFake})
			return
		}
		done(nil)
	}
}

func (m *Messenger) BulkDelete(channelID string, messageIDs []string, done func(error)) {
	m.mu.Lock()
	m.Bulk = append(m.Bulk, append([]string(nil), messageIDs...))
	m.mu.Unlock()
	if done != nil {
		done(nil)
	}
}

func (m *Messenger) record(channelID, userID string, msg *discordgo.MessageSend, dm bool) SentMessage {
	m.nextID++
	sent := SentMessage{
		ID:        "m" + strconv.Itoa(m.nextID),
		ChannelID: channelID,
		UserID:    userID,
		Content:   msg.Content,
		Embeds:    msg.Embeds,
		DM:        dm,
	}
	m.Sent = append(m.Sent, sent)
	return sent
}

func (m *Messenger) Messages() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMessage(nil), m.Sent...)
}

func (m *Messenger) LastSent() (SentMessage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Sent) == 0 {
		return SentMessage{}, false
	}
	return m.Sent[len(m.Sent)-1], true
}

func (m *Messenger) DeletedIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.Deleted...)
}

func (m *Messenger) BulkDeletes() [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]string(nil), m.Bulk...)
}

type RoleChange struct {
	GuildID string
	UserID  string
	RoleID  string
	Added   bool
}

type Members struct {
	mu          sync.Mutex
	Perms       map[string]int64
	Roles       map[string]map[string]bool
	Guilds      map[string]bool
	Joined      map[string]bool
	RoleChanges []RoleChange
	Kicked      []string
	FailRoles   bool
	FailKick    bool
}

func NewMembers() *Members {
	return &Members{
		Perms:  make(map[string]int64),
		Roles:  make(map[string]map[string]bool),
		Guilds: make(map[string]bool),
		Joined: make(map[string]bool),
	}
}

// Grant sets the permissions userID holds in channelID.
func (m *Members) Grant(channelID, userID string, perms int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Perms[channelID+"/"+userID] = perms
}

func (m *Members) Permissions(channelID, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Perms[channelID+"/"+userID], nil
}

func (m *Members) HasRole(guildID, userID, roleID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Roles[guildID+"/"+userID][roleID], nil
}

func (m *Members) AddRole(guildID, userID, roleID string, done func(error)) {
	m.changeRole(guildID, userID, roleID, true, done)
}

func (m *Members) RemoveRole(guildID, userID, roleID string, done func(error)) {
	m.changeRole(guildID, userID, roleID, false, done)
}

func (m *Members) changeRole(guildID, userID, roleID string, add bool, done func(error)) {
	m.mu.Lock()
	fail := m.FailRoles
	if !fail {
		key := guildID + "/" + userID
		if m.Roles[key] == nil {
			m.Roles[key] = make(map[string]bool)
		}
		m.Roles[key][roleID] = add
		m.RoleChanges = append(m.RoleChanges, RoleChange{GuildID: guildID, UserID: userID, RoleID: roleID, Added: add})
	}
	m.mu.Unlock()
	if done != nil {
		if fail {
			done(&discord.TransportError{Op: "role", Err: ErrFake})
			return
		}
		done(nil)
	}
}

func (m *Members) Kick(guildID, userID, reason string, done func(error)) {
	m.mu.Lock()
	fail := m.FailKick
	if !fail {
		m.Kicked = append(m.Kicked, userID)
	}
	m.mu.Unlock()
	if done != nil {
		if fail {
			done(&discord.TransportError{Op: "kick", Err: ErrFake})
			return
		}
		done(nil)
	}
}

func (m *Members) SharesGuild(userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Guilds[userID]
}

// Join records userID as a member of guildID.
func (m *Members) Join(guildID, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Joined[guildID+"/"+userID] = true
}

func (m *Members) Leave(guildID, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Joined, guildID+"/"+userID)
}

func (m *Members) InGuild(guildID, userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Joined[guildID+"/"+userID]
}

func (m *Members) Changes() []RoleChange {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RoleChange(nil), m.RoleChanges...)
}

type fakeTimer struct {
	clock    *Clock
	deadline time.Time
	fn       func()
	stopped  bool
	fired    bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

// Clock fires timers whose deadline has passed when Advance is called.
type Clock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

var _ clock.Clock = (*Clock)(nil)

func NewClock(now time.Time) *Clock { return &Clock{now: now} }

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) AfterFunc(d time.Duration, fn func()) clock.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, deadline: c.now.Add(d), fn: fn}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves time forward and runs due timers in deadline order. Timers
// scheduled by callbacks are honoured if they fall inside the window.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		sort.SliceStable(c.timers, func(i, j int) bool { return c.timers[i].deadline.Before(c.timers[j].deadline) })
		var next *fakeTimer
		for _, t := range c.timers {
			if !t.stopped && !t.fired && !t.deadline.After(target) {
				next = t
				break
			}
		}
		if next == nil {
			c.now = target
			c.compact()
			c.mu.Unlock()
			return
		}
		next.fired = true
		if next.deadline.After(c.now) {
			c.now = next.deadline
		}
		c.mu.Unlock()
		next.fn()
	}
}

// Pending counts timers that have neither fired nor been stopped.
func (c *Clock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

func (c *Clock) compact() {
	live := c.timers[:0]
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			live = append(live, t)
		}
	}
	c.timers = live
}

var (
	_ discord.Messenger = (*Messenger)(nil)
	_ discord.Members   = (*Members)(nil)
)
