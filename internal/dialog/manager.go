package dialog

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samvad-hq/samvad-notifier/internal/domain"
	"github.com/samvad-hq/samvad-notifier/internal/logger"
	"github.com/samvad-hq/samvad-notifier/internal/storage"
	"github.com/samvad-hq/samvad-notifier/pkg/platforms"
)

const defaultTimeout = 5 * time.Minute

// PlatformSource resolves platform adapters; *platforms.Registry implements it.
type PlatformSource interface {
	Get(id string) (platforms.Adapter, bool)
	All() []platforms.Adapter
}

// Message is one chat message addressed to the dialog.
type Message struct {
	ChatID     string       `json:"chat_id"`
	UserID     string       `json:"user_id"`
	Subscriber string       `json:"subscriber"`
	Scope      domain.Scope `json:"scope"`
	Text       string       `json:"text"`
}

// Reply is what the dialog answers to one message.
type Reply struct {
	// Handled is false when the message neither started nor continued a dialog.
	Handled   bool     `json:"handled"`
	SessionID string   `json:"session_id,omitempty"`
	Flow      Flow     `json:"flow,omitempty"`
	Step      Step     `json:"step"`
	Done      bool     `json:"done"`
	Messages  []string `json:"messages,omitempty"`
}

func (r *Reply) say(msg string) { r.Messages = append(r.Messages, msg) }

// Options wires a Manager.
type Options struct {
	Store     storage.SubscriptionStore
	Platforms PlatformSource
	// Timeout discards sessions idle for longer; zero selects five minutes.
	Timeout time.Duration
	Log     logger.Logger
	Now     func() time.Time
}

// Manager owns every open dialog session keyed by (chat, user).
type Manager struct {
	store     storage.SubscriptionStore
	platforms PlatformSource
	timeout   time.Duration
	log       logger.Logger
	now       func() time.Time

	mu       sync.Mutex
	sessions map[sessionKey]*session
}

// NewManager builds a Manager.
func NewManager(opts Options) (*Manager, error) {
	if opts.Store == nil {
		return nil, errors.New("dialog requires a subscription store")
	}
	if opts.Platforms == nil {
		return nil, errors.New("dialog requires a platform source")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		store:     opts.Store,
		platforms: opts.Platforms,
		timeout:   opts.Timeout,
		log:       logger.Ensure(opts.Log),
		now:       opts.Now,
		sessions:  make(map[sessionKey]*session),
	}, nil
}

// Handle feeds one message into the dialog of its (chat, user) pair. An open session
// consumes the message; otherwise only the entry commands start something.
func (m *Manager) Handle(ctx context.Context, msg Message) (Reply, error) {
	msg.Text = strings.TrimSpace(msg.Text)
	if msg.Subscriber == "" {
		msg.Subscriber = msg.ChatID
	}
	if msg.Scope == "" {
		msg.Scope = domain.ScopeGroup
	}
	key := sessionKey{chat: msg.ChatID, user: msg.UserID}

	if s := m.lookup(key); s != nil {
		s.mu.Lock()
		if !s.closed.Load() {
			reply, err := m.step(ctx, s, msg.Text)
			s.mu.Unlock()
			return reply, err
		}
		s.mu.Unlock()
	}
	return m.start(ctx, key, msg)
}

// lookup returns the live session of key, discarding it when it timed out.
func (m *Manager) lookup(key sessionKey) *session {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[key]
	if !ok {
		return nil
	}
	if s.expired(m.now(), m.timeout) {
		delete(m.sessions, key)
		s.closed.Store(true)
		m.log.DebugObj("dialog session expired", "dialog_expired", map[string]any{"session": s.id, "flow": s.flow})
		return nil
	}
	return s
}

func (m *Manager) start(ctx context.Context, key sessionKey, msg Message) (Reply, error) {
	switch strings.ToLower(msg.Text) {
	case cmdAdd, cmdAddEN:
		s := m.open(key, msg, FlowAdd, StepAwaitPlatform, nil)
		reply := m.reply(s)
		reply.say(m.platformPrompt())
		return reply, nil
	case cmdDelete, cmdDeleteEN:
		return m.startDelete(ctx, key, msg)
	case cmdQuery, cmdQueryEN:
		return m.query(ctx, msg)
	default:
		return Reply{}, nil
	}
}

func (m *Manager) open(key sessionKey, msg Message, flow Flow, step Step, listed []domain.SubscriptionKey) *session {
	now := m.now()
	s := &session{
		id:         uuid.NewString(),
		key:        key,
		flow:       flow,
		step:       step,
		created:    now,
		subscriber: msg.Subscriber,
		scope:      msg.Scope,
		listed:     listed,
	}
	s.touched.Store(now.UnixNano())

	m.mu.Lock()
	if prev, ok := m.sessions[key]; ok {
		prev.closed.Store(true)
	}
	m.sessions[key] = s
	m.mu.Unlock()

	m.log.DebugObj("dialog session opened", "dialog_open", map[string]any{
		"session": s.id,
		"flow":    flow,
		"chat":    key.chat,
		"user":    key.user,
	})
	return s
}

// close removes s from the manager. Callers hold s.mu.
func (m *Manager) close(s *session) {
	s.closed.Store(true)
	m.mu.Lock()
	if cur, ok := m.sessions[s.key]; ok && cur == s {
		delete(m.sessions, s.key)
	}
	m.mu.Unlock()
}

func (m *Manager) reply(s *session) Reply {
	return Reply{Handled: true, SessionID: s.id, Flow: s.flow, Step: s.step, Done: s.step.Terminal()}
}

// step runs one transition of s. Callers hold s.mu.
func (m *Manager) step(ctx context.Context, s *session, text string) (Reply, error) {
	s.touched.Store(m.now().UnixNano())

	var (
		reply Reply
		err   error
	)
	if isCancel(text) {
		s.step = StepAborted
		reply = m.reply(s)
		if s.flow == FlowDelete {
			reply.say(msgDeleteAborted)
		} else {
			reply.say(msgAddAborted)
		}
	} else {
		switch s.flow {
		case FlowDelete:
			reply, err = m.stepDelete(ctx, s, text)
		default:
			reply, err = m.stepAdd(ctx, s, text)
		}
	}

	if s.step.Terminal() {
		m.close(s)
		m.log.DebugObj("dialog session closed", "dialog_close", map[string]any{
			"session": s.id,
			"step":    s.step.String(),
			"age_ms":  m.now().Sub(s.created).Milliseconds(),
		})
	}
	return reply, err
}

// Active returns the number of open sessions.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Evict drops every session idle for longer than the timeout and returns how many went.
func (m *Manager) Evict() int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for key, s := range m.sessions {
		if s.expired(now, m.timeout) {
			delete(m.sessions, key)
			s.closed.Store(true)
			n++
		}
	}
	return n
}

// RunJanitor evicts idle sessions every interval until ctx is done.
func (m *Manager) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = m.timeout
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Evict(); n > 0 {
				m.log.InfoObj("evicted idle dialog sessions", "dialog_evict", map[string]any{"count": n})
			}
		}
	}
}
