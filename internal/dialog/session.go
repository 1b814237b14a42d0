// Package dialog implements the conversational subscription flows: add, delete and query.
package dialog

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/samvad-hq/samvad-notifier/internal/domain"
	"github.com/samvad-hq/samvad-notifier/pkg/platforms"
)

// Step is the state of a dialog session.
type Step int

const (
	StepNone Step = iota
	StepAwaitPlatform
	StepAwaitTarget
	StepAwaitCategories
	StepAwaitTags
	StepAwaitIndex
	StepCompleted
	StepAborted
)

var stepNames = map[Step]string{
	StepNone:            "none",
	StepAwaitPlatform:   "await_platform",
	StepAwaitTarget:     "await_target",
	StepAwaitCategories: "await_categories",
	StepAwaitTags:       "await_tags",
	StepAwaitIndex:      "await_index",
	StepCompleted:       "completed",
	StepAborted:         "aborted",
}

func (s Step) String() string {
	if name, ok := stepNames[s]; ok {
		return name
	}
	return "unknown"
}

// Terminal reports whether the session ends in this step.
func (s Step) Terminal() bool {
	return s == StepCompleted || s == StepAborted || s == StepNone
}

// MarshalText lets replies carry the step name in JSON.
func (s Step) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Flow names the dialog a session runs.
type Flow string

const (
	FlowAdd    Flow = "add"
	FlowDelete Flow = "delete"
)

type sessionKey struct {
	chat string
	user string
}

// session is one open dialog. mu serialises messages of the same (chat, user);
// the manager map lock is never held while a session runs a step.
type session struct {
	mu sync.Mutex

	id      string
	key     sessionKey
	flow    Flow
	step    Step
	closed  atomic.Bool
	created time.Time
	// touched is the unix nano time of the last message; read by the janitor.
	touched atomic.Int64

	subscriber string
	scope      domain.Scope
	adapter    platforms.Adapter
	draft      domain.Subscription
	// listed holds the keys shown by the delete flow, in index order.
	listed []domain.SubscriptionKey
}

func (s *session) expired(now time.Time, timeout time.Duration) bool {
	return timeout > 0 && now.Sub(time.Unix(0, s.touched.Load())) > timeout
}
