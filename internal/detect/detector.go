// Package detect decides which fetched posts are new for a target.
package detect

import (
	"time"

	"github.com/samvad-hq/samvad-notifier/internal/domain"
)

const defaultMaxSeenIDs = 2000

// Options tunes a Detector.
type Options struct {
	// MaxSeenIDs caps the remembered ids per target; the oldest are evicted first.
	MaxSeenIDs int
	// MaxPostAge suppresses posts whose timestamp is older than now-MaxPostAge. Zero disables it.
	MaxPostAge time.Duration
	Now        func() time.Time
}

// Detector is stateless; callers load and persist the PollState around Detect.
type Detector struct {
	maxSeen int
	maxAge  time.Duration
	now     func() time.Time
}

// New builds a Detector.
func New(opts Options) *Detector {
	if opts.MaxSeenIDs <= 0 {
		opts.MaxSeenIDs = defaultMaxSeenIDs
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Detector{maxSeen: opts.MaxSeenIDs, maxAge: opts.MaxPostAge, now: opts.Now}
}

// Detect returns the posts of fetched that are new relative to prev, in fetch order, and the
// state to persist afterwards. A nil prev marks the first poll of a target: everything is
// recorded and nothing is reported.
func (d *Detector) Detect(mode domain.DetectMode, prev *domain.PollState, fetched []domain.RawPost) ([]domain.RawPost, domain.PollState) {
	if prev != nil && prev.Mode != "" && prev.Mode != mode {
		// Platform switched strategy; start over instead of mixing ids and marks.
		prev = nil
	}

	var (
		fresh []domain.RawPost
		next  domain.PollState
	)
	switch mode {
	case domain.DetectHighWaterMark:
		fresh, next = d.byMark(prev, fetched)
	default:
		mode = domain.DetectIDSet
		fresh, next = d.byIDSet(prev, fetched)
	}
	next.Mode = mode
	next.UpdatedAt = d.now()

	if prev == nil {
		return nil, next
	}
	return d.dropStale(fresh), next
}

func (d *Detector) byIDSet(prev *domain.PollState, fetched []domain.RawPost) ([]domain.RawPost, domain.PollState) {
	var seenIDs []string
	if prev != nil {
		seenIDs = append(seenIDs, prev.SeenIDs...)
	}
	seen := make(map[string]struct{}, len(seenIDs)+len(fetched))
	for _, id := range seenIDs {
		seen[id] = struct{}{}
	}

	var fresh []domain.RawPost
	var added []string
	for _, post := range fetched {
		if post.ID == "" {
			continue
		}
		if _, ok := seen[post.ID]; ok {
			continue
		}
		seen[post.ID] = struct{}{}
		fresh = append(fresh, post)
		added = append(added, post.ID)
	}

	// Fetch order is newest first; append oldest first so eviction drops the oldest ids.
	for i := len(added) - 1; i >= 0; i-- {
		seenIDs = append(seenIDs, added[i])
	}
	if over := len(seenIDs) - d.maxSeen; over > 0 {
		seenIDs = seenIDs[over:]
	}
	return fresh, domain.PollState{SeenIDs: seenIDs}
}

func (d *Detector) byMark(prev *domain.PollState, fetched []domain.RawPost) ([]domain.RawPost, domain.PollState) {
	var mark int64
	if prev != nil {
		mark = prev.Mark
	}

	next := mark
	var fresh []domain.RawPost
	for _, post := range fetched {
		if post.Timestamp <= 0 {
			continue
		}
		if post.Timestamp > mark {
			fresh = append(fresh, post)
		}
		if post.Timestamp > next {
			next = post.Timestamp
		}
	}
	return fresh, domain.PollState{Mark: next}
}

func (d *Detector) dropStale(posts []domain.RawPost) []domain.RawPost {
	if d.maxAge <= 0 || len(posts) == 0 {
		return posts
	}
	cutoff := d.now().Add(-d.maxAge).Unix()
	out := posts[:0:0]
	for _, p := range posts {
		if p.Timestamp > 0 && p.Timestamp < cutoff {
			continue
		}
		out = append(out, p)
	}
	return out
}
