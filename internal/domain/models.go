package domain

import (
	"slices"
	"strings"
	"time"
)

// Domain contains core models shared by the poll pipeline and the dialog.

// Target identifies a followed entity within a platform (user id, room id, ...).
type Target string

// DefaultTarget is used by platforms that expose a single global feed. A subscription
// to DefaultTarget receives posts of every target on its platform.
const DefaultTarget Target = "default"

// Scope distinguishes private subscribers from group subscribers.
type Scope string

const (
	ScopeUser  Scope = "user"
	ScopeGroup Scope = "group"
)

// ParseScope normalizes a scope string, defaulting to ScopeGroup.
func ParseScope(s string) Scope {
	if strings.EqualFold(strings.TrimSpace(s), string(ScopeUser)) {
		return ScopeUser
	}
	return ScopeGroup
}

// RawPost is the adapter-native representation of a fetched post.
type RawPost struct {
	ID        string            `json:"id"`
	Title     string            `json:"title,omitempty"`
	Author    string            `json:"author,omitempty"`
	Category  string            `json:"category,omitempty"`
	Tags      []string          `json:"tags,omitempty"`
	Timestamp int64             `json:"timestamp,omitempty"`
	URL       string            `json:"url,omitempty"`
	Body      string            `json:"body,omitempty"`
	MediaURLs []string          `json:"media_urls,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// Post is a normalized unit ready for dispatch.
type Post struct {
	Platform    string   `json:"platform"`
	Target      Target   `json:"target"`
	TargetName  string   `json:"target_name,omitempty"`
	DisplayName string   `json:"display_name"`
	Text        string   `json:"text"`
	URL         string   `json:"url,omitempty"`
	MediaURLs   []string `json:"media_urls,omitempty"`
	Media       [][]byte `json:"media,omitempty"`
	Category    Category `json:"category"`
	Tags        []string `json:"tags,omitempty"`
}

// Subscription binds a subscriber to a platform target with optional filters.
// Empty Categories or Tags mean "accept all".
type Subscription struct {
	Subscriber string     `json:"subscriber"`
	Scope      Scope      `json:"scope"`
	Platform   string     `json:"platform"`
	Target     Target     `json:"target"`
	TargetName string     `json:"target_name"`
	Categories []Category `json:"categories"`
	Tags       []string   `json:"tags"`
	CreatedAt  time.Time  `json:"created_at"`
}

// SubscriptionKey is the uniqueness key of a subscription.
type SubscriptionKey struct {
	Subscriber string
	Scope      Scope
	Platform   string
	Target     Target
}

// Key returns the subscription's uniqueness key.
func (s Subscription) Key() SubscriptionKey {
	return SubscriptionKey{
		Subscriber: s.Subscriber,
		Scope:      s.Scope,
		Platform:   s.Platform,
		Target:     s.Target,
	}
}

// HasCategory reports whether the subscription accepts the category.
func (s Subscription) HasCategory(c Category) bool {
	return len(s.Categories) == 0 || slices.Contains(s.Categories, c)
}

// HasAnyTag reports whether the subscription accepts a post carrying tags.
func (s Subscription) HasAnyTag(tags []string) bool {
	if len(s.Tags) == 0 {
		return true
	}
	for _, t := range tags {
		if slices.Contains(s.Tags, t) {
			return true
		}
	}
	return false
}

// DetectMode selects how new posts are recognised for a platform.
type DetectMode string

const (
	DetectIDSet         DetectMode = "id_set"
	DetectHighWaterMark DetectMode = "high_water_mark"
)

// PollState is the persisted detection state of one (platform, target) pair.
type PollState struct {
	Mode      DetectMode `json:"mode"`
	SeenIDs   []string   `json:"seen_ids,omitempty"`
	Mark      int64      `json:"mark,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}
