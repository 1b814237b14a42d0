package publishers

import (
	"time"

	"github.com/google/uuid"
	"github.com/samvad-hq/samvad-notifier/internal/domain"
)

// Notification is one (subscription, post) pair handed to the delivery transport.
type Notification struct {
	ID          string       `json:"id"`
	Subscriber  string       `json:"subscriber"`
	Scope       domain.Scope `json:"scope"`
	Platform    string       `json:"platform"`
	Target      string       `json:"target"`
	TargetName  string       `json:"target_name,omitempty"`
	Post        domain.Post  `json:"post"`
	CollectedAt time.Time    `json:"collected_at"`
}

// NewNotification addresses post to the subscriber of sub.
func NewNotification(sub domain.Subscription, post domain.Post) Notification {
	if post.TargetName == "" {
		post.TargetName = sub.TargetName
	}
	return Notification{
		ID:          uuid.NewString(),
		Subscriber:  sub.Subscriber,
		Scope:       sub.Scope,
		Platform:    post.Platform,
		Target:      string(post.Target),
		TargetName:  post.TargetName,
		Post:        post,
		CollectedAt: time.Now().UTC(),
	}
}

// attributes are the routing attributes every broker based sink attaches.
func (n Notification) attributes() map[string]string {
	return map[string]string{
		"platform":   n.Platform,
		"subscriber": n.Subscriber,
		"scope":      string(n.Scope),
	}
}
