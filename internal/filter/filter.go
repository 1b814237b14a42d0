// Package filter selects the subscriptions a post should be delivered to.
package filter

import "github.com/samvad-hq/samvad-notifier/internal/domain"

// Match returns the subscriptions in subs that accept post, preserving their order.
func Match(post domain.Post, subs []domain.Subscription) []domain.Subscription {
	var out []domain.Subscription
	for _, sub := range subs {
		if Accepts(sub, post) {
			out = append(out, sub)
		}
	}
	return out
}

// Accepts reports whether a single subscription wants the post.
func Accepts(sub domain.Subscription, post domain.Post) bool {
	if sub.Platform != post.Platform {
		return false
	}
	if sub.Target != post.Target && sub.Target != domain.DefaultTarget {
		return false
	}
	return sub.HasCategory(post.Category) && sub.HasAnyTag(post.Tags)
}
