package dialog

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/samvad-hq/samvad-notifier/internal/domain"
)

func (m *Manager) startDelete(ctx context.Context, key sessionKey, msg Message) (Reply, error) {
	subs, err := m.store.ListSubscriptions(ctx, msg.Subscriber, msg.Scope)
	if err != nil {
		return Reply{}, fmt.Errorf("list subscriptions: %w", err)
	}
	if len(subs) == 0 {
		return Reply{Handled: true, Flow: FlowDelete, Step: StepCompleted, Done: true, Messages: []string{msgNoSubscriptions}}, nil
	}

	listed := make([]domain.SubscriptionKey, 0, len(subs))
	var b strings.Builder
	b.WriteString(msgListHeader)
	for i, sub := range subs {
		listed = append(listed, sub.Key())
		head, filters := m.describe(sub)
		fmt.Fprintf(&b, "%d %s\n", i+1, head)
		if filters != "" {
			fmt.Fprintf(&b, " %s\n", filters)
		}
	}
	b.WriteString(msgDeleteIndexAsk)

	reply := m.reply(m.open(key, msg, FlowDelete, StepAwaitIndex, listed))
	reply.say(b.String())
	return reply, nil
}

func (m *Manager) stepDelete(ctx context.Context, s *session, text string) (Reply, error) {
	index, err := strconv.Atoi(text)
	if err != nil || index < 1 || index > len(s.listed) {
		reply := m.reply(s)
		reply.say(msgDeleteError)
		return reply, nil
	}

	// Delete what the user saw, even if the list changed since it was shown.
	victim, err := m.store.RemoveSubscription(ctx, s.listed[index-1])
	switch {
	case errors.Is(err, domain.ErrNotFound):
		s.step = StepCompleted
		reply := m.reply(s)
		reply.say(msgDeleteGone)
		return reply, nil
	case err != nil:
		m.log.ErrorObj("subscription delete failed", "dialog_persist_error", map[string]any{
			"session": s.id,
			"index":   index,
			"error":   err.Error(),
		})
		reply := m.reply(s)
		reply.say(msgDeleteFailed)
		return reply, nil
	}

	m.log.InfoObj("subscription deleted", "subscription_deleted", map[string]any{
		"subscriber": victim.Subscriber,
		"scope":      victim.Scope,
		"platform":   victim.Platform,
		"target":     victim.Target,
	})
	s.step = StepCompleted
	reply := m.reply(s)
	reply.say(msgDeleteOK)
	return reply, nil
}

// query lists the subscriber's subscriptions without opening a session.
func (m *Manager) query(ctx context.Context, msg Message) (Reply, error) {
	subs, err := m.store.ListSubscriptions(ctx, msg.Subscriber, msg.Scope)
	if err != nil {
		return Reply{}, fmt.Errorf("list subscriptions: %w", err)
	}
	var b strings.Builder
	b.WriteString(msgListHeader)
	for _, sub := range subs {
		head, filters := m.describe(sub)
		b.WriteString(strings.TrimSpace(head + " " + filters))
		b.WriteString("\n")
	}
	return Reply{Handled: true, Step: StepCompleted, Done: true, Messages: []string{b.String()}}, nil
}
