package dialog

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/samvad-hq/samvad-notifier/internal/domain"
)

func (m *Manager) stepAdd(ctx context.Context, s *session, text string) (Reply, error) {
	switch s.step {
	case StepAwaitPlatform:
		return m.onPlatform(ctx, s, text)
	case StepAwaitTarget:
		return m.onTarget(ctx, s, text)
	case StepAwaitCategories:
		return m.onCategories(ctx, s, text)
	case StepAwaitTags:
		return m.onTags(ctx, s, text)
	default:
		return m.reply(s), nil
	}
}

func (m *Manager) onPlatform(ctx context.Context, s *session, text string) (Reply, error) {
	if isAll(text) {
		reply := m.reply(s)
		reply.say(m.allPlatforms())
		return reply, nil
	}
	a, ok := m.platforms.Get(text)
	if !ok {
		reply := m.reply(s)
		reply.say(msgPlatformError)
		return reply, nil
	}
	meta := a.Meta()
	s.adapter = a
	s.draft = domain.Subscription{
		Subscriber: s.subscriber,
		Scope:      s.scope,
		Platform:   meta.ID,
	}

	if meta.HasTarget {
		s.step = StepAwaitTarget
		reply := m.reply(s)
		reply.say(msgTargetPrompt)
		return reply, nil
	}

	name, err := a.ResolveTargetName(ctx, domain.DefaultTarget)
	if err != nil {
		m.log.WarnObj("platform name lookup failed", "dialog_lookup_error", map[string]any{
			"session":  s.id,
			"platform": meta.ID,
			"error":    err.Error(),
		})
		s.adapter = nil
		reply := m.reply(s)
		reply.say(msgNameLookupFailed)
		return reply, nil
	}
	s.draft.Target = domain.DefaultTarget
	s.draft.TargetName = name
	var reply Reply
	return m.afterTarget(ctx, s, &reply)
}

func (m *Manager) onTarget(ctx context.Context, s *session, text string) (Reply, error) {
	meta := s.adapter.Meta()
	if text == wordLookup || strings.EqualFold(text, cmdQueryEN) {
		reply := m.reply(s)
		if meta.SearchHint != "" {
			reply.say(meta.SearchHint)
		} else {
			reply.say(msgNoLookupHint)
		}
		return reply, nil
	}

	target, err := meta.ParseTarget(text)
	if err != nil {
		reply := m.reply(s)
		reply.say(msgTargetError)
		return reply, nil
	}
	name, err := s.adapter.ResolveTargetName(ctx, target)
	if err != nil {
		m.log.WarnObj("target name lookup failed", "dialog_lookup_error", map[string]any{
			"session":  s.id,
			"platform": meta.ID,
			"target":   target,
			"error":    err.Error(),
		})
		reply := m.reply(s)
		reply.say(msgTargetError)
		return reply, nil
	}

	s.draft.Target = target
	s.draft.TargetName = name
	var reply Reply
	reply.say(confirmTarget(meta.ID, name, target))
	return m.afterTarget(ctx, s, &reply)
}

// afterTarget moves to the first filter step the platform supports, or completes.
func (m *Manager) afterTarget(ctx context.Context, s *session, reply *Reply) (Reply, error) {
	meta := s.adapter.Meta()
	switch {
	case meta.Categories.Len() > 0:
		s.step = StepAwaitCategories
		return m.withMessages(s, reply, categoriesPrompt(meta)), nil
	case meta.TagSupport:
		s.step = StepAwaitTags
		return m.withMessages(s, reply, msgTagsPrompt), nil
	default:
		return m.complete(ctx, s, reply)
	}
}

func (m *Manager) onCategories(ctx context.Context, s *session, text string) (Reply, error) {
	meta := s.adapter.Meta()
	var cats []domain.Category
	if !isAll(text) {
		var bad []string
		for _, label := range strings.Fields(text) {
			c, err := meta.Categories.Lookup(label)
			if err != nil {
				bad = append(bad, label)
				continue
			}
			if !slices.Contains(cats, c) {
				cats = append(cats, c)
			}
		}
		if len(bad) > 0 || len(cats) == 0 {
			if len(bad) == 0 {
				bad = []string{text}
			}
			reply := m.reply(s)
			reply.say(categoriesError(bad))
			return reply, nil
		}
	}
	s.draft.Categories = cats

	var reply Reply
	if meta.TagSupport {
		s.step = StepAwaitTags
		return m.withMessages(s, &reply, msgTagsPrompt), nil
	}
	return m.complete(ctx, s, &reply)
}

func (m *Manager) onTags(ctx context.Context, s *session, text string) (Reply, error) {
	var tags []string
	if text != wordAllTags && !isAll(text) {
		for _, tag := range strings.Fields(text) {
			if !slices.Contains(tags, tag) {
				tags = append(tags, tag)
			}
		}
	}
	s.draft.Tags = tags
	var reply Reply
	return m.complete(ctx, s, &reply)
}

// complete persists the draft. A duplicate counts as success; any other store
// failure keeps the session at its step so the user can retry.
func (m *Manager) complete(ctx context.Context, s *session, reply *Reply) (Reply, error) {
	err := m.store.AddSubscription(ctx, s.draft)
	switch {
	case err == nil:
		m.log.InfoObj("subscription added", "subscription_added", map[string]any{
			"subscriber": s.draft.Subscriber,
			"scope":      s.draft.Scope,
			"platform":   s.draft.Platform,
			"target":     s.draft.Target,
		})
	case errors.Is(err, domain.ErrDuplicateSubscription):
		m.log.DebugObj("subscription already present", "subscription_duplicate", map[string]any{
			"subscriber": s.draft.Subscriber,
			"platform":   s.draft.Platform,
			"target":     s.draft.Target,
		})
	default:
		m.log.ErrorObj("subscription persist failed", "dialog_persist_error", map[string]any{
			"session": s.id,
			"error":   err.Error(),
		})
		return m.withMessages(s, reply, msgPersistFailed), nil
	}

	s.step = StepCompleted
	return m.withMessages(s, reply, subscribed(s.draft.TargetName)), nil
}

func (m *Manager) withMessages(s *session, reply *Reply, msgs ...string) Reply {
	out := m.reply(s)
	out.Messages = append(reply.Messages, msgs...)
	return out
}

