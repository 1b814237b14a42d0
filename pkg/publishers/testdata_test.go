package publishers

import "github.com/samvad-hq/samvad-notifier/internal/domain"

func sampleNotification() Notification {
	sub := domain.Subscription{
		Subscriber: "group-1",
		Scope:      domain.ScopeGroup,
		Platform:   "weibo",
		Target:     "6279793937",
		TargetName: "明日方舟Arknights",
	}
	post := domain.Post{
		Platform:    "weibo",
		Target:      "6279793937",
		DisplayName: "明日方舟Arknights",
		Text:        "闪断更新公告",
		Category:    3,
	}
	return NewNotification(sub, post)
}
