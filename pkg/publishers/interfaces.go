package publishers

import "context"

// Publisher sends notifications to a downstream sink (SQS, SNS, Pub/Sub, HTTP).
type Publisher interface {
	ID() string
	Type() string
	Publish(ctx context.Context, n Notification) error
}
