package domain

import (
	"context"
)

// NotificationHandler is a callback invoked when a notification is published.
type NotificationHandler func(ctx context.Context, n Notification)

// NotificationBus fans out server notifications to in-process subscribers.
type NotificationBus interface {
	// Publish sends a notification to all matching subscribers.
	Publish(ctx context.Context, n Notification)
	// Subscribe registers a handler for a specific notification method.
	// Returns an unsubscribe function.
	Subscribe(method string, handler NotificationHandler) func()
	// SubscribeLateReplies registers a handler for replies that arrived
	// after their call timed out or was abandoned.
	// Returns an unsubscribe function.
	SubscribeLateReplies(handler NotificationHandler) func()
	// SubscribeAll registers a handler that receives every notification.
	// Returns an unsubscribe function.
	SubscribeAll(handler NotificationHandler) func()
	// Close drains in-flight handlers and prevents new publishes.
	Close()
}
