// Package events publishes thread and comment lifecycle notifications.
package events

import "context"

const (
	TypeThreadCreated  = "thread.created"
	TypeThreadResolved = "thread.resolved"
	TypeThreadReopened = "thread.reopened"
	TypeThreadDeleted  = "thread.deleted"
	TypeCommentCreated = "comment.created"
	TypeCommentUpdated = "comment.updated"
	TypeCommentDeleted = "comment.deleted"
	TypeAnchorsSynced  = "anchors.synced"
)

// Event is the JSON body of every message. The routing key is Type.
type Event struct {
	Type       string `json:"type"`
	DocumentID string `json:"documentId"`
	ThreadID   string `json:"threadId,omitempty"`
	CommentID  string `json:"commentId,omitempty"`
	ActorID    string `json:"actorId"`
	Count      int    `json:"count,omitempty"`
}

type Publisher interface {
	Publish(ctx context.Context, event Event, requestID string) error
	Close() error
}

type NoopPub struct{}

func NewNoop() Publisher { return NoopPub{} }

func (NoopPub) Publish(context.Context, Event, string) error { return nil }
func (NoopPub) Close() error                                 { return nil }
