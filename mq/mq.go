package mq

import "context"

// MessageQueue is an at-least-once job queue. A received message stays
// invisible for the visibility timeout and is redelivered unless deleted.
type MessageQueue interface {
	Send(ctx context.Context, body string) error
	Receive(ctx context.Context, visibilityTimeout int32) (*Message, error)
	Delete(ctx context.Context, msg *Message) error
}

type Message struct {
	Id   string
	Body string
}
