package ai

import (
	"context"
	"strconv"
)

// Publisher is the subset of the AMQP publisher the indexer needs.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error
}

// QueueIndexer forwards documents to the embedding workers over AMQP.
type QueueIndexer struct {
	publisher  Publisher
	routingKey string
}

func NewQueueIndexer(publisher Publisher, routingKey string) *QueueIndexer {
	return &QueueIndexer{publisher: publisher, routingKey: routingKey}
}

func (q *QueueIndexer) Index(ctx context.Context, doc IndexDocument) error {
	return q.publisher.Publish(ctx, q.routingKey, doc, map[string]string{
		"message_id": strconv.FormatInt(doc.MessageID, 10),
		"group_id":   strconv.FormatInt(doc.GroupID, 10),
	})
}
