package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/zlnvch/doodleup/cache"
	"github.com/zlnvch/doodleup/mq"
	"github.com/zlnvch/doodleup/store"
)

// PurgeStrokesMessage asks for every stroke older than Before (unix millis)
// to be deleted, across all boards.
type PurgeStrokesMessage struct {
	Before int64 `json:"before"`
}

// BoardLister reports the codes of the boards currently registered.
type BoardLister interface {
	Codes() []string
}

type MQConsumer struct {
	purgeStrokesQueue mq.MessageQueue
	doodleStore       store.DoodleStore
	doodleCache       cache.DoodleCache
	boards            BoardLister
}

func NewMQConsumer(purgeStrokesQueue mq.MessageQueue, doodleStore store.DoodleStore, doodleCache cache.DoodleCache, boards BoardLister) *MQConsumer {
	return &MQConsumer{
		purgeStrokesQueue: purgeStrokesQueue,
		doodleStore:       doodleStore,
		doodleCache:       doodleCache,
		boards:            boards,
	}
}

// Allow up to 5 minutes for the scan and throttled batch deletion
const visibilityTimeout = 300

func (mqConsumer *MQConsumer) Run(shutdownCtx context.Context) {
	for {
		msg, err := mqConsumer.purgeStrokesQueue.Receive(shutdownCtx, visibilityTimeout)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			slog.Error("purge queue receive", "err", err)
			select {
			case <-shutdownCtx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		if msg == nil {
			continue
		}

		mqConsumer.Handle(msg)
	}
}

// Handle runs one purge job. The message is deleted only when the purge
// succeeded; otherwise it becomes visible again and is retried.
func (mqConsumer *MQConsumer) Handle(msg *mq.Message) {
	var purgeMsg PurgeStrokesMessage
	if err := json.Unmarshal([]byte(msg.Body), &purgeMsg); err != nil {
		slog.Error("discarding malformed purge message", "body", msg.Body, "err", err)
		mqConsumer.deleteMessage(msg)
		return
	}

	// timeout should be a little less than queue visibility timeout
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(visibilityTimeout-1)*time.Second)
	defer cancel()

	cutoff := time.UnixMilli(purgeMsg.Before)
	deleted, err := mqConsumer.doodleStore.DeleteStrokesBefore(ctx, cutoff)
	if err != nil {
		slog.Error("purging old strokes", "cutoff", cutoff, "err", err)
		return
	}

	// Cached replays may still hold purged strokes
	if deleted > 0 {
		if err := mqConsumer.doodleCache.InvalidateBoards(ctx, mqConsumer.boards.Codes()); err != nil {
			slog.Error("invalidating board caches after purge", "err", err)
		}
	}
	slog.Info("purged old strokes", "cutoff", cutoff, "deleted", deleted)

	mqConsumer.deleteMessage(msg)
}

func (mqConsumer *MQConsumer) deleteMessage(msg *mq.Message) {
	if err := mqConsumer.purgeStrokesQueue.Delete(context.Background(), msg); err != nil {
		slog.Error("purge queue delete", "err", err)
	}
}
