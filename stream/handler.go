// Package stream feeds DynamoDB Streams records into an editor so rows
// changed by other writers are detected before they are overwritten.
package stream

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mrtj/dynamodb-connection/item"
)

const seenEvents = 4096

// Sink receives row images observed on the stream. *editor.Editor
// satisfies it.
type Sink interface {
	ObserveRemote(k item.Key, it item.Item, deleted bool)
}

// Handler processes DynamoDB stream events for one table.
type Handler struct {
	sink    Sink
	keyAttr string
	logger  *slog.Logger
	seen    *lru.Cache[string, struct{}]
}

// NewHandler creates a new stream handler.
func NewHandler(sink Sink, keyAttr string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	seen, _ := lru.New[string, struct{}](seenEvents)
	return &Handler{
		sink:    sink,
		keyAttr: keyAttr,
		logger:  logger,
		seen:    seen,
	}
}

// HandleEvent forwards every record of event to the sink. Records are
// delivered at least once; already handled event IDs are skipped.
// It can be used as an AWS Lambda handler.
func (h *Handler) HandleEvent(ctx context.Context, event events.DynamoDBEvent) error {
	for _, record := range event.Records {
		if err := ctx.Err(); err != nil {
			return err
		}
		if record.EventID != "" && h.seen.Contains(record.EventID) {
			continue
		}
		if err := h.processRecord(record); err != nil {
			h.logger.Error("failed to process record",
				"eventID", record.EventID,
				"error", err,
			)
			return err // Will retry, eventually DLQ
		}
		if record.EventID != "" {
			h.seen.Add(record.EventID, struct{}{})
		}
	}
	return nil
}

func (h *Handler) processRecord(record events.DynamoDBEventRecord) error {
	keys := record.Change.Keys
	if keys == nil {
		keys = record.Change.NewImage
	}
	if keys == nil {
		keys = record.Change.OldImage
	}
	k, err := ConvertStreamKey(keys, h.keyAttr)
	if err != nil {
		return err
	}

	switch record.EventName {
	case string(events.DynamoDBOperationTypeRemove):
		h.sink.ObserveRemote(k, nil, true)
		h.logger.Debug("remote delete", "key", k)
		return nil
	case string(events.DynamoDBOperationTypeInsert), string(events.DynamoDBOperationTypeModify):
	default:
		return nil
	}

	if record.Change.NewImage == nil {
		h.logger.Warn("stream record has no new image; enable NEW_IMAGE or NEW_AND_OLD_IMAGES",
			"eventID", record.EventID,
			"key", k,
		)
		return nil
	}
	it, err := ConvertImage(record.Change.NewImage)
	if err != nil {
		return fmt.Errorf("key %s: %w", k, err)
	}
	h.sink.ObserveRemote(k, it, false)
	h.logger.Debug("remote write", "key", k, "event", record.EventName)
	return nil
}
