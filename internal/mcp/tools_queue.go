package mcp

import (
	"context"
	"errors"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// ErrNoQueue is returned when the server was built without a queue.
var ErrNoQueue = errors.New("extraction queue is not configured")

// QueueEntry is one addon_queue_status row.
type QueueEntry struct {
	ID      int64     `json:"id"`
	AddonID int64     `json:"addon_id"`
	State   string    `json:"state"`
	Created time.Time `json:"created"`
}

func (s *Server) handleQueueStatus(
	ctx context.Context, _ *mcpsdk.CallToolRequest, input QueueStatusInput,
) (*mcpsdk.CallToolResult, ToolOutput, error) {
	if s.queue == nil {
		return errorResult(ErrNoQueue)
	}

	if input.AddonID < 0 {
		return errorResult(ErrInvalidAddonID)
	}

	entries, err := s.queue.List(ctx, input.AddonID)
	if err != nil {
		return errorResult(err)
	}

	rows := make([]QueueEntry, 0, len(entries))
	for _, entry := range entries {
		rows = append(rows, QueueEntry{
			ID:      entry.ID,
			AddonID: entry.AddonID,
			State:   entry.StateName(),
			Created: entry.Created,
		})
	}

	return jsonResult(rows)
}
