package listener

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultDeadLetterList is the Redis list dropped notifications are pushed to.
const DefaultDeadLetterList = "stellarpay:dlq"

// DeadLetter is a notification the listener could not deliver.
type DeadLetter struct {
	Address  string          `json:"address"`
	Payload  json.RawMessage `json:"payload"`
	Error    string          `json:"error"`
	FailedAt time.Time       `json:"failed_at"`
}

// DeadLetterQueue keeps dropped notifications in a Redis list for later replay.
type DeadLetterQueue struct {
	client   redis.UniversalClient
	listName string
	logger   *slog.Logger
}

// NewDeadLetterQueue creates a queue backed by listName (DefaultDeadLetterList if empty).
func NewDeadLetterQueue(client redis.UniversalClient, listName string, logger *slog.Logger) *DeadLetterQueue {
	if listName == "" {
		listName = DefaultDeadLetterList
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &DeadLetterQueue{client: client, listName: listName, logger: logger}
}

// DeadLetter pushes one failed notification onto the list.
func (q *DeadLetterQueue) DeadLetter(ctx context.Context, address string, payload []byte, cause error) error {
	letter := DeadLetter{
		Address:  address,
		Payload:  validJSON(payload),
		Error:    cause.Error(),
		FailedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(letter)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter: %w", err)
	}

	if err := q.client.RPush(ctx, q.listName, data).Err(); err != nil {
		q.logger.ErrorContext(ctx, "failed to store dead letter", "list", q.listName, "address", address, "error", err)
		return fmt.Errorf("failed to store dead letter: %w", err)
	}
	return nil
}

// List returns up to limit dead letters, oldest first.
func (q *DeadLetterQueue) List(ctx context.Context, limit int64) ([]DeadLetter, error) {
	if limit <= 0 {
		limit = 100
	}
	raw, err := q.client.LRange(ctx, q.listName, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read dead letters: %w", err)
	}

	letters := make([]DeadLetter, 0, len(raw))
	for _, item := range raw {
		var letter DeadLetter
		if err := json.Unmarshal([]byte(item), &letter); err != nil {
			q.logger.WarnContext(ctx, "skipping unreadable dead letter", "error", err)
			continue
		}
		letters = append(letters, letter)
	}
	return letters, nil
}

// validJSON keeps payload as-is when it is JSON, otherwise stores it as a JSON string.
func validJSON(payload []byte) json.RawMessage {
	if json.Valid(payload) {
		return json.RawMessage(payload)
	}
	quoted, _ := json.Marshal(string(payload))
	return quoted
}
