package services

import (
	"context"
	"encoding/json"
	"fmt"

	"challenge-tasks/events"
	"challenge-tasks/metrics"
	"challenge-tasks/models"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Notifier delivers in-app notifications to a user's feed.
type Notifier interface {
	AddNotification(ctx context.Context, userID string, payload models.NotificationPayload) (*models.Notification, error)
}

func notificationKey(userID string) string {
	return fmt.Sprintf("notifications:user:%s", userID)
}

// RedisNotifier keeps each user's feed as a capped Redis list, newest first.
type RedisNotifier struct {
	rdb       *redis.Client
	limit     int64
	clock     clockwork.Clock
	publisher events.Publisher
	logger    zerolog.Logger
}

func NewRedisNotifier(rdb *redis.Client, limit int, clock clockwork.Clock, publisher events.Publisher, logger zerolog.Logger) *RedisNotifier {
	if limit <= 0 {
		limit = 100
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &RedisNotifier{
		rdb:       rdb,
		limit:     int64(limit),
		clock:     clock,
		publisher: publisher,
		logger:    logger.With().Str("component", "notifier").Logger(),
	}
}

func (n *RedisNotifier) AddNotification(ctx context.Context, userID string, payload models.NotificationPayload) (*models.Notification, error) {
	if userID == "" {
		return nil, fmt.Errorf("notification without user id")
	}
	notif := &models.Notification{
		ID:                  uuid.NewString(),
		UserID:              userID,
		NotificationPayload: payload,
		CreatedAt:           n.clock.Now().UTC(),
	}
	data, err := json.Marshal(notif)
	if err != nil {
		return nil, fmt.Errorf("encode notification: %w", err)
	}

	key := notificationKey(userID)
	_, err = n.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, data)
		pipe.LTrim(ctx, key, 0, n.limit-1)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("push notification for %s: %w", userID, err)
	}

	evt := events.New(events.TypeNotificationCreated, userID, events.NotificationCreatedEvent{
		NotificationID: notif.ID,
		UserID:         userID,
		Type:           string(payload.Type),
		Title:          payload.Title,
		Link:           payload.Link,
	}, notif.CreatedAt)
	if err := n.publisher.Publish(ctx, evt); err != nil {
		n.logger.Warn().Err(err).Str("user_id", userID).Msg("notification event not published")
	}
	return notif, nil
}

// List returns up to limit notifications for a user, newest first.
func (n *RedisNotifier) List(ctx context.Context, userID string, limit int) ([]models.Notification, error) {
	if limit <= 0 || int64(limit) > n.limit {
		limit = int(n.limit)
	}
	raw, err := n.rdb.LRange(ctx, notificationKey(userID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read notifications for %s: %w", userID, err)
	}
	out := make([]models.Notification, 0, len(raw))
	for _, item := range raw {
		var notif models.Notification
		if err := json.Unmarshal([]byte(item), &notif); err != nil {
			n.logger.Warn().Err(err).Str("user_id", userID).Msg("skipping malformed notification")
			continue
		}
		out = append(out, notif)
	}
	return out, nil
}

// courier wraps a Notifier for the batch jobs: a failed delivery is logged
// and counted, never returned.
type courier struct {
	notifier Notifier
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

func (c courier) send(ctx context.Context, userID string, payload models.NotificationPayload) bool {
	if _, err := c.notifier.AddNotification(ctx, userID, payload); err != nil {
		c.metrics.IncNotification(string(payload.Type), "failed")
		c.logger.Error().Err(err).Str("user_id", userID).Str("title", payload.Title).Msg("notification not delivered")
		return false
	}
	c.metrics.IncNotification(string(payload.Type), "sent")
	return true
}
