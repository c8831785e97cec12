package cache

import (
	"context"
	"fmt"
	"time"

	"ledger-auditor/internal/models"

	"github.com/redis/go-redis/v9"
)

const suppressPrefix = "ledger-audit:suppress:"

// AlertSuppressor lets one alert per user and severity through per window.
// The first caller inside a window claims the key with SET NX.
type AlertSuppressor struct {
	rdb    redis.UniversalClient
	window time.Duration
}

func NewAlertSuppressor(rdb redis.UniversalClient, window time.Duration) *AlertSuppressor {
	return &AlertSuppressor{rdb: rdb, window: window}
}

func SuppressionKey(userID int64, severity models.Severity) string {
	return fmt.Sprintf("%s%d:%s", suppressPrefix, userID, severity)
}

func (s *AlertSuppressor) Allow(ctx context.Context, userID int64, severity models.Severity) (bool, error) {
	if s.window <= 0 {
		return true, nil
	}
	ok, err := s.rdb.SetNX(ctx, SuppressionKey(userID, severity), time.Now().UTC().Unix(), s.window).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check alert suppression: %w", err)
	}
	return ok, nil
}
