package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/poolbet/internal/domain"
)

// DefaultReportTTL applies when NewReportCache gets a zero ttl.
const DefaultReportTTL = 24 * time.Hour

// ReportCache implements domain.ReportCache. Reports are immutable once
// written, so the TTL only bounds memory.
//
// Key schema:
//
//	settlement:{eventID} - JSON-encoded domain.SettlementReport
type ReportCache struct {
	rdb *redis.Client
	ttl time.Duration
}

var _ domain.ReportCache = (*ReportCache)(nil)

// NewReportCache creates a ReportCache backed by the given Client.
func NewReportCache(c *Client, ttl time.Duration) *ReportCache {
	if ttl <= 0 {
		ttl = DefaultReportTTL
	}
	return &ReportCache{rdb: c.Underlying(), ttl: ttl}
}

func reportKey(eventID string) string { return "settlement:" + eventID }

// Set stores the report.
func (rc *ReportCache) Set(ctx context.Context, report domain.SettlementReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("redis: marshal report %s: %w", report.EventID, err)
	}
	if err := rc.rdb.Set(ctx, reportKey(report.EventID), data, rc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set report %s: %w", report.EventID, err)
	}
	return nil
}

// Get returns the cached report or domain.ErrNotFound.
func (rc *ReportCache) Get(ctx context.Context, eventID string) (domain.SettlementReport, error) {
	data, err := rc.rdb.Get(ctx, reportKey(eventID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.SettlementReport{}, domain.ErrNotFound
		}
		return domain.SettlementReport{}, fmt.Errorf("redis: get report %s: %w", eventID, err)
	}
	var report domain.SettlementReport
	if err := json.Unmarshal(data, &report); err != nil {
		return domain.SettlementReport{}, fmt.Errorf("redis: unmarshal report %s: %w", eventID, err)
	}
	return report, nil
}
