package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	"fitcrm/internal/models"
)

// RateLimitError is returned when a request is refused locally because
// the provider cooldown window is still open. No outbound call was
// made.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("ai provider cooling down, retry in %ds", e.RetryAfterSeconds())
}

func (e *RateLimitError) RetryAfterSeconds() int {
	return int(math.Ceil(e.RetryAfter.Seconds()))
}

var quotaSignals = []string{"resource_exhausted", "quota", "exceeded", "429"}

func isQuotaSignal(message string) bool {
	lower := strings.ToLower(message)
	for _, signal := range quotaSignals {
		if strings.Contains(lower, signal) {
			return true
		}
	}
	return false
}

// ProviderCall issues one outbound request to the AI provider and
// returns its decoded response document.
type ProviderCall func(ctx context.Context) (models.JSONMap, error)

type cacheEntry struct {
	at       time.Time
	response models.JSONMap
}

// AICoordinator owns every shared concern around outbound AI calls:
// the response cache (memory plus durable), the single global request
// queue with its minimum inter-request gap, per-key deduplication of
// concurrent identical requests, and the process-wide cooldown set
// when the provider signals quota exhaustion. One instance is built at
// startup and injected wherever provider calls are issued.
type AICoordinator struct {
	db     *gorm.DB
	logger *logrus.Logger

	ttl             time.Duration
	minGap          time.Duration
	defaultCooldown time.Duration

	group singleflight.Group

	mu            sync.Mutex
	memory        map[string]cacheEntry
	cooldownUntil time.Time

	queueMu       sync.Mutex
	lastRequestAt time.Time

	now func() time.Time
}

func NewAICoordinator(db *gorm.DB, logger *logrus.Logger, ttl, minGap, defaultCooldown time.Duration) *AICoordinator {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if minGap <= 0 {
		minGap = 3 * time.Second
	}
	if defaultCooldown <= 0 {
		defaultCooldown = 10 * time.Minute
	}
	return &AICoordinator{
		db:              db,
		logger:          logger,
		ttl:             ttl,
		minGap:          minGap,
		defaultCooldown: defaultCooldown,
		memory:          make(map[string]cacheEntry),
		now:             time.Now,
	}
}

// Do runs a provider call under the coordinator's controls. Identical
// concurrent keys share one outbound call; all calls are serialized
// through the global queue. Returns *RateLimitError without touching
// the network while a cooldown is active.
func (c *AICoordinator) Do(ctx context.Context, endpoint, key string, call ProviderCall) (models.JSONMap, error) {
	if remaining := c.cooldownRemaining(); remaining > 0 {
		return nil, &RateLimitError{RetryAfter: remaining}
	}

	if response, ok := c.memoryHit(key); ok {
		return response, nil
	}
	if response, ok := c.durableHit(ctx, key); ok {
		return response, nil
	}

	result, err, _ := c.group.Do(key, func() (interface{}, error) {
		// Another waiter may have populated the cache while this
		// request queued behind the flight leader.
		if response, ok := c.memoryHit(key); ok {
			return response, nil
		}

		c.queueMu.Lock()
		defer c.queueMu.Unlock()

		if wait := c.minGap - c.now().Sub(c.lastRequestAt); wait > 0 {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		response, err := call(ctx)
		c.lastRequestAt = c.now()
		return response, err
	})
	if err != nil {
		return nil, err
	}

	response := result.(models.JSONMap)
	c.afterCall(ctx, endpoint, key, response)
	return response, nil
}

func (c *AICoordinator) cooldownRemaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if remaining := c.cooldownUntil.Sub(c.now()); remaining > 0 {
		return remaining
	}
	return 0
}

// memoryHit honors an entry strictly younger than the TTL; an entry
// aged exactly TTL is expired.
func (c *AICoordinator) memoryHit(key string) (models.JSONMap, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.memory[key]
	if !ok || c.now().Sub(entry.at) >= c.ttl {
		return nil, false
	}
	return entry.response, true
}

func (c *AICoordinator) durableHit(ctx context.Context, key string) (models.JSONMap, bool) {
	var record models.AIPlanCache
	err := c.db.WithContext(ctx).First(&record, "key = ?", key).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			c.logger.WithError(err).Warn("Durable AI cache lookup failed")
		}
		return nil, false
	}
	if c.now().Sub(record.CreatedAt) >= c.ttl {
		return nil, false
	}

	var response models.JSONMap
	if err := json.Unmarshal([]byte(record.Response), &response); err != nil {
		return nil, false
	}

	c.mu.Lock()
	c.memory[key] = cacheEntry{at: record.CreatedAt, response: response}
	c.mu.Unlock()
	return response, true
}

// afterCall applies steps that follow a completed outbound call:
// quota-signaling responses open the cooldown window, everything else
// is written through to both caches.
func (c *AICoordinator) afterCall(ctx context.Context, endpoint, key string, response models.JSONMap) {
	if fallback, _ := response["fallback"].(bool); fallback {
		retryAfter := c.defaultCooldown
		explicit := false
		if secs, ok := toFloat(response["retryAfterSeconds"]); ok && secs > 0 {
			retryAfter = time.Duration(secs) * time.Second
			explicit = true
		}
		warning, _ := response["warning"].(string)
		if explicit || isQuotaSignal(warning) {
			c.setCooldown(retryAfter)
		}
		return
	}

	now := c.now()
	c.mu.Lock()
	c.memory[key] = cacheEntry{at: now, response: response}
	c.mu.Unlock()

	raw, err := json.Marshal(response)
	if err != nil {
		return
	}
	record := models.AIPlanCache{
		Key:       key,
		Endpoint:  endpoint,
		Response:  string(raw),
		CreatedAt: now,
	}
	if err := c.db.WithContext(ctx).Save(&record).Error; err != nil {
		c.logger.WithError(err).Warn("Durable AI cache write failed")
	}
}

func (c *AICoordinator) setCooldown(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	until := c.now().Add(d)
	if until.After(c.cooldownUntil) {
		c.cooldownUntil = until
		c.logger.WithField("until", until.Format(time.RFC3339)).Warn("AI provider cooldown set")
	}
}

// Reset clears all caches and timers. Test hook.
func (c *AICoordinator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.memory = make(map[string]cacheEntry)
	c.cooldownUntil = time.Time{}
	c.queueMu.Lock()
	c.lastRequestAt = time.Time{}
	c.queueMu.Unlock()
}
