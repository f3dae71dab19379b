package metrics

import (
	"sync"
	"sync/atomic"
)

// Process-local counters exposed on the metrics endpoint. Kept simple
// and thread-safe for use from middlewares and services.

var (
	ruleExecutions  uint64
	ruleFailures    uint64
	emailsProcessed uint64
	aiFallbacks     uint64
)

type rateLimitStats struct {
	total uint64
	mu    sync.Mutex
	byKey map[string]uint64
}

var rl rateLimitStats

// IncRuleExecution counts one automation rule run; failed marks a
// failed status.
func IncRuleExecution(failed bool) {
	atomic.AddUint64(&ruleExecutions, 1)
	if failed {
		atomic.AddUint64(&ruleFailures, 1)
	}
}

func IncEmailProcessed() {
	atomic.AddUint64(&emailsProcessed, 1)
}

// IncAIFallback counts a plan request that degraded to the local
// fallback plan.
func IncAIFallback() {
	atomic.AddUint64(&aiFallbacks, 1)
}

// IncRateLimitDrop counts an HTTP 429 rejection keyed by client.
func IncRateLimitDrop(key string) {
	if key == "" {
		key = "global"
	}
	atomic.AddUint64(&rl.total, 1)
	rl.mu.Lock()
	if rl.byKey == nil {
		rl.byKey = make(map[string]uint64)
	}
	rl.byKey[key]++
	rl.mu.Unlock()
}

// Snapshot returns a copy of all counters.
func Snapshot() map[string]interface{} {
	rl.mu.Lock()
	byKey := make(map[string]uint64, len(rl.byKey))
	for k, v := range rl.byKey {
		byKey[k] = v
	}
	rl.mu.Unlock()

	return map[string]interface{}{
		"automation_rule_executions": atomic.LoadUint64(&ruleExecutions),
		"automation_rule_failures":   atomic.LoadUint64(&ruleFailures),
		"emails_processed":           atomic.LoadUint64(&emailsProcessed),
		"ai_plan_fallbacks":          atomic.LoadUint64(&aiFallbacks),
		"rate_limit_drops_total":     atomic.LoadUint64(&rl.total),
		"rate_limit_drops_by_key":    byKey,
	}
}
