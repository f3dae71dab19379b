package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// RuleAction is one ordered step in a rule's action list. Critical
// defaults to true when absent: only an explicit false lets the rule
// continue past a failure of this action.
type RuleAction struct {
	Type     string  `json:"type"`
	Params   JSONMap `json:"params,omitempty"`
	Critical *bool   `json:"critical,omitempty"`
}

// IsCritical reports whether a failure of this action aborts the rule.
func (a RuleAction) IsCritical() bool {
	return a.Critical == nil || *a.Critical
}

// ActionList stores the ordered action sequence as a JSON array.
type ActionList []RuleAction

func (l ActionList) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *ActionList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	b, err := rawBytes(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, l)
}

// RuleTrigger pairs an event type with its condition set. Condition
// keys may carry _contains/_gt/_lt suffixes; see the engine.
type RuleTrigger struct {
	Type       string  `json:"type"`
	Conditions JSONMap `json:"conditions,omitempty"`
}

func (t RuleTrigger) Value() (driver.Value, error) {
	b, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (t *RuleTrigger) Scan(value interface{}) error {
	if value == nil {
		*t = RuleTrigger{}
		return nil
	}
	b, err := rawBytes(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, t)
}

// AutomationRule is owned by the store; the engine only reads a
// snapshot per evaluation pass and writes back execution counters.
type AutomationRule struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	Enabled bool `gorm:"index" json:"enabled"`

	Trigger RuleTrigger `gorm:"type:text" json:"trigger"`
	Actions ActionList  `gorm:"type:text" json:"actions"`

	LastExecutedAt *time.Time `json:"lastExecutedAt,omitempty"`
	ExecutionCount int        `json:"executionCount"`
	ErrorCount     int        `json:"errorCount"`
	LastError      string     `json:"lastError,omitempty"`
}

// ActionLogEntry records one action's outcome inside an AutomationLog.
type ActionLogEntry struct {
	Type   string      `json:"type"`
	Status string      `json:"status"` // success, failed
	Result interface{} `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// ActionLogList stores the ordered per-action trace as a JSON array.
type ActionLogList []ActionLogEntry

func (l ActionLogList) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *ActionLogList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	b, err := rawBytes(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, l)
}

// AutomationLog is append-only: created once per rule execution and
// never mutated afterwards.
type AutomationLog struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"createdAt"`

	RuleID   string `gorm:"index" json:"ruleId"`
	RuleName string `json:"ruleName"`

	TriggeredBy JSONMap `gorm:"type:text" json:"triggeredBy,omitempty"`

	// success, partial, failed
	Status   string `gorm:"index" json:"status"`
	Duration int64  `json:"duration"` // milliseconds

	Actions ActionLogList `gorm:"type:text" json:"actions,omitempty"`
	Errors  StringList    `gorm:"type:text" json:"errors,omitempty"`
	Results JSONMap       `gorm:"type:text" json:"results,omitempty"`
}
