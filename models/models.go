package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// MentionType classifies a Mention record.
type MentionType string

const (
	MentionTypeComment MentionType = "COMMENT"
	MentionTypeMessage MentionType = "MESSAGE"
	MentionTypeReply   MentionType = "REPLY"
)

// MentionState tracks the lifecycle of a Mention through the reply pipeline.
type MentionState string

const (
	MentionStateNone           MentionState = ""
	MentionStateAssignment     MentionState = "ASSIGNMENT"
	MentionStateReplyAttempt   MentionState = "REPLY_ATTEMPT"
	MentionStateReplied        MentionState = "REPLIED"
	MentionStateProviderError  MentionState = "PROVIDER_ERROR"
)

// TaskCode identifies the kind of outbox work a Task represents.
type TaskCode string

const (
	TaskCodeFetchComments       TaskCode = "FETCH_COMMENTS"
	TaskCodeFetchMessages       TaskCode = "FETCH_MESSAGES"
	TaskCodeReplyMention        TaskCode = "REPLY_MENTION"
	TaskCodeReplyMentionIgnored TaskCode = "REPLY_MENTION_IGNORED"
)

// JSONMap is a GORM-friendly JSON column backed by map[string]interface{}.
type JSONMap map[string]interface{}

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (m *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*m = JSONMap{}
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		b = nil
	}
	if len(b) == 0 {
		*m = JSONMap{}
		return nil
	}
	out := JSONMap{}
	if err := json.Unmarshal(b, &out); err != nil {
		return err
	}
	*m = out
	return nil
}

// User is the actor on whose behalf core operations run.
type User struct {
	ID    int64  `gorm:"primaryKey" json:"id"`
	Email string `gorm:"uniqueIndex;not null" json:"email"`
}

func (User) TableName() string { return "users" }

// Actor identifies who initiated an operation; carried in bearer tokens,
// task.createdBy, and audit rows.
type Actor struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
}

// Mention is the normalized record for a comment, message, or reply
// captured from the upstream aggregator.
type Mention struct {
	ID                     int64        `gorm:"primaryKey" json:"id"`
	Content                string       `gorm:"type:text;not null" json:"content"`
	SocialMediaPlatformRef string       `gorm:"column:social_media_platform_ref;uniqueIndex;not null" json:"socialMediaPlatformRef"`
	SocialMediaAPIPostRef  string       `gorm:"column:social_media_api_post_ref;index" json:"socialMediaAPIPostRef"`
	Platform               string       `gorm:"index;not null" json:"platform"`
	Type                   MentionType  `gorm:"index;not null" json:"type"`
	State                  MentionState `gorm:"index" json:"state"`
	Disposition            string       `json:"disposition"`
	UserID                 *int64       `gorm:"column:user_id;index" json:"userId"`
	MentionID              *int64       `gorm:"column:mention_id;index" json:"mentionId"`
	Data                   JSONMap      `gorm:"type:jsonb" json:"data"`
	CreatedAt              time.Time    `json:"createdAt"`
	UpdatedAt              time.Time    `json:"updatedAt"`
}

func (Mention) TableName() string { return "mentions" }

// Task is an outbox record driving deferred/retryable background work.
type Task struct {
	ID         int64      `gorm:"primaryKey" json:"id"`
	Code       TaskCode   `gorm:"index;not null" json:"code"`
	Data       JSONMap    `gorm:"type:jsonb" json:"data"`
	StartedAt  *time.Time `gorm:"column:started_at;index" json:"startedAt"`
	FinishedAt *time.Time `gorm:"column:finished_at;index" json:"finishedAt"`
	CreatedBy  int64      `gorm:"column:created_by" json:"createdBy"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

func (Task) TableName() string { return "tasks" }

// Audit is an append-only record of a state transition.
type Audit struct {
	ID        int64     `gorm:"primaryKey" json:"id"`
	Event     string    `gorm:"index;not null" json:"event"`
	Data      JSONMap   `gorm:"type:jsonb" json:"data"`
	CreatedBy int64     `gorm:"column:created_by" json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
}

func (Audit) TableName() string { return "audits" }

// CircuitBreakerStateData is the JSON payload persisted per circuit.
type CircuitBreakerStateData struct {
	State           string     `json:"state"`
	Failures        int        `json:"failures"`
	LastFailureTime *time.Time `json:"lastFailureTime,omitempty"`
	NextAttemptTime *time.Time `json:"nextAttemptTime,omitempty"`
	Timestamp       time.Time  `json:"timestamp"`
}

// CircuitBreakerState is the persisted per-key breaker row.
type CircuitBreakerState struct {
	ID          int64     `gorm:"primaryKey" json:"id"`
	CircuitName string    `gorm:"column:circuit_name;uniqueIndex;not null" json:"circuitName"`
	StateData   JSONMap   `gorm:"column:state_data;type:jsonb" json:"stateData"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func (CircuitBreakerState) TableName() string { return "circuit_breaker_states" }
