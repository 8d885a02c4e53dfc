package engine

import (
	"time"

	"mention-engine/models"
)

// ListMentionsParams are the inputs to ListMentions.
type ListMentionsParams struct {
	WaitMs int
	Actor  models.Actor
}

// Meta carries best-effort sync status back to the caller.
type Meta struct {
	IsSyncing bool
	Errors    []string
}

// ListMentionsResult is the output of ListMentions.
type ListMentionsResult struct {
	Result []models.Mention
	Meta   Meta
}

// UpdateMentionPatch is the tri-state patch applied by UpdateMention:
// UserID non-nil assigns; ClearUserID true with a nil UserID clears an
// existing assignment; Disposition, when non-nil, is applied as-is.
type UpdateMentionPatch struct {
	UserID      *int64
	ClearUserID bool
	Disposition *string
}

// ReplyToMentionParams are the validated inputs to ReplyToMention.
type ReplyToMentionParams struct {
	MentionID int64
	Content   string
	Actor     models.Actor
}

const (
	// ReplyInterval is the window after which a stale, unfinished
	// REPLY_MENTION task is deleted and replaced rather than left to
	// block a retry.
	ReplyInterval = 5 * time.Minute

	// replyRecoveryWindow bounds the REPLY_MENTION recovery loop.
	replyRecoveryWindow = 5 * time.Minute

	// fetchRecoveryWindow bounds the FETCH_COMMENTS recovery loop and
	// the "already fetched" de-duplication lookback.
	fetchRecoveryWindow = 10 * time.Minute

	// fanoutLimit bounds parallel work across posts/tasks.
	fanoutLimit = 10
)
