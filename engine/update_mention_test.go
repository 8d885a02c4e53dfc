package engine

import (
	"context"
	"testing"
	"time"

	"mention-engine/models"
	"mention-engine/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestUpdateMention_AssigningUserWritesOneAuditRow is property P5:
// assigning a user always produces exactly one ASSIGNMENT audit row,
// and the mention's state reflects the assignment.
func TestUpdateMention_AssigningUserWritesOneAuditRow(t *testing.T) {
	store := newFakeStore()
	now := time.Now()
	store.mentions[1] = &models.Mention{
		ID:        1,
		Content:   "help please",
		Platform:  "test",
		Type:      models.MentionTypeComment,
		Data:      models.JSONMap{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	store.nextMID = 1

	e := &Engine{store: store, clock: services.NewVirtualClock(now), adapters: NewAdapterRegistry()}
	actor := models.Actor{ID: 42, Email: "agent@example.com"}

	uid := int64(7)
	updated, err := e.UpdateMention(context.Background(), 1, UpdateMentionPatch{UserID: &uid}, actor)
	require.NoError(t, err)
	assert.Equal(t, &uid, updated.UserID)
	assert.Equal(t, models.MentionStateAssignment, updated.State)

	audits := store.allAudits()
	var assignmentAudits int
	for _, a := range audits {
		if a.Event == "ASSIGNMENT" {
			assignmentAudits++
		}
	}
	assert.Equal(t, 1, assignmentAudits, "exactly one ASSIGNMENT audit row")
}

// TestUpdateMention_ClearingUserWritesNoNewAuditRow documents the
// decided behavior for the open question: clearing an assignment does
// not invent a new audit event.
func TestUpdateMention_ClearingUserWritesNoNewAuditRow(t *testing.T) {
	store := newFakeStore()
	now := time.Now()
	uid := int64(7)
	store.mentions[1] = &models.Mention{
		ID:        1,
		Content:   "help please",
		Platform:  "test",
		Type:      models.MentionTypeComment,
		UserID:    &uid,
		State:     models.MentionStateAssignment,
		Data:      models.JSONMap{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	store.nextMID = 1

	e := &Engine{store: store, clock: services.NewVirtualClock(now), adapters: NewAdapterRegistry()}
	actor := models.Actor{ID: 42, Email: "agent@example.com"}

	updated, err := e.UpdateMention(context.Background(), 1, UpdateMentionPatch{ClearUserID: true}, actor)
	require.NoError(t, err)
	assert.Nil(t, updated.UserID)
	assert.Equal(t, models.MentionStateNone, updated.State)
	assert.Empty(t, store.allAudits())
}
