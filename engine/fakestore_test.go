package engine

import (
	"context"
	"strconv"
	"sync"
	"time"

	"mention-engine/apperr"
	"mention-engine/models"
	"mention-engine/services"
)

// fakeStore is an in-memory Store for engine-level tests, standing in
// for a real database so breaker/retry/outbox semantics can be
// exercised deterministically without a live Postgres connection. A
// single mutex serializes every method, which is what gives CreateTask
// the same effective atomicity a database unique-index check gets from
// row locking.
type fakeStore struct {
	mu sync.Mutex

	mentions  map[int64]*models.Mention
	tasks     map[int64]*models.Task
	audits    []models.Audit
	nextMID   int64
	nextTID   int64
	nextAID   int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		mentions: map[int64]*models.Mention{},
		tasks:    map[int64]*models.Task{},
	}
}

func (s *fakeStore) GetMention(ctx context.Context, id int64) (*models.Mention, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mentions[id]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "mention not found")
	}
	cp := *m
	return &cp, nil
}

func (s *fakeStore) CreateMention(ctx context.Context, m *models.Mention) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextMID++
	m.ID = s.nextMID
	cp := *m
	s.mentions[m.ID] = &cp
	return nil
}

func (s *fakeStore) UpdateMention(ctx context.Context, m *models.Mention) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.mentions[m.ID]; !ok {
		return apperr.New(apperr.NotFound, "mention not found")
	}
	cp := *m
	s.mentions[m.ID] = &cp
	return nil
}

func (s *fakeStore) ListMentions(ctx context.Context) ([]models.Mention, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Mention, 0, len(s.mentions))
	for _, m := range s.mentions {
		out = append(out, *m)
	}
	return out, nil
}

func (s *fakeStore) UpsertMentionFromComment(ctx context.Context, platform string, c services.Comment) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.mentions {
		if m.SocialMediaPlatformRef == c.CommentID {
			return false, nil
		}
	}
	s.nextMID++
	now := time.Now()
	m := &models.Mention{
		ID:                     s.nextMID,
		Content:                c.Comment,
		SocialMediaPlatformRef: c.CommentID,
		SocialMediaAPIPostRef:  c.APIPostID,
		Platform:               platform,
		Type:                   models.MentionTypeComment,
		Data:                   models.JSONMap{},
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	s.mentions[m.ID] = m
	return true, nil
}

func (s *fakeStore) CreateAudit(ctx context.Context, a *models.Audit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextAID++
	a.ID = s.nextAID
	s.audits = append(s.audits, *a)
	return nil
}

func (s *fakeStore) CreateTask(ctx context.Context, t *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.Code == models.TaskCodeReplyMention {
		mentionID, _ := t.Data["mentionId"]
		for _, existing := range s.tasks {
			if existing.Code != models.TaskCodeReplyMention {
				continue
			}
			if existing.Data["mentionId"] == mentionID {
				return ErrTaskConflict
			}
		}
	}

	s.nextTID++
	t.ID = s.nextTID
	cp := *t
	cp.Data = cloneJSONMap(t.Data)
	s.tasks[t.ID] = &cp
	return nil
}

func (s *fakeStore) GetTask(ctx context.Context, id int64) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "task not found")
	}
	cp := *t
	return &cp, nil
}

func (s *fakeStore) UpdateTask(ctx context.Context, t *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[t.ID]; !ok {
		return apperr.New(apperr.NotFound, "task not found")
	}
	cp := *t
	cp.Data = cloneJSONMap(t.Data)
	s.tasks[t.ID] = &cp
	return nil
}

func (s *fakeStore) DeleteStaleReplyTasks(ctx context.Context, mentionID int64, olderThan time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := mentionIDKey(mentionID)
	for id, t := range s.tasks {
		if t.Code != models.TaskCodeReplyMention || t.FinishedAt != nil {
			continue
		}
		if t.Data["mentionId"] != key {
			continue
		}
		if t.StartedAt != nil && t.StartedAt.Before(olderThan) {
			delete(s.tasks, id)
		}
	}
	return nil
}

func (s *fakeStore) FindUnfinished(ctx context.Context, code models.TaskCode, startedSince time.Time) ([]models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Task
	for _, t := range s.tasks {
		if t.Code != code || t.FinishedAt != nil {
			continue
		}
		if t.StartedAt == nil || t.StartedAt.Before(startedSince) {
			continue
		}
		out = append(out, *t)
	}
	return out, nil
}

func (s *fakeStore) RecentlyFetchedPostIDs(ctx context.Context, since time.Time) (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]bool{}
	for _, t := range s.tasks {
		if t.Code != models.TaskCodeFetchComments || t.CreatedAt.Before(since) {
			continue
		}
		raw, ok := t.Data["posts"]
		if !ok {
			continue
		}
		if list, ok := raw.([]string); ok {
			for _, id := range list {
				out[id] = true
			}
			continue
		}
		if list, ok := raw.([]interface{}); ok {
			for _, id := range list {
				if str, ok := id.(string); ok {
					out[str] = true
				}
			}
		}
	}
	return out, nil
}

func (s *fakeStore) WithTx(ctx context.Context, fn func(txStore Store) error) error {
	return fn(s)
}

// allTasks is a test-only accessor for assertions.
func (s *fakeStore) allTasks() []models.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, *t)
	}
	return out
}

// allAudits is a test-only accessor for assertions.
func (s *fakeStore) allAudits() []models.Audit {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Audit, len(s.audits))
	copy(out, s.audits)
	return out
}

func cloneJSONMap(m models.JSONMap) models.JSONMap {
	out := make(models.JSONMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func mentionIDKey(id int64) string {
	return strconv.FormatInt(id, 10)
}
