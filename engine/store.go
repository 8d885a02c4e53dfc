package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"mention-engine/apperr"
	"mention-engine/models"
	"mention-engine/services"

	"gorm.io/gorm"
)

// ErrTaskConflict is returned by CreateTask when a partial unique index
// rejects an insert because an equivalent reply task already exists.
var ErrTaskConflict = errors.New("task conflicts with an existing reply task")

// Store is the persistence boundary the engine depends on. Tests
// instantiate the engine with a fake Store; the composition root wires
// a *PostgresStore.
type Store interface {
	GetMention(ctx context.Context, id int64) (*models.Mention, error)
	CreateMention(ctx context.Context, m *models.Mention) error
	UpdateMention(ctx context.Context, m *models.Mention) error
	ListMentions(ctx context.Context) ([]models.Mention, error)
	UpsertMentionFromComment(ctx context.Context, platform string, c services.Comment) (inserted bool, err error)

	CreateAudit(ctx context.Context, a *models.Audit) error

	CreateTask(ctx context.Context, t *models.Task) error
	GetTask(ctx context.Context, id int64) (*models.Task, error)
	UpdateTask(ctx context.Context, t *models.Task) error
	DeleteStaleReplyTasks(ctx context.Context, mentionID int64, olderThan time.Time) error
	FindUnfinished(ctx context.Context, code models.TaskCode, startedSince time.Time) ([]models.Task, error)
	RecentlyFetchedPostIDs(ctx context.Context, since time.Time) (map[string]bool, error)

	// WithTx runs fn inside a store transaction; fn receives a
	// transaction-scoped Store.
	WithTx(ctx context.Context, fn func(txStore Store) error) error
}

// PostgresStore is the production Store, backed by GORM/Postgres. Raw
// SQL is used only where GORM's struct tags cannot express the needed
// semantics (partial unique index conflicts, NOT EXISTS upserts); every
// value is passed as a bound parameter, never interpolated.
type PostgresStore struct {
	db *gorm.DB
}

func NewPostgresStore(db *gorm.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) GetMention(ctx context.Context, id int64) (*models.Mention, error) {
	var m models.Mention
	err := s.db.WithContext(ctx).First(&m, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.New(apperr.NotFound, "mention not found")
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *PostgresStore) CreateMention(ctx context.Context, m *models.Mention) error {
	return s.db.WithContext(ctx).Create(m).Error
}

func (s *PostgresStore) UpdateMention(ctx context.Context, m *models.Mention) error {
	return s.db.WithContext(ctx).Save(m).Error
}

func (s *PostgresStore) ListMentions(ctx context.Context) ([]models.Mention, error) {
	var out []models.Mention
	err := s.db.WithContext(ctx).Order("created_at DESC").Find(&out).Error
	return out, err
}

// UpsertMentionFromComment ingests a comment idempotently:
// INSERT ... SELECT ... WHERE NOT EXISTS, all values bound, so the same
// comment seen twice only ever produces one mention row.
func (s *PostgresStore) UpsertMentionFromComment(ctx context.Context, platform string, c services.Comment) (bool, error) {
	data := models.JSONMap{
		"socialMediaPayload": map[string]interface{}{
			"commentId": c.CommentID,
			"comment":   c.Comment,
			"platform":  c.Platform,
		},
	}
	dataJSON, err := jsonEncode(data)
	if err != nil {
		return false, err
	}

	result := s.db.WithContext(ctx).Exec(`
		INSERT INTO mentions (content, social_media_platform_ref, social_media_api_post_ref, platform, type, state, data, created_at, updated_at)
		SELECT ?, ?, ?, ?, ?, ?, ?::jsonb, now(), now()
		WHERE NOT EXISTS (SELECT 1 FROM mentions WHERE social_media_platform_ref = ?)
	`, c.Comment, c.CommentID, c.APIPostID, platform, models.MentionTypeComment, models.MentionStateNone, string(dataJSON), c.CommentID)

	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (s *PostgresStore) CreateAudit(ctx context.Context, a *models.Audit) error {
	return s.db.WithContext(ctx).Create(a).Error
}

func (s *PostgresStore) CreateTask(ctx context.Context, t *models.Task) error {
	err := s.db.WithContext(ctx).Create(t).Error
	if err != nil && isUniqueViolation(err) {
		return ErrTaskConflict
	}
	return err
}

func (s *PostgresStore) GetTask(ctx context.Context, id int64) (*models.Task, error) {
	var t models.Task
	err := s.db.WithContext(ctx).First(&t, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.New(apperr.NotFound, "task not found")
	}
	return &t, err
}

func (s *PostgresStore) UpdateTask(ctx context.Context, t *models.Task) error {
	return s.db.WithContext(ctx).Save(t).Error
}

func (s *PostgresStore) DeleteStaleReplyTasks(ctx context.Context, mentionID int64, olderThan time.Time) error {
	return s.db.WithContext(ctx).
		Where("code = ? AND finished_at IS NULL AND started_at < ? AND data->>'mentionId' = ?",
			models.TaskCodeReplyMention, olderThan, strconv.FormatInt(mentionID, 10)).
		Delete(&models.Task{}).Error
}

func (s *PostgresStore) FindUnfinished(ctx context.Context, code models.TaskCode, startedSince time.Time) ([]models.Task, error) {
	var out []models.Task
	err := s.db.WithContext(ctx).
		Where("code = ? AND finished_at IS NULL AND started_at >= ?", code, startedSince).
		Find(&out).Error
	return out, err
}

func (s *PostgresStore) RecentlyFetchedPostIDs(ctx context.Context, since time.Time) (map[string]bool, error) {
	var tasks []models.Task
	err := s.db.WithContext(ctx).
		Where("code = ? AND created_at >= ?", models.TaskCodeFetchComments, since).
		Find(&tasks).Error
	if err != nil {
		return nil, err
	}
	out := map[string]bool{}
	for _, t := range tasks {
		if raw, ok := t.Data["posts"]; ok {
			if list, ok := raw.([]interface{}); ok {
				for _, p := range list {
					switch v := p.(type) {
					case string:
						out[v] = true
					case map[string]interface{}:
						if id, ok := v["id"].(string); ok {
							out[id] = true
						}
					}
				}
			}
		}
	}
	return out, nil
}

func (s *PostgresStore) WithTx(ctx context.Context, fn func(txStore Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&PostgresStore{db: tx})
	})
}

func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "duplicate key value") || // Postgres
		strings.Contains(msg, "SQLSTATE 23505") ||
		strings.Contains(msg, "UNIQUE constraint failed") // sqlite
}

func jsonEncode(m models.JSONMap) ([]byte, error) {
	v, err := m.Value()
	if err != nil {
		return nil, err
	}
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("unexpected JSON value type %T", v)
	}
	return []byte(s), nil
}
