package engine

import (
	"context"
	"log"
	"strconv"
	"sync"
	"time"
	"unicode/utf8"

	"mention-engine/apperr"
	"mention-engine/models"
	"mention-engine/services"
)

// Engine is the outbox & mention engine: the heart of the system. It
// exposes the three operator-facing operations and runs the two
// background recovery loops. Grounded on worker/ai_worker.go's
// AIWorker (ticker + shutdown channel + sync.WaitGroup shape).
type Engine struct {
	store    Store
	social   *services.SocialGateway
	clock    services.Clock
	adapters *AdapterRegistry

	shutdown chan struct{}
	wg       sync.WaitGroup
	started  bool
	mu       sync.Mutex
}

// NewEngine builds an Engine with explicit dependencies: tests pass a
// fake Store and a virtual Clock instead of reaching for package-level
// singletons.
func NewEngine(store Store, social *services.SocialGateway, clock services.Clock) *Engine {
	return &Engine{
		store:    store,
		social:   social,
		clock:    clock,
		adapters: NewAdapterRegistry(),
		shutdown: make(chan struct{}),
	}
}

// Start schedules the two background recovery loops. They run until
// Stop is called.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return
	}
	e.started = true
	e.mu.Unlock()

	e.wg.Add(2)
	go e.runLoop(ctx, "REPLY_MENTION recovery", 30*time.Second, e.recoverReplyMentions)
	go e.runLoop(ctx, "FETCH_COMMENTS recovery", 30*time.Second, e.recoverFetchComments)
}

// Stop signals both background loops to exit and waits for them.
func (e *Engine) Stop() {
	close(e.shutdown)
	e.wg.Wait()
}

func (e *Engine) runLoop(ctx context.Context, name string, interval time.Duration, body func(ctx context.Context, actor models.Actor)) {
	defer e.wg.Done()
	systemActor := models.Actor{ID: 0, Email: "system@mention-engine"}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	body(ctx, systemActor)
	for {
		select {
		case <-e.shutdown:
			log.Printf("[engine] %s stopping", name)
			return
		case <-ticker.C:
			body(ctx, systemActor)
		}
	}
}

// ListMentions starts a fetch-and-reconcile in the background, races
// it against a waitMs timer, then returns all mentions ordered by
// createdAt DESC. Best-effort read-your-writes: if the upstream
// finishes within waitMs fresh data is returned, otherwise the caller
// sees the last known snapshot with isSyncing=true.
func (e *Engine) ListMentions(ctx context.Context, params ListMentionsParams) (ListMentionsResult, error) {
	waitMs := params.WaitMs
	if waitMs <= 0 {
		waitMs = 2000
	}

	done := make(chan error, 1)
	go func() {
		done <- e.FetchAndReconcile(context.Background(), params.Actor)
	}()

	// Recovery is also reachable on demand, not just from the ticker loop.
	go e.recoverReplyMentions(context.Background(), params.Actor)

	timer := time.NewTimer(time.Duration(waitMs) * time.Millisecond)
	defer timer.Stop()

	meta := Meta{}
	select {
	case err := <-done:
		if err != nil {
			meta.Errors = append(meta.Errors, err.Error())
		}
	case <-timer.C:
		meta.IsSyncing = true
	}

	mentions, err := e.store.ListMentions(ctx)
	if err != nil {
		return ListMentionsResult{}, err
	}
	return ListMentionsResult{Result: mentions, Meta: meta}, nil
}

// UpdateMention loads, patches, and atomically saves a mention.
func (e *Engine) UpdateMention(ctx context.Context, id int64, patch UpdateMentionPatch, actor models.Actor) (*models.Mention, error) {
	var updated *models.Mention
	err := e.store.WithTx(ctx, func(tx Store) error {
		mention, err := tx.GetMention(ctx, id)
		if err != nil {
			return err
		}

		if patch.UserID != nil {
			mention.UserID = patch.UserID
			mention.State = models.MentionStateAssignment
			if err := tx.CreateAudit(ctx, &models.Audit{
				Event: "ASSIGNMENT",
				Data: models.JSONMap{
					"mentionId": mention.ID,
					"userId":    *patch.UserID,
				},
				CreatedBy: actor.ID,
				CreatedAt: e.clock.Now(),
			}); err != nil {
				return err
			}
		} else if patch.ClearUserID {
			wasAssigned := mention.UserID != nil
			mention.UserID = nil
			if wasAssigned {
				// No ASSIGNMENT audit row is written for a clear; only
				// assigning a user produces one.
				mention.State = models.MentionStateNone
			}
		}

		if patch.Disposition != nil {
			mention.Disposition = *patch.Disposition
		}

		mention.UpdatedAt = e.clock.Now()
		if err := tx.UpdateMention(ctx, mention); err != nil {
			return err
		}
		updated = mention
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ReplyToMention validates input, loads the mention, and dispatches to
// the adapter registered for its type.
func (e *Engine) ReplyToMention(ctx context.Context, params ReplyToMentionParams) (*models.Task, error) {
	if params.MentionID <= 0 {
		return nil, apperr.New(apperr.Validation, "mentionId must be a positive integer")
	}
	if params.Content == "" || utf8.RuneCountInString(params.Content) > 10000 {
		return nil, apperr.New(apperr.Validation, "content must be a non-empty string of at most 10000 characters")
	}
	if params.Actor.ID <= 0 || params.Actor.Email == "" {
		return nil, apperr.New(apperr.Validation, "actor id and email are required")
	}

	mention, err := e.store.GetMention(ctx, params.MentionID)
	if err != nil {
		return nil, err
	}

	adapter, ok := e.adapters.For(mention.Type)
	if !ok {
		return nil, apperr.New(apperr.Validation, "no adapter registered for mention type "+string(mention.Type))
	}

	return e.reply(ctx, adapter, mention, params.Content, params.Actor)
}

// reply deletes any stale reply task for this mention, inserts the new
// one transactionally (relying on the partial unique index to collapse
// concurrent duplicates into ErrTaskConflict), and records the audit
// trail before handing off to the adapter.
func (e *Engine) reply(ctx context.Context, adapter Adapter, mention *models.Mention, content string, actor models.Actor) (*models.Task, error) {
	var task *models.Task
	now := e.clock.Now()

	err := e.store.WithTx(ctx, func(tx Store) error {
		if err := tx.DeleteStaleReplyTasks(ctx, mention.ID, now.Add(-ReplyInterval)); err != nil {
			return err
		}

		t := &models.Task{
			Code: models.TaskCodeReplyMention,
			Data: models.JSONMap{
				"mentionId": strconv.FormatInt(mention.ID, 10),
				"content":   content,
			},
			StartedAt: &now,
			CreatedBy: actor.ID,
		}

		if err := tx.CreateTask(ctx, t); err != nil {
			if err == ErrTaskConflict {
				ignored := &models.Task{
					Code:       models.TaskCodeReplyMentionIgnored,
					Data:       t.Data,
					StartedAt:  &now,
					FinishedAt: &now,
					CreatedBy:  actor.ID,
				}
				if cerr := tx.CreateTask(ctx, ignored); cerr != nil {
					return cerr
				}
				task = ignored
				return nil
			}
			return err
		}

		if err := tx.CreateAudit(ctx, &models.Audit{
			Event:     "REPLY_ATTEMPT",
			Data:      models.JSONMap{"mentionId": mention.ID, "taskId": t.ID},
			CreatedBy: actor.ID,
			CreatedAt: now,
		}); err != nil {
			return err
		}

		mention.State = models.MentionStateReplyAttempt
		mention.UpdatedAt = now
		if err := tx.UpdateMention(ctx, mention); err != nil {
			return err
		}

		task = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	if task.Code == models.TaskCodeReplyMentionIgnored {
		return task, nil
	}

	// Best-effort immediate result: the operator sees the outcome of
	// processing synchronously, but a failure here does not roll back
	// the already-committed task/audit/state transition above — the
	// recovery loop will retry.
	if procErr := adapter.ProcessReplyTask(ctx, e, task); procErr != nil {
		log.Printf("[engine] synchronous processReplyTask failed for task %d: %v", task.ID, procErr)
	}
	return task, nil
}

// ProcessReplyTask is the recovery-loop entry point: it runs the shared
// reply processing directly, without going through the adapter
// registry (both registered adapters delegate to the same routine).
func (e *Engine) ProcessReplyTask(ctx context.Context, task *models.Task) error {
	return e.processReplyTaskCommon(ctx, task)
}

// processReplyTaskCommon sends the reply upstream and advances the
// mention/task state according to the outcome; shared by the
// synchronous path and the REPLY_MENTION recovery loop.
func (e *Engine) processReplyTaskCommon(ctx context.Context, task *models.Task) error {
	mentionIDStr, _ := task.Data["mentionId"].(string)
	mentionID, err := strconv.ParseInt(mentionIDStr, 10, 64)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "task missing mentionId", err)
	}

	mention, err := e.store.GetMention(ctx, mentionID)
	if err != nil {
		if e, ok := apperr.As(err); ok && e.Kind == apperr.NotFound {
			log.Printf("[engine] processReplyTask: mention %d vanished", mentionID)
			return nil
		}
		return err
	}

	content, _ := task.Data["content"].(string)
	now := e.clock.Now()

	return e.store.WithTx(ctx, func(tx Store) error {
		result, replyErr := e.social.ReplyToComment(ctx, *mention, content, models.Actor{ID: task.CreatedBy})

		if replyErr == nil && result.Success {
			child := &models.Mention{
				Content:                result.Comment,
				SocialMediaPlatformRef: result.CommentID,
				SocialMediaAPIPostRef:  mention.SocialMediaAPIPostRef,
				Platform:               mention.Platform,
				Type:                   models.MentionTypeReply,
				MentionID:              &mention.ID,
				Data:                   models.JSONMap{"taskId": task.ID},
				CreatedAt:              now,
				UpdatedAt:              now,
			}
			if err := tx.CreateMention(ctx, child); err != nil {
				return err
			}

			mention.State = models.MentionStateReplied
			mention.UpdatedAt = now
			if err := tx.UpdateMention(ctx, mention); err != nil {
				return err
			}

			task.FinishedAt = &now
			task.Data["result"] = rawResult(result)
			task.UpdatedAt = now
			return tx.UpdateTask(ctx, task)
		}

		mention.State = models.MentionStateProviderError
		mention.UpdatedAt = now
		if err := tx.UpdateMention(ctx, mention); err != nil {
			return err
		}

		task.Data["result"] = rawResult(result)
		task.UpdatedAt = now
		// FinishedAt deliberately left nil: the recovery loop retries
		// within the 5-minute window.
		return tx.UpdateTask(ctx, task)
	})
}

func rawResult(r services.ReplyResult) map[string]interface{} {
	return map[string]interface{}{
		"success":   r.Success,
		"platform":  r.Platform,
		"comment":   r.Comment,
		"commentId": r.CommentID,
	}
}
