package engine

import (
	"context"
	"log"

	"mention-engine/models"
	"mention-engine/services"
)

// FetchAndReconcile calls Social.ListRecentPosts, filters out posts
// already covered by a FETCH_COMMENTS task in the last 10 minutes
// (preventing redundant fetches across concurrent callers and process
// restarts), and — only if anything remains — creates and processes a
// new FETCH_COMMENTS task.
func (e *Engine) FetchAndReconcile(ctx context.Context, actor models.Actor) error {
	posts, err := e.social.ListRecentPosts(ctx, actor)
	if err != nil {
		return err
	}

	fetched, err := e.store.RecentlyFetchedPostIDs(ctx, e.clock.Now().Add(-fetchRecoveryWindow))
	if err != nil {
		return err
	}

	var pending []services.Post
	for _, p := range posts {
		if !fetched[p.ID] {
			pending = append(pending, p)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	postIDs := make([]interface{}, len(pending))
	for i, p := range pending {
		postIDs[i] = p.ID
	}

	postsPayload := make([]interface{}, len(pending))
	for i, p := range pending {
		postsPayload[i] = map[string]interface{}{"id": p.ID, "platform": p.Platform, "postIds": p.PostIDs}
	}

	now := e.clock.Now()
	task := &models.Task{
		Code:      models.TaskCodeFetchComments,
		Data:      models.JSONMap{"posts": postsPayload},
		StartedAt: &now,
		CreatedBy: actor.ID,
	}
	if err := e.store.CreateTask(ctx, task); err != nil {
		return err
	}

	return e.ProcessFetchTask(ctx, task, pending, actor)
}

// ProcessFetchTask reconciles the posts a FETCH_COMMENTS task names:
// per-post comment fetch (fan-out 10), bound-parameter upsert keyed on
// socialMediaPlatformRef, then collapse task.data to post ids plus the
// flat comment list and mark it finished.
func (e *Engine) ProcessFetchTask(ctx context.Context, task *models.Task, posts []services.Post, actor models.Actor) error {
	type outcome struct {
		postID   string
		comments []services.Comment
	}

	results, _ := services.RunBatched(posts, services.BatchOptions{
		Limit:        fanoutLimit,
		BreakOnError: false,
		OnError: func(i int, err error) {
			log.Printf("[engine] fetch comments failed for post index %d: %v", i, err)
		},
	}, func(post services.Post, _ int) (outcome, error) {
		comments, err := e.social.ListComments(ctx, post, actor)
		if err != nil {
			return outcome{postID: post.ID}, err
		}
		return outcome{postID: post.ID, comments: comments}, nil
	})

	var flat []services.Comment
	var postIDs []string
	for i, o := range results {
		postIDs = append(postIDs, posts[i].ID)
		if len(o.comments) == 0 {
			continue
		}
		for _, c := range o.comments {
			if _, err := e.store.UpsertMentionFromComment(ctx, posts[i].Platform, c); err != nil {
				log.Printf("[engine] upsert mention for comment %s failed: %v", c.CommentID, err)
				continue
			}
		}
		flat = append(flat, o.comments...)
	}

	now := e.clock.Now()
	task.FinishedAt = &now
	task.Data["posts"] = postIDs
	commentsPayload := make([]interface{}, len(flat))
	for i, c := range flat {
		commentsPayload[i] = map[string]interface{}{
			"commentId": c.CommentID,
			"comment":   c.Comment,
			"platform":  c.Platform,
		}
	}
	task.Data["comments"] = commentsPayload
	task.UpdatedAt = now

	// Fetch failures inside the loop are logged per post; the task is
	// still marked finished so the recovery loop does not spin on it.
	return e.store.UpdateTask(ctx, task)
}
