package engine

import (
	"context"
	"log"

	"mention-engine/models"
	"mention-engine/services"
)

// recoverReplyMentions finds REPLY_MENTION tasks where finishedAt IS
// NULL AND startedAt >= now-5m and processes them with ProcessReplyTask,
// fan-out limit 10. Run at engine startup and on demand via ListMentions.
func (e *Engine) recoverReplyMentions(ctx context.Context, actor models.Actor) {
	tasks, err := e.store.FindUnfinished(ctx, models.TaskCodeReplyMention, e.clock.Now().Add(-replyRecoveryWindow))
	if err != nil {
		log.Printf("[engine] recoverReplyMentions: list unfinished failed: %v", err)
		return
	}
	if len(tasks) == 0 {
		return
	}

	_, _ = services.RunBatched(tasks, services.BatchOptions{
		Limit: fanoutLimit,
		OnError: func(i int, err error) {
			log.Printf("[engine] recoverReplyMentions: task %d failed: %v", tasks[i].ID, err)
		},
	}, func(task models.Task, _ int) (struct{}, error) {
		t := task
		return struct{}{}, e.ProcessReplyTask(ctx, &t)
	})
}

// recoverFetchComments finds FETCH_COMMENTS tasks where finishedAt IS
// NULL AND startedAt >= now-10m and processes them with
// ProcessFetchTask, fan-out limit 10.
func (e *Engine) recoverFetchComments(ctx context.Context, actor models.Actor) {
	tasks, err := e.store.FindUnfinished(ctx, models.TaskCodeFetchComments, e.clock.Now().Add(-fetchRecoveryWindow))
	if err != nil {
		log.Printf("[engine] recoverFetchComments: list unfinished failed: %v", err)
		return
	}
	if len(tasks) == 0 {
		return
	}

	_, _ = services.RunBatched(tasks, services.BatchOptions{
		Limit: fanoutLimit,
		OnError: func(i int, err error) {
			log.Printf("[engine] recoverFetchComments: task %d failed: %v", tasks[i].ID, err)
		},
	}, func(task models.Task, _ int) (struct{}, error) {
		t := task
		posts := postsFromTaskData(t)
		return struct{}{}, e.ProcessFetchTask(ctx, &t, posts, actor)
	})
}

func postsFromTaskData(t models.Task) []services.Post {
	raw, ok := t.Data["posts"]
	if !ok {
		return nil
	}
	list, ok := raw.([]interface{})
	if !ok {
		return nil
	}
	var out []services.Post
	for _, item := range list {
		switch v := item.(type) {
		case string:
			out = append(out, services.Post{ID: v})
		case map[string]interface{}:
			p := services.Post{}
			if id, ok := v["id"].(string); ok {
				p.ID = id
			}
			if platform, ok := v["platform"].(string); ok {
				p.Platform = platform
			}
			if rawIDs, ok := v["postIds"].([]interface{}); ok {
				for _, id := range rawIDs {
					if s, ok := id.(string); ok {
						p.PostIDs = append(p.PostIDs, s)
					}
				}
			}
			out = append(out, p)
		}
	}
	return out
}
