package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"mention-engine/models"
	"mention-engine/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSocialGateway(t *testing.T, replyHandler http.HandlerFunc) (*services.SocialGateway, *httptest.Server) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/comments/", func(w http.ResponseWriter, r *http.Request) {
		replyHandler(w, r)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	clock := services.NewRealClock()
	gw := services.NewHTTPGateway(srv.URL, "", time.Second)
	breakers := services.NewBreakerRegistry(nil, clock, 5, time.Minute, nil)
	social := services.NewSocialGateway(gw, breakers, services.DefaultRetryConfig(), clock, []string{"test"}, 7)
	return social, srv
}

// TestReplyToMention_ConcurrentCallsCollapseToOne is property P1: 5
// concurrent ReplyToMention calls against the same mention must
// produce exactly one finished REPLY_MENTION task with the mention
// left REPLIED, and the rest REPLY_MENTION_IGNORED.
func TestReplyToMention_ConcurrentCallsCollapseToOne(t *testing.T) {
	social, _ := newTestSocialGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"test": map[string]interface{}{
				"comment":   "thanks!",
				"commentId": "reply-1",
			},
		})
	})

	store := newFakeStore()
	now := time.Now()
	store.mentions[1] = &models.Mention{
		ID:                     1,
		Content:                "original comment",
		SocialMediaPlatformRef: "c1",
		Platform:               "test",
		Type:                   models.MentionTypeComment,
		Data:                   models.JSONMap{},
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	store.nextMID = 1

	e := NewEngine(store, social, services.NewRealClock())
	actor := models.Actor{ID: 1, Email: "agent@example.com"}

	const concurrency = 5
	var wg sync.WaitGroup
	tasks := make([]*models.Task, concurrency)
	errs := make([]error, concurrency)
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			task, err := e.ReplyToMention(context.Background(), ReplyToMentionParams{
				MentionID: 1,
				Content:   "hello there",
				Actor:     actor,
			})
			tasks[i] = task
			errs[i] = err
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "call %d", i)
	}

	all := store.allTasks()
	var finished, ignored int
	for _, task := range all {
		switch task.Code {
		case models.TaskCodeReplyMention:
			if task.FinishedAt != nil {
				finished++
			}
		case models.TaskCodeReplyMentionIgnored:
			ignored++
		}
	}
	assert.Equal(t, 1, finished, "exactly one finished REPLY_MENTION task")
	assert.GreaterOrEqual(t, ignored, concurrency-1, "the rest are ignored")

	mention, err := store.GetMention(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, models.MentionStateReplied, mention.State)
}
