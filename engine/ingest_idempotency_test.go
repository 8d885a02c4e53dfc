package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"mention-engine/models"
	"mention-engine/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCommentsOnlySocialGateway(t *testing.T, clock services.Clock, comments map[string][]services.Comment) *services.SocialGateway {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/comments/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(comments)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	gw := services.NewHTTPGateway(srv.URL, "", time.Second)
	breakers := services.NewBreakerRegistry(nil, clock, 5, time.Minute, nil)
	return services.NewSocialGateway(gw, breakers, services.DefaultRetryConfig(), clock, []string{"test"}, 7)
}

// TestProcessFetchTask_IngestingSameCommentTwiceStaysIdempotent is
// property P2: the same comment, fetched 30 seconds apart by two
// separate FETCH_COMMENTS tasks, produces exactly one Mention row, and
// both tasks finish.
func TestProcessFetchTask_IngestingSameCommentTwiceStaysIdempotent(t *testing.T) {
	clock := services.NewVirtualClock(time.Unix(0, 0))
	social := newCommentsOnlySocialGateway(t, clock, map[string][]services.Comment{
		"test": {{CommentID: "cm1", Comment: "nice!"}},
	})

	store := newFakeStore()
	e := NewEngine(store, social, clock)
	actor := models.Actor{ID: 1, Email: "agent@example.com"}
	posts := []services.Post{{ID: "post1", Platform: "test"}}

	now1 := clock.Now()
	task1 := &models.Task{
		Code:      models.TaskCodeFetchComments,
		Data:      models.JSONMap{"posts": []interface{}{map[string]interface{}{"id": "post1", "platform": "test"}}},
		StartedAt: &now1,
		CreatedBy: actor.ID,
	}
	require.NoError(t, store.CreateTask(context.Background(), task1))
	require.NoError(t, e.ProcessFetchTask(context.Background(), task1, posts, actor))

	clock.Advance(30 * time.Second)

	now2 := clock.Now()
	task2 := &models.Task{
		Code:      models.TaskCodeFetchComments,
		Data:      models.JSONMap{"posts": []interface{}{map[string]interface{}{"id": "post1", "platform": "test"}}},
		StartedAt: &now2,
		CreatedBy: actor.ID,
	}
	require.NoError(t, store.CreateTask(context.Background(), task2))
	require.NoError(t, e.ProcessFetchTask(context.Background(), task2, posts, actor))

	mentions, err := store.ListMentions(context.Background())
	require.NoError(t, err)
	assert.Len(t, mentions, 1, "the same comment must not be ingested twice")
	assert.Equal(t, "cm1", mentions[0].SocialMediaPlatformRef)

	got1, err := store.GetTask(context.Background(), task1.ID)
	require.NoError(t, err)
	assert.NotNil(t, got1.FinishedAt)

	got2, err := store.GetTask(context.Background(), task2.ID)
	require.NoError(t, err)
	assert.NotNil(t, got2.FinishedAt)
}
