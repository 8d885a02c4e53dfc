package engine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"mention-engine/models"
	"mention-engine/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestListMentions_ReturnsWithinWaitMsEvenIfUpstreamNeverResponds is
// property P6: ListMentions races the fetch-and-reconcile call against
// a waitMs timer and returns the last known snapshot with
// meta.isSyncing=true rather than blocking on a slow upstream.
func TestListMentions_ReturnsWithinWaitMsEvenIfUpstreamNeverResponds(t *testing.T) {
	block := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("/history", func(w http.ResponseWriter, r *http.Request) {
		<-block
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"history":[]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	defer close(block) // runs before srv.Close(), so Close doesn't wait on the hung handler

	clock := services.NewRealClock()
	gw := services.NewHTTPGateway(srv.URL, "", 5*time.Second)
	breakers := services.NewBreakerRegistry(nil, clock, 5, time.Minute, nil)
	social := services.NewSocialGateway(gw, breakers, services.DefaultRetryConfig(), clock, []string{"test"}, 7)

	store := newFakeStore()
	now := time.Now()
	store.mentions[1] = &models.Mention{ID: 1, Content: "seen already", Platform: "test", CreatedAt: now, UpdatedAt: now}
	store.nextMID = 1

	e := NewEngine(store, social, clock)
	actor := models.Actor{ID: 1, Email: "agent@example.com"}

	start := time.Now()
	result, err := e.ListMentions(context.Background(), ListMentionsParams{WaitMs: 50, Actor: actor})
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.True(t, result.Meta.IsSyncing, "upstream never responded within waitMs, so isSyncing must be true")
	assert.Len(t, result.Result, 1, "the last known snapshot is still returned")
	assert.Less(t, elapsed, 500*time.Millisecond, "ListMentions must not block on a hung upstream call")
}
