package engine

import (
	"context"
	"log"
	"strings"
	"time"

	"mention-engine/models"

	"github.com/lib/pq"
)

// ListenForTasks sets up a Postgres LISTEN on channel, waking the
// recovery loops promptly on task insert instead of waiting for the
// next poll tick. Grounded on worker/ai_worker.go's listenForJobs:
// same reconnect-event callback shape, same poll-ticker fallback.
func (e *Engine) ListenForTasks(dsn, channel string) {
	e.wg.Add(1)
	go e.listenLoop(dsn, channel)
}

func (e *Engine) listenLoop(dsn, channel string) {
	defer e.wg.Done()

	eventCallback := func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnected:
			log.Println("[engine] LISTEN connected")
		case pq.ListenerEventDisconnected:
			log.Println("[engine] LISTEN disconnected, poll fallback active")
		case pq.ListenerEventReconnected:
			log.Println("[engine] LISTEN reconnected")
		case pq.ListenerEventConnectionAttemptFailed:
			if err != nil && !strings.Contains(err.Error(), "connection") {
				log.Printf("[engine] LISTEN error: %v", err)
			}
		}
	}

	listener := pq.NewListener(dsn, 10*time.Second, time.Minute, eventCallback)
	if err := listener.Listen(channel); err != nil {
		log.Printf("[engine] failed to listen on %s: %v", channel, err)
		return
	}
	defer listener.Close()

	systemActor := models.Actor{ID: 0, Email: "system@mention-engine"}
	ctx := context.Background()

	for {
		select {
		case <-e.shutdown:
			return
		case notification := <-listener.Notify:
			if notification == nil {
				continue
			}
			switch notification.Extra {
			case string(models.TaskCodeReplyMention):
				e.recoverReplyMentions(ctx, systemActor)
			case string(models.TaskCodeFetchComments):
				e.recoverFetchComments(ctx, systemActor)
			}
		}
	}
}
