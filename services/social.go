package services

import (
	"context"
	"log"
	"strconv"

	"mention-engine/models"
)

// Post is one item of a platform's /history response, tagged with the
// platform it was fetched from (the aggregator's response itself is
// per-platform, so the caller attaches this rather than the wire
// payload carrying it).
type Post struct {
	ID       string   `json:"id"`
	PostIDs  []string `json:"postIds"`
	Platform string   `json:"-"`
}

// Comment is one normalized comment returned by /comments/{postId},
// tagged with the post it belongs to.
type Comment struct {
	CommentID        string   `json:"commentId"`
	Comment          string   `json:"comment"`
	Platform         string   `json:"platform"`
	ReferencedTweets []string `json:"referencedTweets,omitempty"`
	APIPostID        string   `json:"-"`
}

// ReplyResult is the outcome of POST /comments/{ref}/reply.
type ReplyResult struct {
	Success   bool
	Platform  string
	Comment   string
	CommentID string
}

type historyResponse struct {
	History []Post `json:"history"`
}

type replyRequest struct {
	Comment          string   `json:"comment"`
	Platforms        []string `json:"platforms"`
	SearchPlatformID bool     `json:"searchPlatformId"`
}

// SocialGateway composes retry(breaker(http)) per platform. Retry sits
// outside, breaker inside, HTTP innermost: the breaker counts failures
// per underlying attempt, and retry gives up immediately once the
// breaker opens.
type SocialGateway struct {
	gw            *HTTPGateway
	breakers      *BreakerRegistry
	retryCfg      RetryConfig
	clock         Clock
	platforms     []string
	historyDays   int
}

func NewSocialGateway(gw *HTTPGateway, breakers *BreakerRegistry, retryCfg RetryConfig, clock Clock, platforms []string, historyDays int) *SocialGateway {
	if historyDays <= 0 {
		historyDays = 7
	}
	return &SocialGateway{
		gw:          gw,
		breakers:    breakers,
		retryCfg:    retryCfg,
		clock:       clock,
		platforms:   platforms,
		historyDays: historyDays,
	}
}

// call runs fn through retry(breaker(...)) for the given platform key.
func (s *SocialGateway) call(ctx context.Context, platform string, fn func() error) error {
	retrier := NewRetrier(s.retryCfg, s.clock)
	shouldRetry := DefaultShouldRetry(s.breakers, platform)
	return retrier.Do(ctx, shouldRetry, func() error {
		return s.breakers.Execute(platform, fn)
	})
}

// ListRecentPosts calls /history for each configured platform. A
// platform failure is logged and does not fail the aggregate call;
// never fails the whole call if at least one platform responded.
func (s *SocialGateway) ListRecentPosts(ctx context.Context, actor models.Actor) ([]Post, error) {
	var all []Post
	var anySucceeded bool
	var lastErr error

	for _, platform := range s.platforms {
		var resp historyResponse
		path := "/history?lastDays=" + strconv.Itoa(s.historyDays) + "&platform=" + platform
		err := s.call(ctx, platform, func() error {
			return s.gw.Do(ctx, "GET", path, nil, nil, &resp)
		})
		if err != nil {
			log.Printf("[social:%s] listRecentPosts failed: %v", platform, err)
			lastErr = err
			continue
		}
		anySucceeded = true
		for _, p := range resp.History {
			p.Platform = platform
			all = append(all, p)
		}
	}

	if !anySucceeded && lastErr != nil {
		return nil, lastErr
	}
	return all, nil
}

// ListComments calls /comments/{postId}, applies the platform comment
// filter, and tags each comment with apiPostId.
func (s *SocialGateway) ListComments(ctx context.Context, post Post, actor models.Actor) ([]Comment, error) {
	platform := post.Platform
	var raw map[string][]Comment
	err := s.call(ctx, platform, func() error {
		return s.gw.Do(ctx, "GET", "/comments/"+post.ID, nil, nil, &raw)
	})
	if err != nil {
		return nil, err
	}

	var out []Comment
	for plat, comments := range raw {
		for _, c := range comments {
			c.Platform = plat
			c.APIPostID = post.ID
			out = append(out, c)
		}
	}
	return filterComments(platform, post, out), nil
}

// ReplyToComment posts a reply. On success the caller — not the
// gateway — creates the child Mention inside the enclosing store
// transaction.
func (s *SocialGateway) ReplyToComment(ctx context.Context, mention models.Mention, content string, actor models.Actor) (ReplyResult, error) {
	body := replyRequest{
		Comment:          content,
		Platforms:        []string{mention.Platform},
		SearchPlatformID: true,
	}

	var raw map[string]interface{}
	err := s.call(ctx, mention.Platform, func() error {
		return s.gw.Do(ctx, "POST", "/comments/"+mention.SocialMediaPlatformRef+"/reply", body, nil, &raw)
	})
	if err != nil {
		return ReplyResult{Success: false}, err
	}

	result := ReplyResult{Platform: mention.Platform}
	if success, ok := raw["success"].(bool); ok {
		result.Success = success
	}
	if platData, ok := raw[mention.Platform].(map[string]interface{}); ok {
		if c, ok := platData["comment"].(string); ok {
			result.Comment = c
		}
		if id, ok := platData["commentId"].(string); ok {
			result.CommentID = id
		}
	}
	return result, nil
}

// HealthSnapshot reports per-platform circuit health.
func (s *SocialGateway) HealthSnapshot() (healthy bool, rows []HealthRow, err error) {
	return s.breakers.HealthSnapshot()
}
