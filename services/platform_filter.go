package services

// filterComments applies the per-platform comment filter. For most
// platforms this is identity. For twitter, only comments whose
// referencedTweets is empty or references the platform-specific post
// id derived from post.PostIDs are kept — this keeps threaded replies
// from being counted as top-level comments.
func filterComments(platform string, post Post, comments []Comment) []Comment {
	if platform != "twitter" {
		return comments
	}

	postIDs := make(map[string]bool, len(post.PostIDs))
	for _, id := range post.PostIDs {
		postIDs[id] = true
	}

	var out []Comment
	for _, c := range comments {
		if len(c.ReferencedTweets) == 0 {
			out = append(out, c)
			continue
		}
		keep := false
		for _, ref := range c.ReferencedTweets {
			if postIDs[ref] {
				keep = true
				break
			}
		}
		if keep {
			out = append(out, c)
		}
	}
	return out
}
