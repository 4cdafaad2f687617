// Package guardian decides what a principal may see or change.
//
// Every check returns a plain boolean. The callers translate a false into
// an authorization failure; the guardian itself never returns an error.
// Membership lookups which fail at the store are treated as a denial and
// logged, never surfaced.
package guardian

import (
	"github.com/banter-chat/banter/server/logs"
	"github.com/banter-chat/banter/server/store"
	"github.com/banter-chat/banter/server/store/types"
)

// Guardian is a per-request permission resolver for one principal.
type Guardian struct {
	// Host user record of the principal, nil for an anonymous caller.
	user *types.User
}

// New creates a resolver for the given principal. A nil user means an
// unauthenticated caller.
func New(user *types.User) *Guardian {
	return &Guardian{user: user}
}

// Authenticated reports whether the principal is a logged-in user.
func (g *Guardian) Authenticated() bool {
	return g.user != nil
}

// IsAdmin reports whether the principal is a site administrator.
func (g *Guardian) IsAdmin() bool {
	return g.user != nil && g.user.Admin
}

// Uid returns the principal's id, zero for an anonymous caller.
func (g *Guardian) Uid() types.Uid {
	if g.user == nil {
		return types.ZeroUid
	}
	return g.user.Uid()
}

// User returns the principal's host user record, nil for an anonymous
// caller.
func (g *Guardian) User() *types.User {
	return g.user
}

// CanView reports whether the principal may read the topic and its posts.
func (g *Guardian) CanView(topic *types.Topic) bool {
	if topic == nil {
		return false
	}
	if topic.Kind == types.TopicKindPublic {
		return true
	}
	if !g.Authenticated() {
		return false
	}
	if g.IsAdmin() {
		return true
	}

	switch topic.Kind {
	case types.TopicKindGroup:
		ok, err := store.Users.BelongsToAny(g.Uid(), topic.AllowedGroups)
		if err != nil {
			logs.Warning.Println("guardian: group membership lookup:", err)
			return false
		}
		return ok
	case types.TopicKindCategory:
		ok, err := store.Categories.UserCanRead(g.Uid(), topic.CategoryId)
		if err != nil {
			logs.Warning.Println("guardian: category read lookup:", err)
			return false
		}
		return ok
	case types.TopicKindDirect:
		for _, uid := range topic.AllowedUsers {
			if uid == g.Uid() {
				return true
			}
		}
		return false
	}

	return false
}

// CanPost reports whether the principal may add a post to the topic.
// Posting always requires authentication, even in public topics.
func (g *Guardian) CanPost(topic *types.Topic) bool {
	if !g.Authenticated() {
		return false
	}
	return g.CanView(topic)
}

// CanModifyPost reports whether the principal may edit or delete the post.
// Authors own their posts; admins own everything.
func (g *Guardian) CanModifyPost(post *types.Post) bool {
	if post == nil || !g.Authenticated() {
		return false
	}
	if g.IsAdmin() {
		return true
	}
	return post.From == g.Uid()
}

// CanAdminister reports whether the principal may create, reconfigure or
// destroy chat topics.
func (g *Guardian) CanAdminister() bool {
	return g.IsAdmin()
}
