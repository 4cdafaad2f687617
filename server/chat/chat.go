/******************************************************************************
 *
 *  Description :
 *    Topic lifecycle and the access index: which chat topics a principal
 *    may list, and how topics are created, reconfigured and destroyed.
 *
 *****************************************************************************/

// Package chat implements the chat-specific semantics layered over the
// host forum's content store: topic lifecycle, the per-user topic index,
// posting, read tracking and event fan-out triggers.
package chat

import (
	"strings"
	"unicode/utf8"

	"github.com/banter-chat/banter/server/guardian"
	"github.com/banter-chat/banter/server/store"
	"github.com/banter-chat/banter/server/store/types"
)

// Publisher is the slice of the broadcaster the chat core needs.
type Publisher interface {
	PublishToTopic(topic *types.Topic, destroyed bool)
	PublishToPosts(post *types.Post)
	PublishPostDeleted(post *types.Post)
	PublishToOnline(topic types.Uid, user *types.User)
	PublishToTyping(topic types.Uid, user *types.User)
}

// Config carries the tunables of the chat core. Values are fixed at
// construction; nothing is read from ambient state afterwards.
type Config struct {
	// Number of posts in a default post-stream page.
	PageSize int
	// Minimum length of a user-supplied topic title, in runes.
	MinTitleLength int
	// Principal which owns explicitly created topics.
	SystemUser types.Uid
	// Group granted access when a group topic is saved with an empty
	// group list (the host's trust-level-0 group).
	DefaultGroup types.Uid
}

const defaultPageSize = 10

// Service is the chat core. All state lives in the content store; the
// service itself is stateless and safe for concurrent use.
type Service struct {
	cfg   Config
	bcast Publisher
}

// NewService creates the chat core over the given broadcaster.
func NewService(cfg Config, bcast Publisher) *Service {
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.MinTitleLength <= 0 {
		cfg.MinTitleLength = 1
	}
	return &Service{cfg: cfg, bcast: bcast}
}

// TopicParams is a topic create/update request.
type TopicParams struct {
	Title         string
	Kind          types.TopicKind
	CategoryId    types.Uid
	AllowedGroups []types.Uid
	AllowedUsers  []types.Uid
}

// AvailableTopics lists live topics the principal may see, most recently
// active first. Membership is resolved at query time: a revoked group or
// category grant hides its topics immediately.
func (s *Service) AvailableTopics(gdn *guardian.Guardian, directOnly bool) ([]types.Topic, error) {
	uid := gdn.Uid()

	var groups, categories []types.Uid
	var err error
	if gdn.Authenticated() {
		if groups, err = store.Users.Groups(uid); err != nil {
			return nil, err
		}
		if categories, err = store.Users.ReadableCategories(uid); err != nil {
			return nil, err
		}
	}

	candidates, err := store.Topics.ForUser(uid, groups, categories, directOnly)
	if err != nil {
		return nil, err
	}

	// The store query pushes the membership predicates down; the resolver
	// re-checks each candidate so a mismatch can only hide, never leak.
	topics := make([]types.Topic, 0, len(candidates))
	for i := range candidates {
		if gdn.CanView(&candidates[i]) {
			topics = append(topics, candidates[i])
		}
	}
	return topics, nil
}

// FetchTopic loads one topic for viewing. Registers a read marker row for
// an authenticated viewer so the topic shows up in their unread tracking.
func (s *Service) FetchTopic(gdn *guardian.Guardian, id types.Uid) (*types.Topic, error) {
	topic, err := store.Topics.Get(id)
	if err != nil {
		return nil, err
	}
	if topic == nil {
		return nil, types.ErrNotFound
	}
	if !gdn.CanView(topic) {
		return nil, types.ErrPermissionDenied
	}

	if gdn.Authenticated() {
		if err = store.TopicUsers.EnsureExists(topic.Uid(), gdn.Uid()); err != nil {
			return nil, err
		}
	}
	return topic, nil
}

// SaveTopic creates a topic or reconfigures an existing one. Only
// administrators may call it; direct-message topics are soft-created
// through DirectTopic instead. Either the topic reaches a fully valid
// state or no write is applied.
func (s *Service) SaveTopic(gdn *guardian.Guardian, params TopicParams, existing *types.Topic) (*types.Topic, error) {
	if !gdn.CanAdminister() {
		return nil, types.ErrPermissionDenied
	}

	kind := params.Kind
	if kind == "" {
		if existing != nil {
			kind = existing.Kind
		} else {
			kind = types.TopicKindGroup
		}
	}
	if kind == types.TopicKindDirect {
		return nil, types.ValidationError{Field: "permissions", Msg: "direct-message topics are created implicitly"}
	}

	title := strings.TrimSpace(params.Title)
	categoryId := types.ZeroUid
	groups := []types.Uid{}

	switch kind {
	case types.TopicKindCategory:
		if params.CategoryId.IsZero() {
			return nil, types.ValidationError{Field: "category_id", Msg: "required for category permissions"}
		}
		cat, err := store.Categories.Get(params.CategoryId)
		if err != nil {
			return nil, err
		}
		if cat == nil {
			return nil, types.ValidationError{Field: "category_id", Msg: "no such category"}
		}
		// A category may hold at most one live chat topic. Races between
		// two concurrent saves are caught again by the store's uniqueness
		// constraint and surface as the same conflict error.
		if !cat.ChatTopicId.IsZero() && (existing == nil || cat.ChatTopicId != existing.Uid()) {
			return nil, types.ErrDuplicate
		}
		if title == "" {
			title = cat.Name
		}
		categoryId = cat.Id

	case types.TopicKindGroup:
		if !params.CategoryId.IsZero() {
			return nil, types.ValidationError{Field: "category_id", Msg: "not allowed for group permissions"}
		}
		groups = params.AllowedGroups
		if len(groups) == 0 {
			// An empty group list is not a rejection: fall back to the
			// baseline trust-level group.
			groups = []types.Uid{s.cfg.DefaultGroup}
		}

	case types.TopicKindPublic:
		// No scoping fields.

	default:
		return nil, types.ValidationError{Field: "permissions", Msg: "unknown permission kind"}
	}

	if title == "" {
		return nil, types.ValidationError{Field: "title", Msg: "required"}
	}
	if utf8.RuneCountInString(title) < s.cfg.MinTitleLength {
		return nil, types.ValidationError{Field: "title", Msg: "too short"}
	}

	if existing == nil {
		topic := &types.Topic{
			Kind:          kind,
			Title:         title,
			CategoryId:    categoryId,
			AllowedGroups: groups,
			AllowedUsers:  []types.Uid{},
			CreatedBy:     s.cfg.SystemUser,
		}
		topic, err := store.Topics.Create(topic)
		if err != nil {
			return nil, err
		}
		if !categoryId.IsZero() {
			if err = store.Categories.SetChatTopic(categoryId, topic.Uid()); err != nil {
				return nil, err
			}
		}
		s.bcast.PublishToTopic(topic, false)
		return topic, nil
	}

	// Update in place, on a copy: the caller's record stays untouched if
	// the write fails.
	upd := *existing
	prevCategory := existing.CategoryId
	upd.Kind = kind
	upd.Title = title
	upd.CategoryId = categoryId
	upd.AllowedGroups = groups
	upd.AllowedUsers = []types.Uid{}
	upd.DirectKey = ""

	if err := store.Topics.Update(&upd); err != nil {
		return nil, err
	}
	// Moving between kinds clears the now-irrelevant category linkage.
	if prevCategory != categoryId {
		if !prevCategory.IsZero() {
			if err := store.Categories.SetChatTopic(prevCategory, types.ZeroUid); err != nil {
				return nil, err
			}
		}
		if !categoryId.IsZero() {
			if err := store.Categories.SetChatTopic(categoryId, upd.Uid()); err != nil {
				return nil, err
			}
		}
	}
	s.bcast.PublishToTopic(&upd, false)
	return &upd, nil
}

// DirectTopic returns the direct-message topic between the principal and
// the given counterpart, creating it if absent. Creation is idempotent:
// the same unordered pair always resolves to the same topic.
func (s *Service) DirectTopic(gdn *guardian.Guardian, other *types.User) (*types.Topic, error) {
	if !gdn.Authenticated() {
		return nil, types.ErrPermissionDenied
	}
	if other == nil {
		return nil, types.ErrNotFound
	}

	key := gdn.Uid().DirectKey(other.Uid())
	if key == "" {
		return nil, types.ValidationError{Field: "user_id", Msg: "cannot message yourself"}
	}

	topic, err := store.Topics.GetByDirectKey(key)
	if err != nil {
		return nil, err
	}
	if topic != nil {
		// Soft create: the existing fork is returned unmodified.
		return topic, nil
	}

	uid1, uid2 := gdn.Uid(), other.Uid()
	if uid2 < uid1 {
		uid1, uid2 = uid2, uid1
	}
	topic, err = store.Topics.Create(&types.Topic{
		Kind:          types.TopicKindDirect,
		Title:         gdn.User().Username + " " + other.Username,
		AllowedGroups: []types.Uid{},
		AllowedUsers:  []types.Uid{uid1, uid2},
		DirectKey:     key,
		CreatedBy:     s.cfg.SystemUser,
	})
	if err == types.ErrDuplicate {
		// Lost the race to the counterpart creating the same pair.
		return store.Topics.GetByDirectKey(key)
	}
	if err != nil {
		return nil, err
	}
	s.bcast.PublishToTopic(topic, false)
	return topic, nil
}

// DestroyTopic removes the topic from the chat namespace. Destruction is
// logical: post records are left to the content store's own retention.
// The store clears the category back-reference in the same transaction,
// posts or no posts.
func (s *Service) DestroyTopic(gdn *guardian.Guardian, topic *types.Topic) error {
	if !gdn.CanAdminister() {
		return types.ErrPermissionDenied
	}

	if err := store.Topics.Delete(topic.Uid()); err != nil {
		return err
	}
	s.bcast.PublishToTopic(topic, true)
	return nil
}

// AllowedGroups lists the group records granted access to the topic.
func (s *Service) AllowedGroups(gdn *guardian.Guardian, topic *types.Topic) ([]types.Group, error) {
	if !gdn.CanAdminister() {
		return nil, types.ErrPermissionDenied
	}
	return store.Groups.Get(topic.AllowedGroups)
}

// PublishOnline fans a presence signal out to the topic's subscribers.
// No record is kept and no delivery is guaranteed.
func (s *Service) PublishOnline(gdn *guardian.Guardian, topic *types.Topic) error {
	if !gdn.Authenticated() || !gdn.CanView(topic) {
		return types.ErrPermissionDenied
	}
	s.bcast.PublishToOnline(topic.Uid(), gdn.User())
	return nil
}

// PublishTyping fans a typing signal out to the topic's subscribers.
func (s *Service) PublishTyping(gdn *guardian.Guardian, topic *types.Topic) error {
	if !gdn.Authenticated() || !gdn.CanView(topic) {
		return types.ErrPermissionDenied
	}
	s.bcast.PublishToTyping(topic.Uid(), gdn.User())
	return nil
}
