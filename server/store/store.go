// Package store provides methods for registering and accessing content
// store adapters.
package store

import (
	"encoding/json"
	"errors"

	"github.com/banter-chat/banter/server/db"
	"github.com/banter-chat/banter/server/store/types"
)

var adp adapter.Adapter
var availableAdapters = make(map[string]adapter.Adapter)

// Unique ID generator.
var uGen types.UidGenerator

type configType struct {
	// 16-byte key for XTEA. Used to initialize types.UidGenerator.
	UidKey []byte `json:"uid_key"`
	// Maximum number of results to return from adapter.
	MaxResults int `json:"max_results"`
	// DB adapter name to use. Should be one of those specified in `Adapters`.
	UseAdapter string `json:"use_adapter"`
	// Configurations for individual adapters.
	Adapters map[string]json.RawMessage `json:"adapters"`
}

func openAdapter(workerId int, jsonconf json.RawMessage) error {
	var config configType
	if err := json.Unmarshal(jsonconf, &config); err != nil {
		return errors.New("store: failed to parse config: " + err.Error() + "(" + string(jsonconf) + ")")
	}

	if adp == nil {
		if len(config.UseAdapter) > 0 {
			// Adapter name specified explicitly.
			if ad, ok := availableAdapters[config.UseAdapter]; ok {
				adp = ad
			} else {
				return errors.New("store: " + config.UseAdapter + " adapter is not available in this binary")
			}
		} else if len(availableAdapters) == 1 {
			// Default to the only entry in availableAdapters.
			for _, v := range availableAdapters {
				adp = v
			}
		} else {
			return errors.New("store: db adapter is not specified. Please set `store_config.use_adapter`")
		}
	}

	if adp.IsOpen() {
		return errors.New("store: connection is already opened")
	}

	// Initialize snowflake.
	if workerId < 0 || workerId > 1023 {
		return errors.New("store: invalid worker ID")
	}

	if err := uGen.Init(uint(workerId), config.UidKey); err != nil {
		return errors.New("store: failed to init snowflake: " + err.Error())
	}

	if err := adp.SetMaxResults(config.MaxResults); err != nil {
		return err
	}

	var adapterConfig json.RawMessage
	if config.Adapters != nil {
		adapterConfig = config.Adapters[adp.GetName()]
	}

	return adp.Open(adapterConfig)
}

// PersistentStorageInterface defines methods used for interaction with
// persistent storage.
type PersistentStorageInterface interface {
	Open(workerId int, jsonconf json.RawMessage) error
	Close() error
	IsOpen() bool
	GetAdapterName() string
	InitDb(jsonconf json.RawMessage, reset bool) error
	GetUid() types.Uid
	DbStats() func() interface{}
}

// Store is the main object for interacting with persistent storage.
var Store PersistentStorageInterface

type storeObj struct{}

// Open initializes the persistence system. Adapter holds a connection pool
// for a database instance.
func (storeObj) Open(workerId int, jsonconf json.RawMessage) error {
	return openAdapter(workerId, jsonconf)
}

// Close terminates connection to persistent storage.
func (storeObj) Close() error {
	if adp.IsOpen() {
		return adp.Close()
	}

	return nil
}

// IsOpen checks if persistent storage connection has been initialized.
func (storeObj) IsOpen() bool {
	if adp != nil {
		return adp.IsOpen()
	}

	return false
}

// GetAdapterName returns the name of the current adapter.
func (storeObj) GetAdapterName() string {
	if adp != nil {
		return adp.GetName()
	}

	return ""
}

// InitDb creates the chat schema. If 'reset' is true it will first attempt
// to drop existing tables. If jsonconf is nil it assumes the adapter is
// already open.
func (s storeObj) InitDb(jsonconf json.RawMessage, reset bool) error {
	if !s.IsOpen() {
		if err := openAdapter(1, jsonconf); err != nil {
			return err
		}
	}
	return adp.CreateDb(reset)
}

// GetUid generates a unique ID suitable for use as a primary key.
func (storeObj) GetUid() types.Uid {
	return uGen.Get()
}

// DbStats returns a callback returning db connection stats object.
func (s storeObj) DbStats() func() interface{} {
	if !s.IsOpen() {
		return nil
	}
	return adp.Stats
}

// RegisterAdapter makes a persistence adapter available.
// If Register is called twice or if the adapter is nil, it panics.
func RegisterAdapter(a adapter.Adapter) {
	if a == nil {
		panic("store: Register adapter is nil")
	}

	adapterName := a.GetName()
	if _, ok := availableAdapters[adapterName]; ok {
		panic("store: adapter '" + adapterName + "' is already registered")
	}
	availableAdapters[adapterName] = a
}

// DecodeUid takes an XTEA encrypted Uid and decrypts it into an int64.
// This is needed for sql compatibility.
func DecodeUid(uid types.Uid) int64 {
	if uid.IsZero() {
		return 0
	}
	return uGen.DecodeUid(uid)
}

// EncodeUid applies XTEA encryption to an int64 value. It's the inverse of DecodeUid.
func EncodeUid(id int64) types.Uid {
	if id == 0 {
		return types.ZeroUid
	}
	return uGen.EncodeInt64(id)
}

// TopicsObjMapperInterface is the persistence mapper for Topic objects.
type TopicsObjMapperInterface interface {
	Create(topic *types.Topic) (*types.Topic, error)
	Get(topic types.Uid) (*types.Topic, error)
	GetByDirectKey(key string) (*types.Topic, error)
	Update(topic *types.Topic) error
	Delete(topic types.Uid) error
	ForUser(user types.Uid, groups, categories []types.Uid, directOnly bool) ([]types.Topic, error)
}

// TopicsObjMapper holds methods for persistence mapping of Topic objects.
type TopicsObjMapper struct{}

// Topics is the anchor for storing/retrieving Topic objects.
var Topics TopicsObjMapperInterface

// Create assigns an id and timestamps to the topic and inserts it.
func (TopicsObjMapper) Create(topic *types.Topic) (*types.Topic, error) {
	topic.SetUid(Store.GetUid())
	topic.InitTimes()
	if topic.TouchedAt.IsZero() {
		topic.TouchedAt = topic.CreatedAt
	}

	if err := adp.TopicCreate(topic); err != nil {
		return nil, err
	}
	return topic, nil
}

// Get loads a single live topic.
func (TopicsObjMapper) Get(topic types.Uid) (*types.Topic, error) {
	return adp.TopicGet(topic)
}

// GetByDirectKey loads a live direct-message topic by participant-pair key.
func (TopicsObjMapper) GetByDirectKey(key string) (*types.Topic, error) {
	return adp.TopicGetByDirectKey(key)
}

// Update stamps UpdatedAt and overwrites the topic record.
func (TopicsObjMapper) Update(topic *types.Topic) error {
	topic.UpdatedAt = types.TimeNow()
	return adp.TopicUpdate(topic)
}

// Delete soft-deletes the topic record.
func (TopicsObjMapper) Delete(topic types.Uid) error {
	return adp.TopicDelete(topic)
}

// ForUser composes the access-index query: live topics visible under the
// given group/category membership, most recently active first.
func (TopicsObjMapper) ForUser(user types.Uid, groups, categories []types.Uid, directOnly bool) ([]types.Topic, error) {
	return adp.TopicsForUser(user, groups, categories, directOnly)
}

// PostsObjMapperInterface is the persistence mapper for Post objects.
type PostsObjMapperInterface interface {
	Create(post *types.Post) (*types.Post, error)
	Get(post types.Uid) (*types.Post, error)
	Update(post types.Uid, raw string) error
	Delete(post types.Uid, hard bool) error
	Window(topic types.Uid, opts *types.WindowOpt) ([]types.Post, error)
}

// PostsObjMapper holds methods for persistence mapping of Post objects.
type PostsObjMapper struct{}

// Posts is the anchor for storing/retrieving Post objects.
var Posts PostsObjMapperInterface

// Create saves the post to DB. The sequence number is assigned by the
// adapter inside the insert transaction.
func (PostsObjMapper) Create(post *types.Post) (*types.Post, error) {
	post.SetUid(Store.GetUid())
	post.InitTimes()

	if err := adp.PostCreate(post); err != nil {
		return nil, err
	}
	return post, nil
}

// Get loads a single post.
func (PostsObjMapper) Get(post types.Uid) (*types.Post, error) {
	return adp.PostGet(post)
}

// Update replaces the body of a post.
func (PostsObjMapper) Update(post types.Uid, raw string) error {
	return adp.PostUpdate(post, raw)
}

// Delete removes the post: hard drops the row, soft marks it user_deleted.
func (PostsObjMapper) Delete(post types.Uid, hard bool) error {
	return adp.PostDelete(post, hard)
}

// Window returns a page of the topic's post stream.
func (PostsObjMapper) Window(topic types.Uid, opts *types.WindowOpt) ([]types.Post, error) {
	return adp.PostWindow(topic, opts)
}

// TopicUsersObjMapperInterface is the persistence mapper for read markers.
type TopicUsersObjMapperInterface interface {
	Get(topic, user types.Uid) (*types.TopicUser, error)
	EnsureExists(topic, user types.Uid) error
	SetLastRead(topic, user types.Uid, seq int) (bool, error)
}

// TopicUsersObjMapper holds methods for persistence mapping of read markers.
type TopicUsersObjMapper struct{}

// TopicUsers is the anchor for storing/retrieving read markers.
var TopicUsers TopicUsersObjMapperInterface

// Get reads the (user, topic) marker row.
func (TopicUsersObjMapper) Get(topic, user types.Uid) (*types.TopicUser, error) {
	return adp.TopicUserGet(topic, user)
}

// EnsureExists inserts a zero marker row if one is not present.
func (TopicUsersObjMapper) EnsureExists(topic, user types.Uid) error {
	return adp.TopicUserCreate(topic, user)
}

// SetLastRead advances the marker monotonically. A stale or duplicate seq
// is a no-op; returns true if the marker moved.
func (TopicUsersObjMapper) SetLastRead(topic, user types.Uid, seq int) (bool, error) {
	return adp.TopicUserSetLastRead(topic, user, seq)
}

// NotificationsObjMapperInterface is the persistence mapper for notifications.
type NotificationsObjMapperInterface interface {
	Create(n *types.Notification) error
	MarkRead(topic, user types.Uid, seq int) (int, error)
}

// NotificationsObjMapper holds methods for persistence mapping of notifications.
type NotificationsObjMapper struct{}

// Notifications is the anchor for storing/retrieving Notification objects.
var Notifications NotificationsObjMapperInterface

// Create inserts a notification record.
func (NotificationsObjMapper) Create(n *types.Notification) error {
	n.Id = Store.GetUid()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = types.TimeNow()
	}
	return adp.NotificationCreate(n)
}

// MarkRead flips to read all unread notifications of the pair with
// sequence number <= seq, as a single batch.
func (NotificationsObjMapper) MarkRead(topic, user types.Uid, seq int) (int, error) {
	return adp.NotificationsMarkRead(topic, user, seq)
}

// UsersObjMapperInterface is the read-mostly mapper for host directory data.
type UsersObjMapperInterface interface {
	Get(user types.Uid) (*types.User, error)
	GetByName(username string) (*types.User, error)
	Groups(user types.Uid) ([]types.Uid, error)
	ReadableCategories(user types.Uid) ([]types.Uid, error)
	BelongsToAny(user types.Uid, groups []types.Uid) (bool, error)
	PostCountAdjust(user types.Uid, delta int) error
}

// UsersObjMapper holds methods for accessing the host user directory.
type UsersObjMapper struct{}

// Users is the anchor for retrieving host User records.
var Users UsersObjMapperInterface

// Get returns a record for a given user ID.
func (UsersObjMapper) Get(user types.Uid) (*types.User, error) {
	return adp.UserGet(user)
}

// GetByName resolves a user by username.
func (UsersObjMapper) GetByName(username string) (*types.User, error) {
	return adp.UserGetByName(username)
}

// Groups returns ids of groups the user currently belongs to.
func (UsersObjMapper) Groups(user types.Uid) ([]types.Uid, error) {
	return adp.UserGroups(user)
}

// ReadableCategories returns ids of categories the user may read.
func (UsersObjMapper) ReadableCategories(user types.Uid) ([]types.Uid, error) {
	return adp.UserReadableCategories(user)
}

// BelongsToAny checks membership in at least one of the given groups.
func (UsersObjMapper) BelongsToAny(user types.Uid, groups []types.Uid) (bool, error) {
	return adp.UserBelongsToAny(user, groups)
}

// PostCountAdjust shifts the user's forum post counter.
func (UsersObjMapper) PostCountAdjust(user types.Uid, delta int) error {
	return adp.UserPostCountAdjust(user, delta)
}

// GroupsObjMapperInterface is the mapper for host group records.
type GroupsObjMapperInterface interface {
	Get(ids []types.Uid) ([]types.Group, error)
}

// GroupsObjMapper holds methods for accessing host group records.
type GroupsObjMapper struct{}

// Groups is the anchor for retrieving host Group records.
var Groups GroupsObjMapperInterface

// Get loads group records for the given list of ids.
func (GroupsObjMapper) Get(ids []types.Uid) ([]types.Group, error) {
	return adp.GroupsGet(ids)
}

// CategoriesObjMapperInterface is the mapper for host category records.
type CategoriesObjMapperInterface interface {
	Get(category types.Uid) (*types.Category, error)
	UserCanRead(user, category types.Uid) (bool, error)
	SetChatTopic(category, topic types.Uid) error
}

// CategoriesObjMapper holds methods for accessing host category records.
type CategoriesObjMapper struct{}

// Categories is the anchor for retrieving host Category records.
var Categories CategoriesObjMapperInterface

// Get loads a single category.
func (CategoriesObjMapper) Get(category types.Uid) (*types.Category, error) {
	return adp.CategoryGet(category)
}

// UserCanRead checks the host category read permission.
func (CategoriesObjMapper) UserCanRead(user, category types.Uid) (bool, error) {
	return adp.UserCanReadCategory(user, category)
}

// SetChatTopic points the category's chat back-reference at the topic;
// zero topic id clears it.
func (CategoriesObjMapper) SetChatTopic(category, topic types.Uid) error {
	return adp.CategorySetChatTopic(category, topic)
}

func init() {
	Store = storeObj{}
	Topics = TopicsObjMapper{}
	Posts = PostsObjMapper{}
	TopicUsers = TopicUsersObjMapper{}
	Notifications = NotificationsObjMapper{}
	Users = UsersObjMapper{}
	Groups = GroupsObjMapper{}
	Categories = CategoriesObjMapper{}
}
