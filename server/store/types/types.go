// Package types defines the objects persisted in the content store and
// the error taxonomy shared between the core packages and the adapters.
package types

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"time"
)

// Uid is a database-specific record id, suitable to be used as a primary key.
type Uid uint64

// ZeroUid is a representation of a null/zero id.
var ZeroUid Uid = 0

const (
	uidBase64Unpadded = 11
	uidBase64Padded   = 12

	pairBase64Unpadded = 22
	pairBase64Padded   = 24
)

// IsZero checks if Uid is uninitialized.
func (uid Uid) IsZero() bool {
	return uid == 0
}

// Compare returns 0 if uid is equal to u2, -1 if uid is smaller, 1 if greater.
func (uid Uid) Compare(u2 Uid) int {
	if uid < u2 {
		return -1
	} else if uid > u2 {
		return 1
	}
	return 0
}

// MarshalBinary converts Uid to byte slice.
func (uid Uid) MarshalBinary() ([]byte, error) {
	dst := make([]byte, 8)
	binary.LittleEndian.PutUint64(dst, uint64(uid))
	return dst, nil
}

// UnmarshalBinary reads Uid from byte slice.
func (uid *Uid) UnmarshalBinary(b []byte) error {
	if len(b) < 8 {
		return errors.New("Uid.UnmarshalBinary: invalid length")
	}
	*uid = Uid(binary.LittleEndian.Uint64(b))
	return nil
}

// UnmarshalText reads Uid from its base64 text representation.
func (uid *Uid) UnmarshalText(src []byte) error {
	if len(src) != uidBase64Unpadded {
		return errors.New("Uid.UnmarshalText: invalid length")
	}
	dec := make([]byte, base64.URLEncoding.DecodedLen(uidBase64Padded))
	for len(src) < uidBase64Padded {
		src = append(src, '=')
	}
	count, err := base64.URLEncoding.Decode(dec, src)
	if count < 8 {
		if err != nil {
			return errors.New("Uid.UnmarshalText: failed to decode " + err.Error())
		}
		return errors.New("Uid.UnmarshalText: failed to decode")
	}
	*uid = Uid(binary.LittleEndian.Uint64(dec))
	return nil
}

// MarshalText converts Uid to base64 text, the form used in URLs and JSON.
func (uid Uid) MarshalText() ([]byte, error) {
	if uid == 0 {
		return []byte{}, nil
	}
	src := make([]byte, 8)
	dst := make([]byte, base64.URLEncoding.EncodedLen(8))
	binary.LittleEndian.PutUint64(src, uint64(uid))
	base64.URLEncoding.Encode(dst, src)
	return dst[0:uidBase64Unpadded], nil
}

// MarshalJSON converts Uid to a quoted string.
func (uid Uid) MarshalJSON() ([]byte, error) {
	dst, _ := uid.MarshalText()
	return append(append([]byte{'"'}, dst...), '"'), nil
}

// UnmarshalJSON reads Uid from a quoted string.
func (uid *Uid) UnmarshalJSON(b []byte) error {
	size := len(b)
	if size != (uidBase64Unpadded + 2) {
		return errors.New("Uid.UnmarshalJSON: invalid length")
	} else if b[0] != '"' || b[size-1] != '"' {
		return errors.New("Uid.UnmarshalJSON: unrecognized")
	}
	return uid.UnmarshalText(b[1 : size-1])
}

// String returns the string representation of the Uid, empty string for a zero Uid.
func (uid Uid) String() string {
	buf, _ := uid.MarshalText()
	return string(buf)
}

// ParseUid parses a string obtained from Uid.String().
func ParseUid(s string) Uid {
	var uid Uid
	uid.UnmarshalText([]byte(s))
	return uid
}

// DirectKey generates the pair key of a direct-message topic between uid
// and u2. The key is the same regardless of the order of the two ids.
// Returns an empty string if either id is zero or the two are equal:
// messaging oneself is not a valid direct-message topic.
func (uid Uid) DirectKey(u2 Uid) string {
	if uid.IsZero() || u2.IsZero() {
		return ""
	}

	b1, _ := uid.MarshalBinary()
	b2, _ := u2.MarshalBinary()
	if uid < u2 {
		b1 = append(b1, b2...)
	} else if uid > u2 {
		b1 = append(b2, b1...)
	} else {
		return ""
	}

	return base64.URLEncoding.EncodeToString(b1)[:pairBase64Unpadded]
}

// ParseDirectKey extracts the two participant ids from a direct-message key.
func ParseDirectKey(key string) (uid1, uid2 Uid, err error) {
	src := []byte(key)
	if len(src) != pairBase64Unpadded {
		err = errors.New("ParseDirectKey: invalid length")
		return
	}
	dec := make([]byte, base64.URLEncoding.DecodedLen(pairBase64Padded))
	for len(src) < pairBase64Padded {
		src = append(src, '=')
	}
	var count int
	count, err = base64.URLEncoding.Decode(dec, src)
	if count < 16 {
		if err != nil {
			err = errors.New("ParseDirectKey: failed to decode " + err.Error())
			return
		}
		err = errors.New("ParseDirectKey: invalid decoded length")
		return
	}
	uid1 = Uid(binary.LittleEndian.Uint64(dec))
	uid2 = Uid(binary.LittleEndian.Uint64(dec[8:]))
	return
}

// ObjHeader is the header shared by all stored objects.
type ObjHeader struct {
	Id        string
	id        Uid
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

// Uid converts the string form of Id to Uid, memoizing the result.
func (h *ObjHeader) Uid() Uid {
	if h.id.IsZero() && h.Id != "" {
		h.id.UnmarshalText([]byte(h.Id))
	}
	return h.id
}

// SetUid assigns given Uid to both the binary and string forms of the id.
func (h *ObjHeader) SetUid(uid Uid) {
	h.id = uid
	h.Id = uid.String()
}

// TimeNow returns current wall time in UTC rounded to milliseconds.
func TimeNow() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}

// InitTimes initializes time.Time variables in the header to current time.
func (h *ObjHeader) InitTimes() {
	if h.CreatedAt.IsZero() {
		h.CreatedAt = TimeNow()
	}
	h.UpdatedAt = h.CreatedAt
	h.DeletedAt = nil
}

// IsDeleted returns true if the object is soft-deleted.
func (h *ObjHeader) IsDeleted() bool {
	return h.DeletedAt != nil
}

// TopicKind is the access-control mode of a chat topic.
type TopicKind string

const (
	// TopicKindGroup is visible to members of the topic's allowed groups.
	TopicKindGroup = TopicKind("group")
	// TopicKindCategory is visible to whoever can read the linked category.
	TopicKindCategory = TopicKind("category")
	// TopicKindDirect is a private channel between exactly two users.
	TopicKindDirect = TopicKind("pm")
	// TopicKindPublic is visible to all authenticated users.
	TopicKindPublic = TopicKind("public")
)

// ParseTopicKind converts a wire string to a TopicKind.
func ParseTopicKind(s string) (TopicKind, bool) {
	switch TopicKind(s) {
	case TopicKindGroup, TopicKindCategory, TopicKindDirect, TopicKindPublic:
		return TopicKind(s), true
	}
	return "", false
}

// Topic is a chat channel.
type Topic struct {
	ObjHeader

	Kind  TopicKind
	Title string

	// Category this topic is bound to. Zero unless Kind == TopicKindCategory.
	CategoryId Uid
	// Groups allowed to view and post. Empty unless Kind == TopicKindGroup.
	AllowedGroups []Uid
	// The two participants of a direct-message topic.
	AllowedUsers []Uid
	// Normalized participant-pair key, unique among live direct topics.
	DirectKey string

	// User who created the topic; the system user for explicit creates.
	CreatedBy Uid

	// Server-issued sequence id of the last post (highest post number).
	SeqId int
	// Timestamp of the last post, used for recent-activity ordering.
	TouchedAt time.Time
}

// DirectOther returns the direct-message counterpart of the given user,
// zero if uid is not a participant or the topic is not a direct topic.
func (t *Topic) DirectOther(uid Uid) Uid {
	if t.Kind != TopicKindDirect || len(t.AllowedUsers) != 2 {
		return ZeroUid
	}
	if t.AllowedUsers[0] == uid {
		return t.AllowedUsers[1]
	}
	if t.AllowedUsers[1] == uid {
		return t.AllowedUsers[0]
	}
	return ZeroUid
}

// Post is a single chat message.
type Post struct {
	ObjHeader

	// Topic which owns the post. Never changes for the lifetime of the post.
	Topic Uid
	// Per-topic dense monotonic sequence number, 1-based.
	SeqId int
	// Author of the post.
	From Uid
	// Unrendered message body.
	Raw string
	// Set when the post was removed by its author rather than an admin.
	UserDeleted bool
}

// TopicUser is a user's read marker in one topic.
type TopicUser struct {
	User  Uid
	Topic Uid
	// Highest post number the user has read. Non-decreasing.
	LastRead  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Notification ties a user to a post which mentions or otherwise concerns them.
type Notification struct {
	Id        Uid
	User      Uid
	Topic     Uid
	SeqId     int
	Read      bool
	CreatedAt time.Time
}

// User is a read-only projection of the host forum's user record.
type User struct {
	ObjHeader

	Username string
	Admin    bool
	// Number of forum posts attributed to the user. Chat posts never touch it.
	PostCount int
}

// Group is a read-only projection of a host group.
type Group struct {
	Id   Uid
	Name string
}

// Category is a read-only projection of a host category, plus the chat
// back-reference maintained by this service.
type Category struct {
	Id   Uid
	Name string
	// Live chat topic bound to the category, zero if none.
	ChatTopicId Uid
}

// WindowOpt describes a page of posts within a topic.
type WindowOpt struct {
	// Boundary post number. Zero means "from the edge" for the direction.
	From int
	// Ascending reads posts with SeqId >= From, descending SeqId <= From.
	Ascending bool
	// Max number of posts to return. Zero means adapter default.
	Limit int
}

// StoreError satisfies Error interface but allows constant values for
// direct comparison.
type StoreError string

// Error is required by error interface.
func (s StoreError) Error() string {
	return string(s)
}

const (
	// ErrInternal means DB or other internal failure.
	ErrInternal = StoreError("internal")
	// ErrMalformed means the incoming request was malformed.
	ErrMalformed = StoreError("malformed")
	// ErrDuplicate means a uniqueness requirement was violated.
	ErrDuplicate = StoreError("duplicate value")
	// ErrPermissionDenied means the operation is not permitted.
	ErrPermissionDenied = StoreError("denied")
	// ErrNotFound means the object was not found.
	ErrNotFound = StoreError("not found")
	// ErrEmptyContent means the message body was missing or blank.
	ErrEmptyContent = StoreError("empty content")
	// ErrTopicMismatch means the post does not belong to the given topic.
	ErrTopicMismatch = StoreError("foreign topic")
	// ErrUnsupported means an operation is not supported.
	ErrUnsupported = StoreError("unsupported")
)

// ValidationError is a field-level rejection of a topic or post write.
// The write was not applied.
type ValidationError struct {
	Field string
	Msg   string
}

// Error is required by error interface.
func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return e.Field + ": " + e.Msg
}
