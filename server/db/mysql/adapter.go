// Package mysql is a content store adapter for MySQL.
package mysql

import (
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	ms "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/banter-chat/banter/server/store"
	t "github.com/banter-chat/banter/server/store/types"
)

// adapter holds MySQL connection data.
type adapter struct {
	db     *sqlx.DB
	dsn    string
	dbName string
	// Maximum number of records to return.
	maxResults int
}

const (
	defaultDSN      = "root:@tcp(localhost:3306)/banter?parseTime=true"
	defaultDatabase = "banter"

	adapterName = "mysql"

	defaultMaxResults = 1024
)

type configType struct {
	DSN    string `json:"dsn,omitempty"`
	DBName string `json:"database,omitempty"`

	// Connection pool settings.
	MaxOpenConns int `json:"max_open_conns,omitempty"`
	MaxIdleConns int `json:"max_idle_conns,omitempty"`
	// Maximum amount of time a connection may be reused (in seconds).
	ConnMaxLifetime int `json:"conn_max_lifetime,omitempty"`
}

// Open initializes database session.
func (a *adapter) Open(jsonconfig json.RawMessage) error {
	if a.db != nil {
		return errors.New("mysql adapter is already connected")
	}

	var err error
	var config configType

	if err = json.Unmarshal(jsonconfig, &config); err != nil {
		return errors.New("mysql adapter failed to parse config: " + err.Error())
	}

	a.dsn = config.DSN
	if a.dsn == "" {
		a.dsn = defaultDSN
	}

	a.dbName = config.DBName
	if a.dbName == "" {
		a.dbName = defaultDatabase
	}

	if a.maxResults <= 0 {
		a.maxResults = defaultMaxResults
	}

	a.db, err = sqlx.Open("mysql", a.dsn)
	if err != nil {
		return err
	}

	// sql.Open does not open the network connection.
	// Force network connection here.
	err = a.db.Ping()
	if isMissingDb(err) {
		// Missing DB is OK if we are initializing the database.
		// Reconnect without a schema selected.
		a.db.Close()
		var cfg *ms.Config
		if cfg, err = ms.ParseDSN(a.dsn); err == nil {
			cfg.DBName = ""
			a.db, err = sqlx.Open("mysql", cfg.FormatDSN())
			if err == nil {
				err = a.db.Ping()
			}
		}
	}
	if err != nil {
		if a.db != nil {
			a.db.Close()
			a.db = nil
		}
		return err
	}

	if config.MaxOpenConns > 0 {
		a.db.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		a.db.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxLifetime > 0 {
		a.db.SetConnMaxLifetime(time.Duration(config.ConnMaxLifetime) * time.Second)
	}

	return nil
}

// Close closes the underlying database connection.
func (a *adapter) Close() error {
	var err error
	if a.db != nil {
		err = a.db.Close()
		a.db = nil
	}
	return err
}

// IsOpen returns true if connection to database has been established. It does not check if
// connection is actually live.
func (a *adapter) IsOpen() bool {
	return a.db != nil
}

// GetName returns string that adapter uses to register itself with store.
func (a *adapter) GetName() string {
	return adapterName
}

// SetMaxResults configures how many results can be returned in a single DB call.
func (a *adapter) SetMaxResults(val int) error {
	if val <= 0 {
		a.maxResults = defaultMaxResults
	} else {
		a.maxResults = val
	}

	return nil
}

// Stats returns DB connection stats object.
func (a *adapter) Stats() interface{} {
	if a.db == nil {
		return nil
	}
	return a.db.Stats()
}

// CreateDb initializes the storage.
//
// MySQL has no partial unique indexes; soft-deleting a topic clears its
// category id and direct key to NULL so the plain unique indexes only
// constrain live rows.
func (a *adapter) CreateDb(reset bool) error {
	var err error

	if reset {
		if _, err = a.db.Exec("DROP DATABASE IF EXISTS " + a.dbName); err != nil {
			return err
		}
	}

	if _, err = a.db.Exec("CREATE DATABASE " + a.dbName + " CHARACTER SET utf8mb4 COLLATE utf8mb4_unicode_ci"); err != nil && !isSchemaExists(err) {
		return err
	}

	if _, err = a.db.Exec("USE " + a.dbName); err != nil {
		return err
	}

	if _, err = a.db.Exec(
		`CREATE TABLE users(
			id        BIGINT NOT NULL,
			createdat DATETIME(3) NOT NULL,
			updatedat DATETIME(3) NOT NULL,
			username  VARCHAR(96) NOT NULL,
			admin     TINYINT(1) NOT NULL DEFAULT 0,
			postcount INT NOT NULL DEFAULT 0,
			PRIMARY KEY(id),
			UNIQUE INDEX users_username(username)
		)`); err != nil {
		return err
	}

	if _, err = a.db.Exec(
		`CREATE TABLE groups(
			id   BIGINT NOT NULL,
			name VARCHAR(96) NOT NULL,
			PRIMARY KEY(id)
		)`); err != nil {
		return err
	}

	if _, err = a.db.Exec(
		`CREATE TABLE group_users(
			id      INT NOT NULL AUTO_INCREMENT,
			groupid BIGINT NOT NULL,
			userid  BIGINT NOT NULL,
			PRIMARY KEY(id),
			FOREIGN KEY(groupid) REFERENCES groups(id),
			FOREIGN KEY(userid) REFERENCES users(id),
			UNIQUE INDEX group_users_groupid_userid(groupid, userid),
			INDEX group_users_userid(userid)
		)`); err != nil {
		return err
	}

	if _, err = a.db.Exec(
		`CREATE TABLE categories(
			id          BIGINT NOT NULL,
			name        VARCHAR(96) NOT NULL,
			chattopicid BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY(id)
		)`); err != nil {
		return err
	}

	if _, err = a.db.Exec(
		`CREATE TABLE category_groups(
			id         INT NOT NULL AUTO_INCREMENT,
			categoryid BIGINT NOT NULL,
			groupid    BIGINT NOT NULL,
			PRIMARY KEY(id),
			FOREIGN KEY(categoryid) REFERENCES categories(id),
			FOREIGN KEY(groupid) REFERENCES groups(id),
			UNIQUE INDEX category_groups_categoryid_groupid(categoryid, groupid)
		)`); err != nil {
		return err
	}

	if _, err = a.db.Exec(
		`CREATE TABLE topics(
			id         BIGINT NOT NULL,
			createdat  DATETIME(3) NOT NULL,
			updatedat  DATETIME(3) NOT NULL,
			deletedat  DATETIME(3),
			kind       VARCHAR(16) NOT NULL,
			title      VARCHAR(255) NOT NULL,
			categoryid BIGINT,
			directkey  VARCHAR(24),
			createdby  BIGINT NOT NULL DEFAULT 0,
			seqid      INT NOT NULL DEFAULT 0,
			touchedat  DATETIME(3) NOT NULL,
			PRIMARY KEY(id),
			UNIQUE INDEX topics_categoryid(categoryid),
			UNIQUE INDEX topics_directkey(directkey),
			INDEX topics_touchedat(touchedat)
		)`); err != nil {
		return err
	}

	if _, err = a.db.Exec(
		`CREATE TABLE topic_grants(
			id      INT NOT NULL AUTO_INCREMENT,
			topicid BIGINT NOT NULL,
			grantee BIGINT NOT NULL,
			gkind   VARCHAR(8) NOT NULL,
			PRIMARY KEY(id),
			FOREIGN KEY(topicid) REFERENCES topics(id),
			UNIQUE INDEX topic_grants_topicid_gkind_grantee(topicid, gkind, grantee),
			INDEX topic_grants_gkind_grantee(gkind, grantee)
		)`); err != nil {
		return err
	}

	if _, err = a.db.Exec(
		"CREATE TABLE posts(" +
			"id          BIGINT NOT NULL," +
			"createdat   DATETIME(3) NOT NULL," +
			"updatedat   DATETIME(3) NOT NULL," +
			"topicid     BIGINT NOT NULL," +
			"seqid       INT NOT NULL," +
			"`from`      BIGINT NOT NULL," +
			"raw         TEXT NOT NULL," +
			"userdeleted TINYINT(1) NOT NULL DEFAULT 0," +
			"PRIMARY KEY(id)," +
			"FOREIGN KEY(topicid) REFERENCES topics(id)," +
			"UNIQUE INDEX posts_topicid_seqid(topicid, seqid)" +
			")"); err != nil {
		return err
	}

	if _, err = a.db.Exec(
		`CREATE TABLE topic_users(
			topicid   BIGINT NOT NULL,
			userid    BIGINT NOT NULL,
			lastread  INT NOT NULL DEFAULT 0,
			createdat DATETIME(3) NOT NULL,
			updatedat DATETIME(3) NOT NULL,
			PRIMARY KEY(topicid, userid),
			FOREIGN KEY(topicid) REFERENCES topics(id)
		)`); err != nil {
		return err
	}

	if _, err = a.db.Exec(
		"CREATE TABLE notifications(" +
			"id        BIGINT NOT NULL," +
			"userid    BIGINT NOT NULL," +
			"topicid   BIGINT NOT NULL," +
			"seqid     INT NOT NULL," +
			"`read`    TINYINT(1) NOT NULL DEFAULT 0," +
			"createdat DATETIME(3) NOT NULL," +
			"PRIMARY KEY(id)," +
			"INDEX notifications_userid_topicid_read(userid, topicid, `read`)" +
			")"); err != nil {
		return err
	}

	return nil
}

// Topics.

func (a *adapter) TopicCreate(topic *t.Topic) error {
	tx, err := a.db.Beginx()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	_, err = tx.Exec(
		"INSERT INTO topics(id,createdat,updatedat,kind,title,categoryid,directkey,createdby,seqid,touchedat) "+
			"VALUES(?,?,?,?,?,?,?,?,?,?)",
		store.DecodeUid(topic.Uid()), topic.CreatedAt, topic.UpdatedAt, string(topic.Kind), topic.Title,
		nullableUid(topic.CategoryId), nullableStr(topic.DirectKey), store.DecodeUid(topic.CreatedBy),
		topic.SeqId, topic.TouchedAt)
	if err != nil {
		if isDupe(err) {
			err = t.ErrDuplicate
		}
		return err
	}

	if err = saveGrants(tx, topic); err != nil {
		return err
	}
	return tx.Commit()
}

func (a *adapter) TopicGet(topic t.Uid) (*t.Topic, error) {
	return a.topicGetWhere("id=? AND deletedat IS NULL", store.DecodeUid(topic))
}

func (a *adapter) TopicGetByDirectKey(key string) (*t.Topic, error) {
	return a.topicGetWhere("directkey=? AND deletedat IS NULL", key)
}

func (a *adapter) topicGetWhere(where string, arg interface{}) (*t.Topic, error) {
	row := a.db.QueryRowx(
		"SELECT id,createdat,updatedat,kind,title,categoryid,directkey,createdby,seqid,touchedat "+
			"FROM topics WHERE "+where, arg)

	var topic t.Topic
	if err := topicScan(row, &topic); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	if err := a.loadGrants(&topic); err != nil {
		return nil, err
	}
	return &topic, nil
}

func (a *adapter) TopicUpdate(topic *t.Topic) error {
	tx, err := a.db.Beginx()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	id := store.DecodeUid(topic.Uid())
	res, err := tx.Exec(
		"UPDATE topics SET updatedat=?,kind=?,title=?,categoryid=?,directkey=? WHERE id=? AND deletedat IS NULL",
		topic.UpdatedAt, string(topic.Kind), topic.Title, nullableUid(topic.CategoryId),
		nullableStr(topic.DirectKey), id)
	if err != nil {
		if isDupe(err) {
			err = t.ErrDuplicate
		}
		return err
	}
	if count, _ := res.RowsAffected(); count == 0 {
		// Could also be an unchanged row; reads treat both the same.
		var exists int
		if err = tx.Get(&exists, "SELECT COUNT(*) FROM topics WHERE id=? AND deletedat IS NULL", id); err != nil {
			return err
		}
		if exists == 0 {
			err = t.ErrNotFound
			return err
		}
	}

	if _, err = tx.Exec("DELETE FROM topic_grants WHERE topicid=?", id); err != nil {
		return err
	}
	if err = saveGrants(tx, topic); err != nil {
		return err
	}
	return tx.Commit()
}

// TopicDelete soft-deletes the topic and clears the category back-reference
// in the same transaction. Category id and direct key are nulled so unique
// indexes stop constraining the destroyed row.
func (a *adapter) TopicDelete(topic t.Uid) error {
	tx, err := a.db.Beginx()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	id := store.DecodeUid(topic)
	now := t.TimeNow()
	res, err := tx.Exec(
		"UPDATE topics SET updatedat=?,deletedat=?,categoryid=NULL,directkey=NULL WHERE id=? AND deletedat IS NULL",
		now, now, id)
	if err != nil {
		return err
	}
	if count, _ := res.RowsAffected(); count == 0 {
		err = t.ErrNotFound
		return err
	}

	if _, err = tx.Exec("UPDATE categories SET chattopicid=0 WHERE chattopicid=?", id); err != nil {
		return err
	}
	return tx.Commit()
}

func (a *adapter) TopicsForUser(user t.Uid, groups, categories []t.Uid, directOnly bool) ([]t.Topic, error) {
	uid := store.DecodeUid(user)

	var preds []string
	var args []interface{}

	direct := "FALSE"
	if uid != 0 {
		direct = "(t.kind='pm' AND EXISTS(SELECT 1 FROM topic_grants g WHERE g.topicid=t.id AND g.gkind='user' AND g.grantee=?))"
		args = append(args, uid)
	}

	if directOnly {
		preds = append(preds, direct)
	} else {
		preds = append(preds, "t.kind='public'", direct)
		if len(groups) > 0 {
			preds = append(preds,
				"(t.kind='group' AND EXISTS(SELECT 1 FROM topic_grants g WHERE g.topicid=t.id AND g.gkind='group' AND g.grantee IN (?)))")
			args = append(args, decodeUids(groups))
		}
		if len(categories) > 0 {
			preds = append(preds, "(t.kind='category' AND t.categoryid IN (?))")
			args = append(args, decodeUids(categories))
		}
	}

	query, qargs, err := sqlx.In(
		"SELECT t.id,t.createdat,t.updatedat,t.kind,t.title,t.categoryid,t.directkey,t.createdby,t.seqid,t.touchedat "+
			"FROM topics AS t WHERE t.deletedat IS NULL AND ("+strings.Join(preds, " OR ")+") "+
			"ORDER BY t.touchedat DESC LIMIT ?",
		append(args, a.maxResults)...)
	if err != nil {
		return nil, err
	}

	rows, err := a.db.Queryx(query, qargs...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var topics []t.Topic
	for rows.Next() {
		var topic t.Topic
		if err = topicScan(rows, &topic); err != nil {
			break
		}
		topics = append(topics, topic)
	}
	if err == nil {
		err = rows.Err()
	}
	rows.Close()
	if err != nil {
		return nil, err
	}

	for i := range topics {
		if err = a.loadGrants(&topics[i]); err != nil {
			return nil, err
		}
	}
	return topics, nil
}

// rowScanner is satisfied by both sqlx.Row and sqlx.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func topicScan(row rowScanner, topic *t.Topic) error {
	var id, createdBy int64
	var categoryId sql.NullInt64
	var directKey sql.NullString
	var kind string
	err := row.Scan(&id, &topic.CreatedAt, &topic.UpdatedAt, &kind, &topic.Title,
		&categoryId, &directKey, &createdBy, &topic.SeqId, &topic.TouchedAt)
	if err != nil {
		return err
	}
	topic.SetUid(store.EncodeUid(id))
	topic.Kind = t.TopicKind(kind)
	topic.CategoryId = store.EncodeUid(categoryId.Int64)
	topic.DirectKey = directKey.String
	topic.CreatedBy = store.EncodeUid(createdBy)
	return nil
}

func saveGrants(tx *sqlx.Tx, topic *t.Topic) error {
	id := store.DecodeUid(topic.Uid())
	for _, gid := range topic.AllowedGroups {
		if _, err := tx.Exec("INSERT INTO topic_grants(topicid,grantee,gkind) VALUES(?,?,'group')",
			id, store.DecodeUid(gid)); err != nil {
			return err
		}
	}
	for _, uid := range topic.AllowedUsers {
		if _, err := tx.Exec("INSERT INTO topic_grants(topicid,grantee,gkind) VALUES(?,?,'user')",
			id, store.DecodeUid(uid)); err != nil {
			return err
		}
	}
	return nil
}

func (a *adapter) loadGrants(topic *t.Topic) error {
	rows, err := a.db.Queryx("SELECT grantee,gkind FROM topic_grants WHERE topicid=? ORDER BY grantee",
		store.DecodeUid(topic.Uid()))
	if err != nil {
		return err
	}
	defer rows.Close()

	topic.AllowedGroups = []t.Uid{}
	topic.AllowedUsers = []t.Uid{}
	for rows.Next() {
		var grantee int64
		var gkind string
		if err = rows.Scan(&grantee, &gkind); err != nil {
			return err
		}
		if gkind == "group" {
			topic.AllowedGroups = append(topic.AllowedGroups, store.EncodeUid(grantee))
		} else {
			topic.AllowedUsers = append(topic.AllowedUsers, store.EncodeUid(grantee))
		}
	}
	return rows.Err()
}

// Posts.

// PostCreate assigns the next per-topic sequence number and bumps the
// topic's stream head under a row lock, all in one transaction.
func (a *adapter) PostCreate(post *t.Post) error {
	tx, err := a.db.Beginx()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	topicId := store.DecodeUid(post.Topic)
	var seq int
	err = tx.Get(&seq, "SELECT seqid FROM topics WHERE id=? AND deletedat IS NULL FOR UPDATE", topicId)
	if err != nil {
		if err == sql.ErrNoRows {
			err = t.ErrNotFound
		}
		return err
	}
	seq++

	_, err = tx.Exec(
		"INSERT INTO posts(id,createdat,updatedat,topicid,seqid,`from`,raw) VALUES(?,?,?,?,?,?,?)",
		store.DecodeUid(post.Uid()), post.CreatedAt, post.UpdatedAt, topicId, seq,
		store.DecodeUid(post.From), post.Raw)
	if err != nil {
		return err
	}

	if _, err = tx.Exec("UPDATE topics SET seqid=?,touchedat=? WHERE id=?",
		seq, post.CreatedAt, topicId); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return err
	}
	post.SeqId = seq
	return nil
}

func (a *adapter) PostGet(post t.Uid) (*t.Post, error) {
	row := a.db.QueryRowx(
		"SELECT id,createdat,updatedat,topicid,seqid,`from`,raw,userdeleted FROM posts WHERE id=?",
		store.DecodeUid(post))

	var pp t.Post
	if err := postScan(row, &pp); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &pp, nil
}

func (a *adapter) PostUpdate(post t.Uid, raw string) error {
	res, err := a.db.Exec("UPDATE posts SET updatedat=?,raw=? WHERE id=?",
		t.TimeNow(), raw, store.DecodeUid(post))
	if err != nil {
		return err
	}
	if count, _ := res.RowsAffected(); count == 0 {
		return t.ErrNotFound
	}
	return nil
}

func (a *adapter) PostDelete(post t.Uid, hard bool) error {
	var res sql.Result
	var err error
	if hard {
		res, err = a.db.Exec("DELETE FROM posts WHERE id=?", store.DecodeUid(post))
	} else {
		res, err = a.db.Exec("UPDATE posts SET updatedat=?,userdeleted=1 WHERE id=?",
			t.TimeNow(), store.DecodeUid(post))
	}
	if err != nil {
		return err
	}
	if count, _ := res.RowsAffected(); count == 0 {
		return t.ErrNotFound
	}
	return nil
}

func (a *adapter) PostWindow(topic t.Uid, opts *t.WindowOpt) ([]t.Post, error) {
	limit := a.maxResults
	if opts.Limit > 0 && opts.Limit < limit {
		limit = opts.Limit
	}

	cmp, order := "<=", "DESC"
	if opts.Ascending {
		cmp, order = ">=", "ASC"
	}

	rows, err := a.db.Queryx(
		"SELECT id,createdat,updatedat,topicid,seqid,`from`,raw,userdeleted FROM posts "+
			"WHERE topicid=? AND seqid"+cmp+"? ORDER BY seqid "+order+" LIMIT ?",
		store.DecodeUid(topic), opts.From, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	posts := make([]t.Post, 0, limit)
	for rows.Next() {
		var pp t.Post
		if err = postScan(rows, &pp); err != nil {
			break
		}
		posts = append(posts, pp)
	}
	if err == nil {
		err = rows.Err()
	}

	return posts, err
}

func postScan(row rowScanner, post *t.Post) error {
	var id, topicId, from int64
	err := row.Scan(&id, &post.CreatedAt, &post.UpdatedAt, &topicId, &post.SeqId, &from,
		&post.Raw, &post.UserDeleted)
	if err != nil {
		return err
	}
	post.SetUid(store.EncodeUid(id))
	post.Topic = store.EncodeUid(topicId)
	post.From = store.EncodeUid(from)
	return nil
}

// Read markers.

func (a *adapter) TopicUserGet(topic, user t.Uid) (*t.TopicUser, error) {
	tu := t.TopicUser{Topic: topic, User: user}
	err := a.db.QueryRowx(
		"SELECT lastread,createdat,updatedat FROM topic_users WHERE topicid=? AND userid=?",
		store.DecodeUid(topic), store.DecodeUid(user)).
		Scan(&tu.LastRead, &tu.CreatedAt, &tu.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &tu, nil
}

func (a *adapter) TopicUserCreate(topic, user t.Uid) error {
	now := t.TimeNow()
	_, err := a.db.Exec(
		"INSERT IGNORE INTO topic_users(topicid,userid,lastread,createdat,updatedat) VALUES(?,?,0,?,?)",
		store.DecodeUid(topic), store.DecodeUid(user), now, now)
	return err
}

// TopicUserSetLastRead is a compare-and-set: the WHERE clause makes stale
// acknowledgements no-ops without a round trip.
func (a *adapter) TopicUserSetLastRead(topic, user t.Uid, seq int) (bool, error) {
	res, err := a.db.Exec(
		"UPDATE topic_users SET lastread=?,updatedat=? WHERE topicid=? AND userid=? AND lastread<?",
		seq, t.TimeNow(), store.DecodeUid(topic), store.DecodeUid(user), seq)
	if err != nil {
		return false, err
	}
	count, _ := res.RowsAffected()
	return count > 0, nil
}

// Notifications.

func (a *adapter) NotificationCreate(n *t.Notification) error {
	_, err := a.db.Exec(
		"INSERT INTO notifications(id,userid,topicid,seqid,`read`,createdat) VALUES(?,?,?,?,?,?)",
		store.DecodeUid(n.Id), store.DecodeUid(n.User), store.DecodeUid(n.Topic),
		n.SeqId, n.Read, n.CreatedAt)
	return err
}

func (a *adapter) NotificationsMarkRead(topic, user t.Uid, seq int) (int, error) {
	res, err := a.db.Exec(
		"UPDATE notifications SET `read`=1 WHERE userid=? AND topicid=? AND `read`=0 AND seqid<=?",
		store.DecodeUid(user), store.DecodeUid(topic), seq)
	if err != nil {
		return 0, err
	}
	count, _ := res.RowsAffected()
	return int(count), nil
}

// Host directory.

func (a *adapter) UserGet(user t.Uid) (*t.User, error) {
	return a.userGetWhere("id=?", store.DecodeUid(user))
}

func (a *adapter) UserGetByName(username string) (*t.User, error) {
	return a.userGetWhere("username=?", username)
}

func (a *adapter) userGetWhere(where string, arg interface{}) (*t.User, error) {
	var user t.User
	var id int64
	err := a.db.QueryRowx(
		"SELECT id,createdat,updatedat,username,admin,postcount FROM users WHERE "+where, arg).
		Scan(&id, &user.CreatedAt, &user.UpdatedAt, &user.Username, &user.Admin, &user.PostCount)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	user.SetUid(store.EncodeUid(id))
	return &user, nil
}

func (a *adapter) UserGroups(user t.Uid) ([]t.Uid, error) {
	var ids []int64
	err := a.db.Select(&ids, "SELECT groupid FROM group_users WHERE userid=?", store.DecodeUid(user))
	if err != nil {
		return nil, err
	}
	return encodeUids(ids), nil
}

func (a *adapter) UserReadableCategories(user t.Uid) ([]t.Uid, error) {
	var ids []int64
	err := a.db.Select(&ids,
		"SELECT DISTINCT cg.categoryid FROM category_groups AS cg "+
			"JOIN group_users AS gu ON gu.groupid=cg.groupid WHERE gu.userid=?",
		store.DecodeUid(user))
	if err != nil {
		return nil, err
	}
	return encodeUids(ids), nil
}

func (a *adapter) UserPostCountAdjust(user t.Uid, delta int) error {
	_, err := a.db.Exec("UPDATE users SET postcount=postcount+? WHERE id=?",
		delta, store.DecodeUid(user))
	return err
}

func (a *adapter) GroupsGet(ids []t.Uid) ([]t.Group, error) {
	if len(ids) == 0 {
		return []t.Group{}, nil
	}

	query, args, err := sqlx.In("SELECT id,name FROM groups WHERE id IN (?) ORDER BY name",
		decodeUids(ids))
	if err != nil {
		return nil, err
	}

	rows, err := a.db.Queryx(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []t.Group
	for rows.Next() {
		var grp t.Group
		var id int64
		if err = rows.Scan(&id, &grp.Name); err != nil {
			break
		}
		grp.Id = store.EncodeUid(id)
		groups = append(groups, grp)
	}
	if err == nil {
		err = rows.Err()
	}

	return groups, err
}

func (a *adapter) UserBelongsToAny(user t.Uid, groups []t.Uid) (bool, error) {
	if len(groups) == 0 {
		return false, nil
	}

	query, args, err := sqlx.In("SELECT COUNT(*) FROM group_users WHERE userid=? AND groupid IN (?)",
		store.DecodeUid(user), decodeUids(groups))
	if err != nil {
		return false, err
	}

	var count int
	if err = a.db.Get(&count, query, args...); err != nil {
		return false, err
	}
	return count > 0, nil
}

func (a *adapter) CategoryGet(category t.Uid) (*t.Category, error) {
	var cat t.Category
	var id, chatTopicId int64
	err := a.db.QueryRowx("SELECT id,name,chattopicid FROM categories WHERE id=?",
		store.DecodeUid(category)).Scan(&id, &cat.Name, &chatTopicId)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	cat.Id = store.EncodeUid(id)
	cat.ChatTopicId = store.EncodeUid(chatTopicId)
	return &cat, nil
}

func (a *adapter) UserCanReadCategory(user, category t.Uid) (bool, error) {
	var count int
	err := a.db.Get(&count,
		"SELECT COUNT(*) FROM category_groups AS cg "+
			"JOIN group_users AS gu ON gu.groupid=cg.groupid "+
			"WHERE cg.categoryid=? AND gu.userid=?",
		store.DecodeUid(category), store.DecodeUid(user))
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (a *adapter) CategorySetChatTopic(category, topic t.Uid) error {
	res, err := a.db.Exec("UPDATE categories SET chattopicid=? WHERE id=?",
		store.DecodeUid(topic), store.DecodeUid(category))
	if err != nil {
		return err
	}
	if count, _ := res.RowsAffected(); count == 0 {
		return t.ErrNotFound
	}
	return nil
}

// Helper functions.

// Check if MySQL error is Error Code 1062: Duplicate entry ... for key ...
func isDupe(err error) bool {
	myerr, ok := err.(*ms.MySQLError)
	return ok && myerr.Number == 1062
}

// Error Code 1007: Can't create database; database exists.
func isSchemaExists(err error) bool {
	myerr, ok := err.(*ms.MySQLError)
	return ok && myerr.Number == 1007
}

// Error Code 1049: Unknown database.
func isMissingDb(err error) bool {
	myerr, ok := err.(*ms.MySQLError)
	return ok && myerr.Number == 1049
}

// UIDs are stored as decoded int64 values.
func decodeUids(uids []t.Uid) []int64 {
	out := make([]int64, len(uids))
	for i, uid := range uids {
		out[i] = store.DecodeUid(uid)
	}
	return out
}

func encodeUids(ids []int64) []t.Uid {
	out := make([]t.Uid, len(ids))
	for i, id := range ids {
		out[i] = store.EncodeUid(id)
	}
	return out
}

func nullableUid(uid t.Uid) interface{} {
	if uid.IsZero() {
		return nil
	}
	return store.DecodeUid(uid)
}

func nullableStr(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func init() {
	store.RegisterAdapter(&adapter{})
}
