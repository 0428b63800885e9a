// Package qa is the question and answer forum: users ask questions tagged
// with topics, answer and comment on them, like any of the three and follow
// users or topics.
package qa

import (
	"time"

	"github.com/marshallshelly/crudschemas/pkg/schema"
)

// Schema is the PostgreSQL schema holding every table of this package.
const Schema = "qa"

type User struct {
	ID           int64     `po:"id,bigint,primaryKey,identity"`
	Username     string    `po:"username,varchar(50),notNull,unique"`
	Email        string    `po:"email,varchar(255),notNull,unique"`
	PasswordHash string    `po:"password_hash,varchar(255),notNull"`
	DisplayName  *string   `po:"display_name,varchar(100)"`
	Bio          *string   `po:"bio,text"`
	CreatedAt    time.Time `po:"created_at,timestamptz,notNull,default(NOW())"`
	UpdatedAt    time.Time `po:"updated_at,timestamptz,notNull,default(NOW()),autoUpdate"`
}

func (User) TableName() string { return "qa.users" }

type Topic struct {
	ID          int64     `po:"id,bigint,primaryKey,identity"`
	Name        string    `po:"name,varchar(100),notNull,unique"`
	Description *string   `po:"description,text"`
	CreatedAt   time.Time `po:"created_at,timestamptz,notNull,default(NOW())"`
	UpdatedAt   time.Time `po:"updated_at,timestamptz,notNull,default(NOW()),autoUpdate"`
}

func (Topic) TableName() string { return "qa.topics" }

type Question struct {
	ID        int64     `po:"id,bigint,primaryKey,identity"`
	UserID    int64     `po:"user_id,bigint,notNull,fk(users.id),onDelete(cascade),index"`
	Title     string    `po:"title,varchar(255),notNull"`
	Body      string    `po:"body,text,notNull"`
	ViewCount int32     `po:"view_count,integer,notNull,default(0),check(view_count >= 0)"`
	CreatedAt time.Time `po:"created_at,timestamptz,notNull,default(NOW()),index,desc"`
	UpdatedAt time.Time `po:"updated_at,timestamptz,notNull,default(NOW()),autoUpdate"`
}

func (Question) TableName() string { return "qa.questions" }

type Answer struct {
	ID         int64     `po:"id,bigint,primaryKey,identity"`
	QuestionID int64     `po:"question_id,bigint,notNull,fk(questions.id),onDelete(cascade),index"`
	UserID     int64     `po:"user_id,bigint,notNull,fk(users.id),onDelete(cascade),index"`
	Body       string    `po:"body,text,notNull"`
	IsAccepted bool      `po:"is_accepted,boolean,notNull,default(false)"`
	CreatedAt  time.Time `po:"created_at,timestamptz,notNull,default(NOW())"`
	UpdatedAt  time.Time `po:"updated_at,timestamptz,notNull,default(NOW()),autoUpdate"`
}

func (Answer) TableName() string { return "qa.answers" }

// Comment hangs off an answer or replies to another comment, never both.
type Comment struct {
	ID              int64     `po:"id,bigint,primaryKey,identity"`
	UserID          int64     `po:"user_id,bigint,notNull,fk(users.id),onDelete(cascade),index"`
	AnswerID        *int64    `po:"answer_id,bigint,fk(answers.id),onDelete(cascade),index"`
	ParentCommentID *int64    `po:"parent_comment_id,bigint,fk(comments.id),onDelete(cascade),index,check(parent_comment_id <> id)"`
	Body            string    `po:"body,text,notNull"`
	CreatedAt       time.Time `po:"created_at,timestamptz,notNull,default(NOW())"`
	UpdatedAt       time.Time `po:"updated_at,timestamptz,notNull,default(NOW()),autoUpdate"`
}

func (Comment) TableName() string { return "qa.comments" }

func (Comment) TableOptions() schema.TableOptions {
	return schema.TableOptions{
		Checks: []schema.Check{
			{Name: "comments_one_target_check", Expr: "num_nonnulls(answer_id, parent_comment_id) = 1"},
		},
	}
}

// Like targets exactly one question, answer or comment.
type Like struct {
	ID         int64     `po:"id,bigint,primaryKey,identity"`
	UserID     int64     `po:"user_id,bigint,notNull,fk(users.id),onDelete(cascade)"`
	QuestionID *int64    `po:"question_id,bigint,fk(questions.id),onDelete(cascade),index"`
	AnswerID   *int64    `po:"answer_id,bigint,fk(answers.id),onDelete(cascade),index"`
	CommentID  *int64    `po:"comment_id,bigint,fk(comments.id),onDelete(cascade),index"`
	CreatedAt  time.Time `po:"created_at,timestamptz,notNull,default(NOW())"`
}

func (Like) TableName() string { return "qa.likes" }

// The unique keys use the default NULLS DISTINCT semantics, so a row only
// collides on the key of the target it actually sets.
func (Like) TableOptions() schema.TableOptions {
	return schema.TableOptions{
		Checks: []schema.Check{
			{Name: "likes_one_target_check", Expr: "num_nonnulls(question_id, answer_id, comment_id) = 1"},
		},
		Uniques: []schema.Unique{
			{Columns: []string{"user_id", "question_id"}},
			{Columns: []string{"user_id", "answer_id"}},
			{Columns: []string{"user_id", "comment_id"}},
		},
	}
}

type QuestionTopic struct {
	ID         int64     `po:"id,bigint,primaryKey,identity"`
	QuestionID int64     `po:"question_id,bigint,notNull,unique(question_topic),fk(questions.id),onDelete(cascade)"`
	TopicID    int64     `po:"topic_id,bigint,notNull,unique(question_topic),fk(topics.id),onDelete(cascade),index"`
	CreatedAt  time.Time `po:"created_at,timestamptz,notNull,default(NOW())"`
}

func (QuestionTopic) TableName() string { return "qa.question_topics" }

type UserFollow struct {
	ID          int64     `po:"id,bigint,primaryKey,identity"`
	FollowerID  int64     `po:"follower_id,bigint,notNull,unique(pair),fk(users.id),onDelete(cascade)"`
	FollowingID int64     `po:"following_id,bigint,notNull,unique(pair),fk(users.id),onDelete(cascade),index"`
	CreatedAt   time.Time `po:"created_at,timestamptz,notNull,default(NOW())"`
}

func (UserFollow) TableName() string { return "qa.user_follows" }

func (UserFollow) TableOptions() schema.TableOptions {
	return schema.TableOptions{
		Checks: []schema.Check{
			{Name: "user_follows_no_self_follow_check", Expr: "follower_id <> following_id"},
		},
	}
}

type TopicFollow struct {
	ID        int64     `po:"id,bigint,primaryKey,identity"`
	UserID    int64     `po:"user_id,bigint,notNull,unique(pair),fk(users.id),onDelete(cascade)"`
	TopicID   int64     `po:"topic_id,bigint,notNull,unique(pair),fk(topics.id),onDelete(cascade),index"`
	CreatedAt time.Time `po:"created_at,timestamptz,notNull,default(NOW())"`
}

func (TopicFollow) TableName() string { return "qa.topic_follows" }

// Models returns one value of every table model, for registration and DDL.
func Models() []any {
	return []any{
		User{}, Topic{}, Question{}, Answer{}, Comment{},
		Like{}, QuestionTopic{}, UserFollow{}, TopicFollow{},
	}
}
