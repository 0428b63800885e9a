package qa

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"github.com/marshallshelly/crudschemas/internal/events"
	"github.com/marshallshelly/crudschemas/internal/logging"
	"github.com/marshallshelly/crudschemas/pkg/builder"
	"github.com/marshallshelly/crudschemas/pkg/runtime"
)

// Store runs the forum's writes and reads against PostgreSQL.
type Store struct {
	db     runtime.Database
	log    logrus.FieldLogger
	events events.Publisher
}

// NewStore creates a Store. A nil logger or publisher disables that concern.
func NewStore(db runtime.Database, log logrus.FieldLogger, pub events.Publisher) *Store {
	if log == nil {
		log = logging.Discard()
	}
	if pub == nil {
		pub = events.Nop{}
	}
	return &Store{db: db, log: log.WithField("schema", Schema), events: pub}
}

func (s *Store) b() *builder.DB {
	return builder.New(s.db)
}

// rejections are business outcomes rather than failures; they log at Warn.
var rejections = []error{
	runtime.ErrNotFound, runtime.ErrDuplicateKey, runtime.ErrForeignKeyViolation,
	runtime.ErrCheckViolation, runtime.ErrNotNullViolation,
	ErrUserNotFound, ErrQuestionNotFound, ErrAnswerNotFound, ErrTopicNotFound,
	ErrNotLiked, ErrNotFollowing, ErrSelfFollow, ErrInvalidTarget,
	ErrNotQuestionAuthor, ErrEmptyBody,
}

func (s *Store) fail(op string, err error, fields logrus.Fields) error {
	err = translate(err)
	entry := s.log.WithFields(fields).WithField("op", op).WithError(err)
	for _, r := range rejections {
		if errors.Is(err, r) {
			entry.Warn("rejected")
			return err
		}
	}
	entry.Error("failed")
	return err
}

// publish is best effort: the write already committed.
func (s *Store) publish(ctx context.Context, subject string, payload any) {
	if err := s.events.Publish(ctx, subject, payload); err != nil {
		s.log.WithError(err).WithField("subject", subject).Warn("event not published")
	}
}

// NewUser is the input to CreateUser.
type NewUser struct {
	Username     string
	Email        string
	PasswordHash string
	DisplayName  *string
	Bio          *string
}

// CreateUser registers an account. Usernames and emails are unique.
func (s *Store) CreateUser(ctx context.Context, in NewUser) (*User, error) {
	u, err := builder.Insert[User](s.b()).Values(User{
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: in.PasswordHash,
		DisplayName:  in.DisplayName,
		Bio:          in.Bio,
	}).One(ctx)
	if err != nil {
		return nil, s.fail("create user", err, logrus.Fields{"username": in.Username})
	}
	return u, nil
}

// DeleteUser removes a user and, through cascading foreign keys, every
// question, answer, comment, like and follow they own.
func (s *Store) DeleteUser(ctx context.Context, id int64) error {
	n, err := builder.Delete[User](s.b()).Where(builder.Eq("id", id)).Exec(ctx)
	if err != nil {
		return s.fail("delete user", err, logrus.Fields{"user_id": id})
	}
	if n == 0 {
		return s.fail("delete user", ErrUserNotFound, logrus.Fields{"user_id": id})
	}
	return nil
}

// CreateTopic adds a topic; names are unique.
func (s *Store) CreateTopic(ctx context.Context, name string, description *string) (*Topic, error) {
	t, err := builder.Insert[Topic](s.b()).Values(Topic{Name: name, Description: description}).One(ctx)
	if err != nil {
		return nil, s.fail("create topic", err, logrus.Fields{"topic": name})
	}
	return t, nil
}

// NewQuestion is the input to AskQuestion.
type NewQuestion struct {
	UserID   int64
	Title    string
	Body     string
	TopicIDs []int64
}

// AskQuestion stores a question together with its topic tags in one transaction.
func (s *Store) AskQuestion(ctx context.Context, in NewQuestion) (*Question, error) {
	fields := logrus.Fields{"user_id": in.UserID}
	if strings.TrimSpace(in.Title) == "" || strings.TrimSpace(in.Body) == "" {
		return nil, s.fail("ask question", ErrEmptyBody, fields)
	}
	topics := dedupe(in.TopicIDs)

	var q *Question
	err := runtime.RunInTx(ctx, s.db, pgx.TxOptions{}, func(tx *runtime.Tx) error {
		b := builder.New(tx)
		var err error
		q, err = builder.Insert[Question](b).Values(Question{
			UserID: in.UserID,
			Title:  in.Title,
			Body:   in.Body,
		}).One(ctx)
		if err != nil {
			return err
		}
		if len(topics) == 0 {
			return nil
		}
		rows := make([]QuestionTopic, len(topics))
		for i, topicID := range topics {
			rows[i] = QuestionTopic{QuestionID: q.ID, TopicID: topicID}
		}
		_, err = builder.Insert[QuestionTopic](b).Values(rows...).Exec(ctx)
		return err
	})
	if err != nil {
		return nil, s.fail("ask question", err, fields)
	}

	s.publish(ctx, events.QuestionAsked, map[string]any{
		"question_id": q.ID,
		"user_id":     q.UserID,
		"topic_ids":   topics,
	})
	return q, nil
}

// TagQuestion files a question under a topic.
func (s *Store) TagQuestion(ctx context.Context, questionID, topicID int64) error {
	_, err := builder.Insert[QuestionTopic](s.b()).
		Values(QuestionTopic{QuestionID: questionID, TopicID: topicID}).
		Exec(ctx)
	if err != nil {
		return s.fail("tag question", err, logrus.Fields{"question_id": questionID, "topic_id": topicID})
	}
	return nil
}

// DeleteQuestion removes a question with its answers, comments, likes and tags.
func (s *Store) DeleteQuestion(ctx context.Context, id int64) error {
	n, err := builder.Delete[Question](s.b()).Where(builder.Eq("id", id)).Exec(ctx)
	if err != nil {
		return s.fail("delete question", err, logrus.Fields{"question_id": id})
	}
	if n == 0 {
		return s.fail("delete question", ErrQuestionNotFound, logrus.Fields{"question_id": id})
	}
	return nil
}

// RecordView increments a question's view counter.
func (s *Store) RecordView(ctx context.Context, questionID int64) error {
	n, err := builder.Update[Question](s.b()).
		SetExpr("view_count", "view_count + 1").
		Where(builder.Eq("id", questionID)).
		Exec(ctx)
	if err != nil {
		return s.fail("record view", err, logrus.Fields{"question_id": questionID})
	}
	if n == 0 {
		return s.fail("record view", ErrQuestionNotFound, logrus.Fields{"question_id": questionID})
	}
	return nil
}

// AnswerQuestion posts an answer.
func (s *Store) AnswerQuestion(ctx context.Context, questionID, userID int64, body string) (*Answer, error) {
	fields := logrus.Fields{"question_id": questionID, "user_id": userID}
	if strings.TrimSpace(body) == "" {
		return nil, s.fail("answer question", ErrEmptyBody, fields)
	}
	a, err := builder.Insert[Answer](s.b()).Values(Answer{
		QuestionID: questionID,
		UserID:     userID,
		Body:       body,
	}).One(ctx)
	if err != nil {
		return nil, s.fail("answer question", err, fields)
	}
	return a, nil
}

// AcceptAnswer marks answerID as the accepted answer of its question,
// clearing any previously accepted one. Only the question's author may accept.
func (s *Store) AcceptAnswer(ctx context.Context, answerID, userID int64) error {
	fields := logrus.Fields{"answer_id": answerID, "user_id": userID}
	var questionID int64
	err := runtime.RunInTx(ctx, s.db, pgx.TxOptions{}, func(tx *runtime.Tx) error {
		b := builder.New(tx)
		a, err := builder.Select[Answer](b).Where(builder.Eq("id", answerID)).First(ctx)
		if err != nil {
			if builder.IsNotFound(err) {
				return ErrAnswerNotFound
			}
			return err
		}
		// lock the question so concurrent accepts serialise
		q, err := builder.Select[Question](b).Where(builder.Eq("id", a.QuestionID)).ForUpdate().First(ctx)
		if err != nil {
			return err
		}
		if q.UserID != userID {
			return ErrNotQuestionAuthor
		}
		questionID = q.ID

		if _, err := builder.Update[Answer](b).
			Set("is_accepted", false).
			Where(builder.Eq("question_id", q.ID)).
			And(builder.Eq("is_accepted", true)).
			And(builder.NotEq("id", answerID)).
			Exec(ctx); err != nil {
			return err
		}
		_, err = builder.Update[Answer](b).
			Set("is_accepted", true).
			Where(builder.Eq("id", answerID)).
			Exec(ctx)
		return err
	})
	if err != nil {
		return s.fail("accept answer", err, fields)
	}
	s.publish(ctx, events.AnswerAccepted, map[string]any{"answer_id": answerID, "question_id": questionID})
	return nil
}

// AddComment comments on an answer or replies to an existing comment.
// A reply always points at an older row, so reply chains cannot form cycles.
func (s *Store) AddComment(ctx context.Context, userID int64, target Target, body string) (*Comment, error) {
	fields := logrus.Fields{"user_id": userID, "target": target.String()}
	if err := target.validateComment(); err != nil {
		return nil, s.fail("add comment", err, fields)
	}
	if strings.TrimSpace(body) == "" {
		return nil, s.fail("add comment", ErrEmptyBody, fields)
	}

	c := Comment{UserID: userID, Body: body}
	id := target.ID
	if target.Kind == KindAnswer {
		c.AnswerID = &id
	} else {
		c.ParentCommentID = &id
	}
	row, err := builder.Insert[Comment](s.b()).Values(c).One(ctx)
	if err != nil {
		return nil, s.fail("add comment", err, fields)
	}
	return row, nil
}

// Like records a like on exactly one target; a second like on the same target fails.
func (s *Store) Like(ctx context.Context, userID int64, target Target) (*Like, error) {
	fields := logrus.Fields{"user_id": userID, "target": target.String()}
	if err := target.validateLike(); err != nil {
		return nil, s.fail("like", err, fields)
	}
	l, err := builder.Insert[Like](s.b()).Values(target.like(userID)).One(ctx)
	if err != nil {
		return nil, s.fail("like", err, fields)
	}
	return l, nil
}

// Unlike removes a like, failing if there was none.
func (s *Store) Unlike(ctx context.Context, userID int64, target Target) error {
	fields := logrus.Fields{"user_id": userID, "target": target.String()}
	if err := target.validateLike(); err != nil {
		return s.fail("unlike", err, fields)
	}
	n, err := builder.Delete[Like](s.b()).
		Where(builder.Eq("user_id", userID)).
		And(builder.Eq(target.Kind.column(), target.ID)).
		Exec(ctx)
	if err != nil {
		return s.fail("unlike", err, fields)
	}
	if n == 0 {
		return s.fail("unlike", ErrNotLiked, fields)
	}
	return nil
}

// FollowUser makes followerID follow followingID. Self-follows are rejected.
func (s *Store) FollowUser(ctx context.Context, followerID, followingID int64) error {
	fields := logrus.Fields{"follower_id": followerID, "following_id": followingID}
	if followerID == followingID {
		return s.fail("follow user", ErrSelfFollow, fields)
	}
	_, err := builder.Insert[UserFollow](s.b()).
		Values(UserFollow{FollowerID: followerID, FollowingID: followingID}).
		Exec(ctx)
	if err != nil {
		return s.fail("follow user", err, fields)
	}
	return nil
}

func (s *Store) UnfollowUser(ctx context.Context, followerID, followingID int64) error {
	fields := logrus.Fields{"follower_id": followerID, "following_id": followingID}
	n, err := builder.Delete[UserFollow](s.b()).
		Where(builder.Eq("follower_id", followerID)).
		And(builder.Eq("following_id", followingID)).
		Exec(ctx)
	if err != nil {
		return s.fail("unfollow user", err, fields)
	}
	if n == 0 {
		return s.fail("unfollow user", ErrNotFollowing, fields)
	}
	return nil
}

// FollowTopic subscribes a user to a topic for their feed.
func (s *Store) FollowTopic(ctx context.Context, userID, topicID int64) error {
	_, err := builder.Insert[TopicFollow](s.b()).
		Values(TopicFollow{UserID: userID, TopicID: topicID}).
		Exec(ctx)
	if err != nil {
		return s.fail("follow topic", err, logrus.Fields{"user_id": userID, "topic_id": topicID})
	}
	return nil
}

func (s *Store) UnfollowTopic(ctx context.Context, userID, topicID int64) error {
	fields := logrus.Fields{"user_id": userID, "topic_id": topicID}
	n, err := builder.Delete[TopicFollow](s.b()).
		Where(builder.Eq("user_id", userID)).
		And(builder.Eq("topic_id", topicID)).
		Exec(ctx)
	if err != nil {
		return s.fail("unfollow topic", err, fields)
	}
	if n == 0 {
		return s.fail("unfollow topic", ErrNotFollowing, fields)
	}
	return nil
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// Question returns one question by id.
func (s *Store) Question(ctx context.Context, id int64) (*Question, error) {
	q, err := builder.Select[Question](s.b()).Where(builder.Eq("id", id)).First(ctx)
	if err != nil {
		if builder.IsNotFound(err) {
			err = ErrQuestionNotFound
		}
		return nil, fmt.Errorf("question %d: %w", id, err)
	}
	return q, nil
}
