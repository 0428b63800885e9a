package qa

import (
	"context"
	"fmt"

	"github.com/marshallshelly/crudschemas/pkg/builder"
)

// DefaultPageSize bounds list queries called with a non-positive limit.
const DefaultPageSize = 50

func pageSize(limit int) int {
	if limit <= 0 {
		return DefaultPageSize
	}
	return limit
}

// QuestionsByTopic lists a topic's questions, newest first.
func (s *Store) QuestionsByTopic(ctx context.Context, topicID int64, limit int) ([]Question, error) {
	qs, err := builder.Select[Question](s.b()).
		Columns("qa.questions.*").
		InnerJoin("qa.question_topics qt", "qt.question_id = qa.questions.id").
		Where(builder.Eq("qt.topic_id", topicID)).
		OrderByDesc("qa.questions.created_at").
		OrderByDesc("qa.questions.id").
		Limit(pageSize(limit)).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("questions by topic %d: %w", topicID, err)
	}
	return qs, nil
}

const feedSQL = `
SELECT q.*
FROM qa.questions q
WHERE q.user_id IN (SELECT following_id FROM qa.user_follows WHERE follower_id = $1)
   OR EXISTS (
        SELECT 1
        FROM qa.question_topics qt
        JOIN qa.topic_follows tf ON tf.topic_id = qt.topic_id
        WHERE qt.question_id = q.id AND tf.user_id = $1)
ORDER BY q.created_at DESC, q.id DESC
LIMIT $2`

// Feed lists questions asked by users userID follows or tagged with topics
// userID follows, newest first.
func (s *Store) Feed(ctx context.Context, userID int64, limit int) ([]Question, error) {
	qs, err := builder.Query[Question](ctx, s.b(), feedSQL, userID, pageSize(limit))
	if err != nil {
		return nil, fmt.Errorf("feed for user %d: %w", userID, err)
	}
	return qs, nil
}

// RankedAnswer is an answer with its like count.
type RankedAnswer struct {
	Answer
	LikeCount int64 `po:"like_count"`
}

const answersSQL = `
SELECT a.*, (SELECT COUNT(*) FROM qa.likes l WHERE l.answer_id = a.id) AS like_count
FROM qa.answers a
WHERE a.question_id = $1
ORDER BY a.is_accepted DESC, like_count DESC, a.created_at, a.id`

// AnswersForQuestion lists the accepted answer first, then the rest by likes.
func (s *Store) AnswersForQuestion(ctx context.Context, questionID int64) ([]RankedAnswer, error) {
	as, err := builder.Query[RankedAnswer](ctx, s.b(), answersSQL, questionID)
	if err != nil {
		return nil, fmt.Errorf("answers for question %d: %w", questionID, err)
	}
	return as, nil
}

// Thread is a top-level comment on an answer with every reply beneath it,
// however deep, flattened in posting order.
type Thread struct {
	Comment
	Replies []Comment
}

type threadRow struct {
	Comment
	RootID int64 `po:"root_id"`
}

const threadSQL = `
WITH RECURSIVE thread AS (
    SELECT c.*, c.id AS root_id
    FROM qa.comments c
    WHERE c.answer_id = $1
  UNION ALL
    SELECT c.*, t.root_id
    FROM qa.comments c
    JOIN thread t ON c.parent_comment_id = t.id
)
SELECT * FROM thread ORDER BY created_at, id`

// CommentThread returns the comments of an answer as two-level threads.
func (s *Store) CommentThread(ctx context.Context, answerID int64) ([]Thread, error) {
	rows, err := builder.Query[threadRow](ctx, s.b(), threadSQL, answerID)
	if err != nil {
		return nil, fmt.Errorf("comment thread for answer %d: %w", answerID, err)
	}
	return groupThreads(rows), nil
}

func groupThreads(rows []threadRow) []Thread {
	var threads []Thread
	index := make(map[int64]int)
	for _, r := range rows {
		if r.ID == r.RootID {
			index[r.ID] = len(threads)
			threads = append(threads, Thread{Comment: r.Comment})
		}
	}
	for _, r := range rows {
		if r.ID == r.RootID {
			continue
		}
		if i, ok := index[r.RootID]; ok {
			threads[i].Replies = append(threads[i].Replies, r.Comment)
		}
	}
	return threads
}

// LikeCount counts the likes on a question, answer or comment.
func (s *Store) LikeCount(ctx context.Context, target Target) (int64, error) {
	if err := target.validateLike(); err != nil {
		return 0, err
	}
	n, err := builder.Select[Like](s.b()).Where(builder.Eq(target.Kind.column(), target.ID)).Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("like count for %s: %w", target, err)
	}
	return n, nil
}

// Followers lists the users following userID.
func (s *Store) Followers(ctx context.Context, userID int64) ([]User, error) {
	us, err := builder.Select[User](s.b()).
		Columns("qa.users.*").
		InnerJoin("qa.user_follows f", "f.follower_id = qa.users.id").
		Where(builder.Eq("f.following_id", userID)).
		OrderByAsc("qa.users.username").
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("followers of %d: %w", userID, err)
	}
	return us, nil
}

// Following lists the users userID follows.
func (s *Store) Following(ctx context.Context, userID int64) ([]User, error) {
	us, err := builder.Select[User](s.b()).
		Columns("qa.users.*").
		InnerJoin("qa.user_follows f", "f.following_id = qa.users.id").
		Where(builder.Eq("f.follower_id", userID)).
		OrderByAsc("qa.users.username").
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("users followed by %d: %w", userID, err)
	}
	return us, nil
}

// TopicsOf lists the topics a question is tagged with.
func (s *Store) TopicsOf(ctx context.Context, questionID int64) ([]Topic, error) {
	ts, err := builder.Select[Topic](s.b()).
		Columns("qa.topics.*").
		InnerJoin("qa.question_topics qt", "qt.topic_id = qa.topics.id").
		Where(builder.Eq("qt.question_id", questionID)).
		OrderByAsc("qa.topics.name").
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("topics of question %d: %w", questionID, err)
	}
	return ts, nil
}
