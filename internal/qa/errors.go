package qa

import (
	"errors"
	"fmt"

	"github.com/marshallshelly/crudschemas/pkg/runtime"
)

var (
	ErrUserNotFound      = errors.New("user not found")
	ErrTopicNotFound     = errors.New("topic not found")
	ErrQuestionNotFound  = errors.New("question not found")
	ErrAnswerNotFound    = errors.New("answer not found")
	ErrTargetNotFound    = errors.New("like or comment target not found")
	ErrDuplicateUsername = errors.New("username already taken")
	ErrDuplicateEmail    = errors.New("email already registered")
	ErrDuplicateTopic    = errors.New("topic already exists")
	ErrAlreadyTagged     = errors.New("question already tagged with topic")
	ErrAlreadyLiked      = errors.New("already liked")
	ErrNotLiked          = errors.New("not liked")
	ErrAlreadyFollowing  = errors.New("already following")
	ErrNotFollowing      = errors.New("not following")
	ErrSelfFollow        = errors.New("users cannot follow themselves")
	ErrInvalidTarget     = errors.New("invalid like or comment target")
	ErrNotQuestionAuthor = errors.New("only the question author can accept an answer")
	ErrEmptyBody         = errors.New("body must not be empty")
)

// constraintErrors maps constraint names to domain errors.
var constraintErrors = map[string]error{
	"users_username_key":                        ErrDuplicateUsername,
	"users_email_key":                           ErrDuplicateEmail,
	"topics_name_key":                           ErrDuplicateTopic,
	"question_topics_question_id_topic_id_key":  ErrAlreadyTagged,
	"likes_user_id_question_id_key":             ErrAlreadyLiked,
	"likes_user_id_answer_id_key":               ErrAlreadyLiked,
	"likes_user_id_comment_id_key":              ErrAlreadyLiked,
	"likes_one_target_check":                    ErrInvalidTarget,
	"comments_one_target_check":                 ErrInvalidTarget,
	"comments_parent_comment_id_check":          ErrInvalidTarget,
	"user_follows_follower_id_following_id_key": ErrAlreadyFollowing,
	"user_follows_no_self_follow_check":         ErrSelfFollow,
	"topic_follows_user_id_topic_id_key":        ErrAlreadyFollowing,
	"questions_user_id_fkey":                    ErrUserNotFound,
	"answers_user_id_fkey":                      ErrUserNotFound,
	"answers_question_id_fkey":                  ErrQuestionNotFound,
	"comments_user_id_fkey":                     ErrUserNotFound,
	"comments_answer_id_fkey":                   ErrTargetNotFound,
	"comments_parent_comment_id_fkey":           ErrTargetNotFound,
	"likes_user_id_fkey":                        ErrUserNotFound,
	"likes_question_id_fkey":                    ErrTargetNotFound,
	"likes_answer_id_fkey":                      ErrTargetNotFound,
	"likes_comment_id_fkey":                     ErrTargetNotFound,
	"question_topics_question_id_fkey":          ErrQuestionNotFound,
	"question_topics_topic_id_fkey":             ErrTopicNotFound,
	"user_follows_follower_id_fkey":             ErrUserNotFound,
	"user_follows_following_id_fkey":            ErrUserNotFound,
	"topic_follows_user_id_fkey":                ErrUserNotFound,
	"topic_follows_topic_id_fkey":               ErrTopicNotFound,
}

// translate replaces a constraint violation with its domain error, keeping
// the driver error in the chain.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if domain, ok := constraintErrors[runtime.ConstraintName(err)]; ok {
		return fmt.Errorf("%w: %w", domain, err)
	}
	return err
}
