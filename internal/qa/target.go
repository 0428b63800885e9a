package qa

import "fmt"

// Kind is the type of row a like or comment points at.
type Kind uint8

const (
	KindQuestion Kind = iota + 1
	KindAnswer
	KindComment
)

func (k Kind) String() string {
	switch k {
	case KindQuestion:
		return "question"
	case KindAnswer:
		return "answer"
	case KindComment:
		return "comment"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// column is the nullable foreign key that stores a target of this kind.
func (k Kind) column() string {
	return k.String() + "_id"
}

// Target identifies the single row a like or comment belongs to. It is
// stored as one of several nullable foreign keys, exactly one of them set.
type Target struct {
	Kind Kind
	ID   int64
}

func OnQuestion(id int64) Target { return Target{Kind: KindQuestion, ID: id} }
func OnAnswer(id int64) Target   { return Target{Kind: KindAnswer, ID: id} }
func OnComment(id int64) Target  { return Target{Kind: KindComment, ID: id} }

func (t Target) String() string {
	return fmt.Sprintf("%s %d", t.Kind, t.ID)
}

// validateLike accepts any of the three kinds.
func (t Target) validateLike() error {
	if t.ID <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidTarget, t)
	}
	switch t.Kind {
	case KindQuestion, KindAnswer, KindComment:
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalidTarget, t)
}

// validateComment accepts answers and comments; questions take answers, not comments.
func (t Target) validateComment() error {
	if t.ID <= 0 || (t.Kind != KindAnswer && t.Kind != KindComment) {
		return fmt.Errorf("%w: cannot comment on %s", ErrInvalidTarget, t)
	}
	return nil
}

// like builds the row for a like by userID on t.
func (t Target) like(userID int64) Like {
	l := Like{UserID: userID}
	id := t.ID
	switch t.Kind {
	case KindQuestion:
		l.QuestionID = &id
	case KindAnswer:
		l.AnswerID = &id
	case KindComment:
		l.CommentID = &id
	}
	return l
}

// TargetOf recovers the target of a stored like.
func TargetOf(l Like) (Target, error) {
	var targets []Target
	if l.QuestionID != nil {
		targets = append(targets, OnQuestion(*l.QuestionID))
	}
	if l.AnswerID != nil {
		targets = append(targets, OnAnswer(*l.AnswerID))
	}
	if l.CommentID != nil {
		targets = append(targets, OnComment(*l.CommentID))
	}
	if len(targets) != 1 {
		return Target{}, fmt.Errorf("%w: like %d sets %d targets", ErrInvalidTarget, l.ID, len(targets))
	}
	return targets[0], nil
}

// CommentTarget recovers the target of a stored comment.
func CommentTarget(c Comment) (Target, error) {
	switch {
	case c.AnswerID != nil && c.ParentCommentID == nil:
		return OnAnswer(*c.AnswerID), nil
	case c.ParentCommentID != nil && c.AnswerID == nil:
		return OnComment(*c.ParentCommentID), nil
	}
	return Target{}, fmt.Errorf("%w: comment %d", ErrInvalidTarget, c.ID)
}
