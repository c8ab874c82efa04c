package domain

// ActionKind is what the reconciler decided to do with a post's feedback.
type ActionKind int

const (
	// ActionDeleteAll removes every existing feedback comment.
	ActionDeleteAll ActionKind = iota

	// ActionUpdateEach rewrites every existing feedback comment.
	ActionUpdateEach

	// ActionInsert writes a new feedback comment.
	ActionInsert
)

func (k ActionKind) String() string {
	switch k {
	case ActionDeleteAll:
		return "delete_all"
	case ActionUpdateEach:
		return "update_each"
	case ActionInsert:
		return "insert"
	default:
		return "unknown"
	}
}

// Recipient is the author the feedback is addressed to.
type Recipient struct {
	DisplayName string

	// IntroSent is the author's intro flag before this run.
	IntroSent bool
}

// Action is the reconciler's decision for one post.
type Action struct {
	Kind   ActionKind
	PostID int64

	// Records are the existing comments to delete or update.
	Records []FeedbackRecord

	// Content is the rendered comment body for updates and inserts.
	Content string

	// IntroJustSent is set when Content includes the intro, meaning the
	// recipient's intro flag must now be persisted.
	IntroJustSent bool
}

// Reconciler decides how to bring a post's feedback comments in line with a
// scan report.
type Reconciler struct {
	builder *ReportBuilder
}

// NewReconciler creates a Reconciler rendering content with builder.
func NewReconciler(builder *ReportBuilder) *Reconciler {
	return &Reconciler{builder: builder}
}

// Reconcile returns the action for postID. A clean report deletes everything
// in existing. Otherwise the content is rendered once and written to every
// existing record, so duplicates left by racing runs converge, or inserted
// when there are none.
func (r *Reconciler) Reconcile(postID int64, report ScanReport, to Recipient, existing []FeedbackRecord) Action {
	if report.Empty() {
		return Action{
			Kind:    ActionDeleteAll,
			PostID:  postID,
			Records: existing,
		}
	}

	content, introJustSent := r.builder.Render(to.DisplayName, to.IntroSent, report)
	action := Action{
		Kind:          ActionInsert,
		PostID:        postID,
		Content:       content,
		IntroJustSent: introJustSent,
	}
	if len(existing) > 0 {
		action.Kind = ActionUpdateEach
		action.Records = existing
	}
	return action
}
