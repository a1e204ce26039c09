package dispatch

import (
	"context"
	"fmt"

	"github.com/warpmetrics/coder/pkg/capabilities"
	"github.com/warpmetrics/coder/pkg/model"
)

const maxCommentBody = 2000

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

// NewErrorCommentEffect posts the user-visible error comment every
// terminal error in a user-touching phase requires: a machine-greppable
// marker followed by a truncated error body.
func NewErrorCommentEffect(notifier capabilities.Notifier) EffectHandler {
	return func(ctx context.Context, run *model.Run, result Result, ectx *Context) error {
		errText := optString(result.OutcomeOpts, "error")
		body := fmt.Sprintf("<!-- warp-coder:error -->\n%s", truncate(errText, maxCommentBody))
		return notifier.Comment(ctx, ectx.IssueID, body, run.ID, "")
	}
}

// NewAskUserCommentEffect posts the clarification question an
// ask_user result carries, tagged so the notifier's UI (or the
// await_reply gate) can recognise it as a question, not a status
// update.
func NewAskUserCommentEffect(notifier capabilities.Notifier) EffectHandler {
	return func(ctx context.Context, run *model.Run, result Result, ectx *Context) error {
		question := optString(result.OutcomeOpts, "question")
		body := fmt.Sprintf("<!-- warp-coder:question -->\n%s", question)
		return notifier.Comment(ctx, ectx.IssueID, body, run.ID, "")
	}
}

// NewMaxRetriesCommentEffect posts the fixed notice a run hits once it
// has exhausted its revision budget.
func NewMaxRetriesCommentEffect(notifier capabilities.Notifier) EffectHandler {
	return func(ctx context.Context, run *model.Run, result Result, ectx *Context) error {
		body := "<!-- warp-coder:max-retries -->\nThis issue has exceeded the configured revision limit and needs manual attention."
		return notifier.Comment(ctx, ectx.IssueID, body, run.ID, "")
	}
}
