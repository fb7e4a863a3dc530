package session

import "time"

// DismissSignal is the fire-and-forget event emitted when the user closes
// the elevated surface.
type DismissSignal struct {
	UserID      string    `json:"userId"`
	DismissedAt time.Time `json:"dismissedAt"`
}

// ChatModeStarted marks a session continuing in reduced-capability
// chat-only mode, typically after a permission denial.
type ChatModeStarted struct {
	UserID string `json:"userId"`
}

// HandleDismiss consumes a dismissal signal. Dismissing a user with no
// active session is a no-op.
func (r *Registry) HandleDismiss(sig DismissSignal) {
	r.End(sig.UserID, ResolutionDismissed)
}

// HandleChatModeStarted records the degraded-mode transition on the user's
// audit stream. The session stays active.
func (r *Registry) HandleChatModeStarted(cmd ChatModeStarted) {
	sess, ok := r.Find(cmd.UserID)
	if !ok {
		return
	}
	r.Touch(cmd.UserID)
	r.record(cmd.UserID, "chat_mode_started", map[string]any{
		"sessionId": sess.ID,
	})
}
