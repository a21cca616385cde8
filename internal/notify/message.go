package notify

import "dotori-monitor-backend/internal/model"

// Message is one outbound notification queued by a job. Channel selects
// the delivery path: kakao messages need Phone/TemplateID/Variables, push
// messages need Subscription/Payload.
type Message struct {
	Channel      string
	UserID       int64
	Phone        string
	TemplateID   string
	Variables    map[string]string
	Subscription *model.PushSubscription
	Payload      []byte
}

// Result reports the per-channel outcome of one dispatch pass. Only
// genuinely successful sends are counted; failures are logged and left to
// a future run (at-most-once per run, no in-run retry).
type Result struct {
	AlimtalksSent int
	PushesSent    int
	Failed        int
}
