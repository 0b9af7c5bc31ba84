package domain

import "time"

// SendStatus is the per-target delivery state owned by the send worker.
type SendStatus string

const (
	SendPending SendStatus = "pending"
	SendSent    SendStatus = "sent"
	SendFailed  SendStatus = "failed"
)

// ParseSendStatus maps a stored value to a SendStatus. Empty and unknown
// values read as pending.
func ParseSendStatus(s string) SendStatus {
	switch SendStatus(s) {
	case SendSent:
		return SendSent
	case SendFailed:
		return SendFailed
	}
	return SendPending
}

// DeliveryStatus is the tracking funnel state of a project target. The send
// path only reads it to skip test targets.
type DeliveryStatus string

const (
	DeliverySent       DeliveryStatus = "sent"
	DeliveryOpened     DeliveryStatus = "opened"
	DeliveryClicked    DeliveryStatus = "clicked"
	DeliverySubmitted  DeliveryStatus = "submitted"
	DeliveryNoResponse DeliveryStatus = "no_response"
	DeliveryTest       DeliveryStatus = "test"
)

// ProjectTarget is the membership of a recipient in a project, with its
// tracking token and send state.
type ProjectTarget struct {
	ID            string         `json:"id" db:"id"`
	ProjectID     string         `json:"projectId" db:"project_id"`
	TargetID      string         `json:"targetId" db:"target_id"`
	TrackingToken *string        `json:"trackingToken" db:"tracking_token"`
	Status        DeliveryStatus `json:"status" db:"status"`
	SendStatus    SendStatus     `json:"sendStatus" db:"send_status"`
	SentAt        *time.Time     `json:"sentAt" db:"sent_at"`
	SendError     *string        `json:"sendError" db:"send_error"`
}

// Eligible reports whether the target takes part in real sends.
func (t *ProjectTarget) Eligible() bool {
	return t.Status != DeliveryTest
}

// NeedsSend reports whether the target is eligible and has not been sent yet.
func (t *ProjectTarget) NeedsSend() bool {
	return t.Eligible() && t.SendStatus != SendSent
}

// HasToken reports whether a tracking token has been issued.
func (t *ProjectTarget) HasToken() bool {
	return t.TrackingToken != nil && *t.TrackingToken != ""
}

// Target is a recipient record.
type Target struct {
	ID    string `json:"id" db:"id"`
	Name  string `json:"name" db:"name"`
	Email string `json:"email" db:"email"`
}
