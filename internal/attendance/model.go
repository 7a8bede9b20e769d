package attendance

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Lecture status values stored in Postgres.
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// Payload is the QR wire format. The JSON shape is frozen: deployed scanner
// clients parse exactly these four fields.
type Payload struct {
	LectureID   string `json:"lectureId"`
	Token       string `json:"token"`
	ExpiresAt   int64  `json:"expiresAt"`
	GeneratedAt int64  `json:"generatedAt"`
}

// Encode serializes the payload for QR rendering.
func (p Payload) Encode() ([]byte, error) {
	return json.Marshal(p)
}

// DecodePayload parses a scanned QR string. Missing fields are reported as
// a Malformed rejection so the scanner can surface a retryable message.
func DecodePayload(data []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Payload{}, &Rejection{Reason: ReasonMalformed, Err: err}
	}
	if p.LectureID == "" || p.Token == "" || p.ExpiresAt == 0 {
		return Payload{}, &Rejection{Reason: ReasonMalformed, Err: errors.New("incomplete payload")}
	}
	return p, nil
}

// Lecture is the mutable "current credential" view for one lecture. It is
// derived from the append-only session log: the projection rewrites
// CurrentToken/TokenExpiresAt/Status on every rotation, and the sweeper clears
// them when the expiry passes.
type Lecture struct {
	ID             string
	Name           string
	CurrentToken   *string
	TokenExpiresAt *int64 // epoch ms
	Status         string
	UpdatedAt      time.Time
}

// Credential returns the lecture's current token and expiry when, and only
// when, the lecture is accepting redemptions. A lecture is never reported
// active with a missing token.
func (l *Lecture) Credential() (token string, expiresAt int64, active bool) {
	if l == nil || l.Status != StatusActive || l.CurrentToken == nil || l.TokenExpiresAt == nil {
		return "", 0, false
	}
	return *l.CurrentToken, *l.TokenExpiresAt, true
}

// Session is one immutable entry in the rotation log.
type Session struct {
	ID          string
	LectureID   string
	Token       string
	ExpiresAt   int64
	GeneratedAt int64
	CreatedAt   time.Time
}

// Payload returns the wire form of the session.
func (s Session) Payload() Payload {
	return Payload{
		LectureID:   s.LectureID,
		Token:       s.Token,
		ExpiresAt:   s.ExpiresAt,
		GeneratedAt: s.GeneratedAt,
	}
}

// Record is an immutable attendance fact. There is no update or delete path;
// corrections are out of scope.
type Record struct {
	ID          string    `json:"id"`
	LectureID   string    `json:"lecture_id"`
	LectureName string    `json:"lecture_name"`
	StudentID   string    `json:"student_id"`
	Token       string    `json:"token"`
	Timestamp   time.Time `json:"timestamp"`
	Method      string    `json:"method"`
}

// Reason classifies why a redemption was refused.
type Reason string

const (
	ReasonMalformed        Reason = "malformed"
	ReasonExpired          Reason = "expired"
	ReasonLectureNotFound  Reason = "lecture_not_found"
	ReasonLectureInactive  Reason = "lecture_inactive"
	ReasonTokenMismatch    Reason = "token_mismatch"
	ReasonUnauthenticated  Reason = "unauthenticated"
	ReasonAlreadyRecorded  Reason = "already_recorded"
	ReasonStoreUnavailable Reason = "store_unavailable"
)

// Rejection is a recoverable, user-facing refusal. Every reason except
// StoreUnavailable means the scan itself was judged and refused; the client
// resets its latch and may retry with a fresh scan.
type Rejection struct {
	Reason Reason
	Err    error
}

func (r *Rejection) Error() string {
	if r.Err != nil {
		return fmt.Sprintf("redemption rejected: %s: %v", r.Reason, r.Err)
	}
	return fmt.Sprintf("redemption rejected: %s", r.Reason)
}

func (r *Rejection) Unwrap() error { return r.Err }

// ReasonOf extracts the rejection reason, or "" for non-rejection errors.
func ReasonOf(err error) Reason {
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej.Reason
	}
	return ""
}
