package attendance

import (
	"context"
	"errors"
	"time"
)

// Validate runs the ordered redemption checks for a scanned payload. The
// first failing check wins and nothing is written; callers record attendance
// only after an accept. Returns the lecture so the recorder can carry its
// display name onto the fact.
//
// Check order is part of the protocol: malformed, expired, lecture missing,
// lecture inactive, token mismatch, unauthenticated, duplicate.
func (s *Service) Validate(ctx context.Context, p Payload, studentID string, now time.Time) (*Lecture, error) {
	if p.LectureID == "" || p.Token == "" || p.ExpiresAt == 0 {
		return nil, &Rejection{Reason: ReasonMalformed, Err: errors.New("incomplete payload")}
	}

	// The expiry embedded in the payload is checked against the server
	// clock, independent of whatever the lecture row says. A stale QR
	// image fails here even if the store still carries its token.
	if now.UnixMilli() > p.ExpiresAt {
		return nil, &Rejection{Reason: ReasonExpired}
	}

	lecture, err := s.store.GetLecture(ctx, p.LectureID)
	if err != nil {
		return nil, err
	}
	if lecture == nil {
		return nil, &Rejection{Reason: ReasonLectureNotFound}
	}

	current, _, active := lecture.Credential()
	if !active {
		return nil, &Rejection{Reason: ReasonLectureInactive}
	}

	// Token identity gates acceptance, not just the timestamp: a
	// rotated-out token is refused even while its own expiry is still in
	// the future.
	if current != p.Token {
		return nil, &Rejection{Reason: ReasonTokenMismatch}
	}

	if studentID == "" {
		return nil, &Rejection{Reason: ReasonUnauthenticated}
	}

	if err := s.checkDuplicate(ctx, p.LectureID, studentID, p.Token, now); err != nil {
		return nil, err
	}
	return lecture, nil
}

// checkDuplicate applies the two suppression layers, either sufficient to
// refuse: exact-token replay, then same-calendar-day.
func (s *Service) checkDuplicate(ctx context.Context, lectureID, studentID, token string, now time.Time) error {
	replay, err := s.store.HasRecordForToken(ctx, lectureID, studentID, token)
	if err != nil {
		return err
	}
	if replay {
		return &Rejection{Reason: ReasonAlreadyRecorded, Err: errors.New("token already redeemed")}
	}

	// One credit per lecture per local calendar day. This also refuses a
	// different, currently valid token from the same ongoing session.
	sameDay, err := s.store.HasRecordOnDay(ctx, lectureID, studentID, now)
	if err != nil {
		return err
	}
	if sameDay {
		return &Rejection{Reason: ReasonAlreadyRecorded, Err: errors.New("attendance already recorded today")}
	}
	return nil
}
