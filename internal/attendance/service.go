package attendance

import (
	"context"
	"errors"
	"time"

	"presence/internal/metrics"
)

// Service coordinates token publication and redemption against the store.
type Service struct {
	store Store
	now   func() time.Time
}

// NewService creates a service backed by a store.
func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

// PublishOnce mints a fresh credential for a lecture, appends it to the
// session log, and projects it onto the lecture's current view. This is one
// rotation tick; the publisher drives it on a cadence.
func (s *Service) PublishOnce(ctx context.Context, lectureID, name string, ttl time.Duration) (Session, error) {
	if lectureID == "" {
		return Session{}, errors.New("lecture id required")
	}
	p := Generate(lectureID, ttl)
	sess, err := s.store.AppendSession(ctx, Session{
		LectureID:   p.LectureID,
		Token:       p.Token,
		ExpiresAt:   p.ExpiresAt,
		GeneratedAt: p.GeneratedAt,
	})
	if err != nil {
		return Session{}, err
	}
	if err := s.store.ProjectLecture(ctx, sess, name); err != nil {
		return Session{}, err
	}
	metrics.Rotations.Inc()
	return sess, nil
}

// Redeem validates a scanned payload and, on accept, records the attendance
// fact with a server-assigned timestamp. The timestamp is authoritative time,
// never the client clock, so a skewed scanner cannot forge its day.
func (s *Service) Redeem(ctx context.Context, p Payload, studentID string) (Record, error) {
	now := s.now()
	lecture, err := s.Validate(ctx, p, studentID, now)
	if err != nil {
		metrics.ObserveRedemption(string(ReasonOf(err)))
		return Record{}, err
	}

	rec, err := s.store.InsertRecord(ctx, Record{
		LectureID:   lecture.ID,
		LectureName: lecture.Name,
		StudentID:   studentID,
		Token:       p.Token,
		Timestamp:   now.UTC(),
		Method:      "qr",
	})
	if err != nil {
		metrics.ObserveRedemption(string(ReasonStoreUnavailable))
		return Record{}, err
	}
	metrics.ObserveRedemption("accepted")
	return rec, nil
}

// CurrentSession returns the lecture's live credential for re-rendering the
// QR, or an Inactive rejection when nothing is being published.
func (s *Service) CurrentSession(ctx context.Context, lectureID string) (Payload, error) {
	lecture, err := s.store.GetLecture(ctx, lectureID)
	if err != nil {
		return Payload{}, err
	}
	if lecture == nil {
		return Payload{}, &Rejection{Reason: ReasonLectureNotFound}
	}
	token, expiresAt, active := lecture.Credential()
	if !active {
		return Payload{}, &Rejection{Reason: ReasonLectureInactive}
	}
	return Payload{LectureID: lecture.ID, Token: token, ExpiresAt: expiresAt}, nil
}

// Stop clears the lecture's credential explicitly.
func (s *Service) Stop(ctx context.Context, lectureID string) error {
	return s.store.DeactivateLecture(ctx, lectureID)
}

// ListRecords exposes the attendance log with basic filters.
func (s *Service) ListRecords(ctx context.Context, lectureID, studentID string, limit, offset int) ([]Record, error) {
	return s.store.ListRecords(ctx, lectureID, studentID, limit, offset)
}
