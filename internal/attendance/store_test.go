package attendance

import (
	"context"
	"errors"
	"sync"
	"time"
)

// fakeStore is an in-memory Store for exercising the domain logic without
// Postgres. Day bucketing matches the repository: local calendar date.
type fakeStore struct {
	mu       sync.Mutex
	sessions []Session
	lectures map[string]*Lecture
	records  []Record

	failAppend  bool
	getLectures int
}

func newFakeStore() *fakeStore {
	return &fakeStore{lectures: make(map[string]*Lecture)}
}

func (f *fakeStore) AppendSession(_ context.Context, s Session) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAppend {
		return Session{}, &Rejection{Reason: ReasonStoreUnavailable, Err: errors.New("append refused")}
	}
	if s.ID == "" {
		s.ID = time.Now().Format("20060102150405.000000000")
	}
	s.CreatedAt = time.Now()
	f.sessions = append(f.sessions, s)
	return s, nil
}

func (f *fakeStore) ProjectLecture(_ context.Context, s Session, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if name == "" {
		name = s.LectureID
	}
	token := s.Token
	exp := s.ExpiresAt
	if l, ok := f.lectures[s.LectureID]; ok {
		l.CurrentToken = &token
		l.TokenExpiresAt = &exp
		l.Status = StatusActive
		return nil
	}
	f.lectures[s.LectureID] = &Lecture{
		ID:             s.LectureID,
		Name:           name,
		CurrentToken:   &token,
		TokenExpiresAt: &exp,
		Status:         StatusActive,
	}
	return nil
}

func (f *fakeStore) GetLecture(_ context.Context, lectureID string) (*Lecture, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getLectures++
	l, ok := f.lectures[lectureID]
	if !ok {
		return nil, nil
	}
	cp := *l
	return &cp, nil
}

func (f *fakeStore) DeactivateLecture(_ context.Context, lectureID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if l, ok := f.lectures[lectureID]; ok {
		l.CurrentToken = nil
		l.TokenExpiresAt = nil
		l.Status = StatusInactive
	}
	return nil
}

func (f *fakeStore) ExpireLectures(_ context.Context, now int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, l := range f.lectures {
		if l.TokenExpiresAt != nil && *l.TokenExpiresAt <= now {
			l.CurrentToken = nil
			l.TokenExpiresAt = nil
			l.Status = StatusInactive
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) InsertRecord(_ context.Context, rec Record) (Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec.ID == "" {
		rec.ID = time.Now().Format("150405.000000000")
	}
	f.records = append(f.records, rec)
	return rec, nil
}

func (f *fakeStore) HasRecordForToken(_ context.Context, lectureID, studentID, token string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range f.records {
		if rec.LectureID == lectureID && rec.StudentID == studentID && rec.Token == token {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) HasRecordOnDay(_ context.Context, lectureID, studentID string, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ay, am, ad := at.In(time.Local).Date()
	for _, rec := range f.records {
		if rec.LectureID != lectureID || rec.StudentID != studentID {
			continue
		}
		ry, rm, rd := rec.Timestamp.In(time.Local).Date()
		if ay == ry && am == rm && ad == rd {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) ListRecords(_ context.Context, lectureID, studentID string, limit, offset int) ([]Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Record
	for _, rec := range f.records {
		if lectureID != "" && rec.LectureID != lectureID {
			continue
		}
		if studentID != "" && rec.StudentID != studentID {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (f *fakeStore) sessionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

func (f *fakeStore) lecture(id string) *Lecture {
	f.mu.Lock()
	defer f.mu.Unlock()
	if l, ok := f.lectures[id]; ok {
		cp := *l
		return &cp
	}
	return nil
}

// activate installs a lecture with a live credential.
func (f *fakeStore) activate(id, name, token string, expiresAt int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lectures[id] = &Lecture{
		ID:             id,
		Name:           name,
		CurrentToken:   &token,
		TokenExpiresAt: &expiresAt,
		Status:         StatusActive,
	}
}
