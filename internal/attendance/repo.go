package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// Store is the persistence surface the domain logic runs against. The store
// is the single source of truth: the rotation loop, the validator, and the
// sweeper coordinate only through it, never through shared memory.
type Store interface {
	// AppendSession writes one immutable rotation log entry.
	AppendSession(ctx context.Context, s Session) (Session, error)
	// ProjectLecture upserts the lecture's current-credential view from a
	// freshly appended session, creating the lecture if absent.
	ProjectLecture(ctx context.Context, s Session, name string) error
	// GetLecture returns the lecture or nil when unknown.
	GetLecture(ctx context.Context, lectureID string) (*Lecture, error)
	// DeactivateLecture clears the credential explicitly (presenter stop).
	DeactivateLecture(ctx context.Context, lectureID string) error
	// ExpireLectures clears every lecture whose expiry has passed, in one
	// atomic statement. Returns the number of lectures swept.
	ExpireLectures(ctx context.Context, now int64) (int64, error)

	// InsertRecord appends one attendance fact.
	InsertRecord(ctx context.Context, rec Record) (Record, error)
	// HasRecordForToken reports an exact-token replay.
	HasRecordForToken(ctx context.Context, lectureID, studentID, token string) (bool, error)
	// HasRecordOnDay reports any record for the pair inside the local
	// calendar day containing at.
	HasRecordOnDay(ctx context.Context, lectureID, studentID string, at time.Time) (bool, error)
	// ListRecords returns records with basic filters, newest first.
	ListRecords(ctx context.Context, lectureID, studentID string, limit, offset int) ([]Record, error)
}

// Repository implements Store on Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

var _ Store = (*Repository)(nil)

// AppendSession writes a rotation log entry. Sessions are never updated or
// deleted; ULID ids keep the log sortable by generation time.
func (r *Repository) AppendSession(ctx context.Context, s Session) (Session, error) {
	if s.ID == "" {
		s.ID = ulid.Make().String()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO sessions (id, lecture_id, token, expires_at, generated_at)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING created_at
	`, s.ID, s.LectureID, s.Token, s.ExpiresAt, s.GeneratedAt)
	if err := row.Scan(&s.CreatedAt); err != nil {
		return Session{}, storeErr(err)
	}
	return s, nil
}

// ProjectLecture applies the session→lecture projection: the lecture row is
// a derived view of the latest session, created if it does not exist.
func (r *Repository) ProjectLecture(ctx context.Context, s Session, name string) error {
	if name == "" {
		name = s.LectureID
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO lectures (id, name, current_token, token_expires_at, status, updated_at)
		VALUES ($1, $2, $3, $4, 'active', NOW())
		ON CONFLICT (id) DO UPDATE SET
			current_token = EXCLUDED.current_token,
			token_expires_at = EXCLUDED.token_expires_at,
			status = 'active',
			name = COALESCE(NULLIF(EXCLUDED.name, EXCLUDED.id), lectures.name),
			updated_at = NOW()
	`, s.LectureID, name, s.Token, s.ExpiresAt)
	return storeErr(err)
}

// GetLecture returns nil when the lecture is unknown.
func (r *Repository) GetLecture(ctx context.Context, lectureID string) (*Lecture, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, current_token, token_expires_at, status, updated_at
		FROM lectures WHERE id = $1
	`, lectureID)
	var l Lecture
	if err := row.Scan(&l.ID, &l.Name, &l.CurrentToken, &l.TokenExpiresAt, &l.Status, &l.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, storeErr(err)
	}
	return &l, nil
}

// DeactivateLecture clears the current credential on presenter stop.
func (r *Repository) DeactivateLecture(ctx context.Context, lectureID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE lectures
		SET current_token = NULL, token_expires_at = NULL, status = 'inactive', updated_at = NOW()
		WHERE id = $1
	`, lectureID)
	return storeErr(err)
}

// ExpireLectures sweeps every lecture whose token expiry has passed. A single
// UPDATE keeps the batch all-or-nothing; already-inactive lectures are not
// matched, so repeating the sweep is a no-op.
func (r *Repository) ExpireLectures(ctx context.Context, now int64) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE lectures
		SET current_token = NULL, token_expires_at = NULL, status = 'inactive', updated_at = NOW()
		WHERE token_expires_at IS NOT NULL AND token_expires_at <= $1
	`, now)
	if err != nil {
		return 0, storeErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storeErr(err)
	}
	return n, nil
}

// InsertRecord appends one attendance fact with a server-assigned timestamp.
func (r *Repository) InsertRecord(ctx context.Context, rec Record) (Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	if rec.Method == "" {
		rec.Method = "qr"
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance (id, lecture_id, lecture_name, student_id, token, ts, method)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, rec.ID, rec.LectureID, rec.LectureName, rec.StudentID, rec.Token, rec.Timestamp, rec.Method)
	if err != nil {
		return Record{}, storeErr(err)
	}
	return rec, nil
}

// HasRecordForToken detects re-scanning the identical still-valid QR image.
func (r *Repository) HasRecordForToken(ctx context.Context, lectureID, studentID, token string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM attendance
			WHERE lecture_id = $1 AND student_id = $2 AND token = $3
		)
	`, lectureID, studentID, token).Scan(&exists)
	if err != nil {
		return false, storeErr(err)
	}
	return exists, nil
}

// HasRecordOnDay detects a second redemption within the same local calendar
// day, catching rotated tokens from the same ongoing session. The day bounds
// are computed in local time on purpose: the policy is one credit per lecture
// per calendar date, not per fixed window.
func (r *Repository) HasRecordOnDay(ctx context.Context, lectureID, studentID string, at time.Time) (bool, error) {
	local := at.In(time.Local)
	dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.Local)
	dayEnd := dayStart.AddDate(0, 0, 1)

	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM attendance
			WHERE lecture_id = $1 AND student_id = $2 AND ts >= $3 AND ts < $4
		)
	`, lectureID, studentID, dayStart, dayEnd).Scan(&exists)
	if err != nil {
		return false, storeErr(err)
	}
	return exists, nil
}

// ListRecords returns attendance facts with basic filters.
func (r *Repository) ListRecords(ctx context.Context, lectureID, studentID string, limit, offset int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	query := `SELECT id, lecture_id, lecture_name, student_id, token, ts, method FROM attendance`
	args := []any{}
	clauses := []string{}
	if lectureID != "" {
		clauses = append(clauses, "lecture_id = $"+itoa(len(args)+1))
		args = append(args, lectureID)
	}
	if studentID != "" {
		clauses = append(clauses, "student_id = $"+itoa(len(args)+1))
		args = append(args, studentID)
	}
	if len(clauses) > 0 {
		query += " WHERE " + joinClauses(clauses, " AND ")
	}
	query += " ORDER BY ts DESC LIMIT $" + itoa(len(args)+1) + " OFFSET $" + itoa(len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()
	var res []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.LectureID, &rec.LectureName, &rec.StudentID, &rec.Token, &rec.Timestamp, &rec.Method); err != nil {
			return nil, storeErr(err)
		}
		res = append(res, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(err)
	}
	return res, nil
}

// SaveRefreshToken stores a refresh token for rotation checks.
func (r *Repository) SaveRefreshToken(ctx context.Context, subject, token string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (subject, token, expires_at)
		VALUES ($1, $2, $3)
	`, subject, token, expiresAt)
	return storeErr(err)
}

// RevokeRefreshToken marks a token revoked.
func (r *Repository) RevokeRefreshToken(ctx context.Context, token string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE refresh_tokens SET revoked = TRUE WHERE token = $1`, token)
	return storeErr(err)
}

// UpsertStudent ensures a student record exists.
func (r *Repository) UpsertStudent(ctx context.Context, studentID string) error {
	if studentID == "" {
		return errors.New("student id required")
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO students (student_id)
		VALUES ($1)
		ON CONFLICT (student_id) DO NOTHING
	`, studentID)
	return storeErr(err)
}

// storeErr wraps transient persistence failures so the HTTP layer maps them
// to 503 rather than a validator rejection.
func storeErr(err error) error {
	if err == nil {
		return nil
	}
	return &Rejection{Reason: ReasonStoreUnavailable, Err: err}
}

func itoa(i int) string { return fmt.Sprintf("%d", i) }

func joinClauses(parts []string, sep string) string {
	if len(parts) == 0 {
		return ""
	}
	out := parts[0]
	for i := 1; i < len(parts); i++ {
		out += sep + parts[i]
	}
	return out
}
