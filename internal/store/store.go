package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caravanhq/caravan/models"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

type Store struct {
	DB *sql.DB
}

func New(ctx context.Context) (*Store, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		host := getenvDefault("POSTGRES_HOST", "localhost")
		port := getenvDefault("POSTGRES_PORT", "5432")
		user := os.Getenv("POSTGRES_USER")
		pass := os.Getenv("POSTGRES_PASSWORD")
		db := os.Getenv("POSTGRES_DB")
		ssl := getenvDefault("POSTGRES_SSLMODE", "disable")
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, pass, host, port, db, ssl)
	}
	return NewWithDSN(ctx, dsn)
}

// NewWithDSN constructs the Store using an explicit Postgres DSN
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

func getenvDefault(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

// Organizer operations
func (s *Store) CreateOrganizer(ctx context.Context, email, hash string) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO organizers (email, password_hash) VALUES ($1,$2)`, email, hash)
	return err
}

func (s *Store) GetOrganizerByEmail(ctx context.Context, email string) (id string, hash string, err error) {
	err = s.DB.QueryRowContext(ctx, `SELECT id, password_hash FROM organizers WHERE email=$1`, email).Scan(&id, &hash)
	return
}

// Participant operations

// CreateParticipant inserts a participant with preferences and credentials.
// Credentials are write-only at this layer; read them with GetCredentials.
func (s *Store) CreateParticipant(ctx context.Context, p models.Participant, creds models.Credentials) error {
	prefs, err := json.Marshal(p.Preferences)
	if err != nil {
		return err
	}
	cr, err := json.Marshal(creds)
	if err != nil {
		return err
	}
	_, err = s.DB.ExecContext(ctx,
		`INSERT INTO participants (id, display_name, email, preferences, credentials) VALUES ($1,$2,$3,$4,$5)`,
		p.ID, p.DisplayName, p.Email, prefs, cr)
	if err != nil {
		return err
	}
	for _, n := range p.Memories {
		if err := s.AddMemoryNote(ctx, p.ID, n); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) AddMemoryNote(ctx context.Context, participantID string, note models.MemoryNote) error {
	if note.ID == "" {
		note.ID = uuid.New().String()
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO memory_notes (id, participant_id, content, kind) VALUES ($1,$2,$3,$4)`,
		note.ID, participantID, note.Content, note.Kind)
	return err
}

func (s *Store) GetParticipant(ctx context.Context, id string) (models.Participant, error) {
	var p models.Participant
	var prefs []byte
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, display_name, email, preferences FROM participants WHERE id=$1`, id).
		Scan(&p.ID, &p.DisplayName, &p.Email, &prefs)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Participant{}, models.ErrParticipantNotFound
	}
	if err != nil {
		return models.Participant{}, err
	}
	if err := json.Unmarshal(prefs, &p.Preferences); err != nil {
		return models.Participant{}, err
	}
	p.Memories, err = s.listMemoryNotes(ctx, id)
	return p, err
}

// ListParticipants loads participants preserving the order of ids. Any
// missing id is an error: a negotiation cannot run with a partial registry.
func (s *Store) ListParticipants(ctx context.Context, ids []string) ([]models.Participant, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, display_name, email, preferences FROM participants WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	byID := make(map[string]models.Participant, len(ids))
	for rows.Next() {
		var p models.Participant
		var prefs []byte
		if err := rows.Scan(&p.ID, &p.DisplayName, &p.Email, &prefs); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(prefs, &p.Preferences); err != nil {
			return nil, err
		}
		byID[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out := make([]models.Participant, 0, len(ids))
	for _, id := range ids {
		p, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", models.ErrParticipantNotFound, id)
		}
		p.Memories, err = s.listMemoryNotes(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *Store) GetCredentials(ctx context.Context, participantID string) (models.Credentials, error) {
	var raw []byte
	err := s.DB.QueryRowContext(ctx, `SELECT credentials FROM participants WHERE id=$1`, participantID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Credentials{}, models.ErrParticipantNotFound
	}
	if err != nil {
		return models.Credentials{}, err
	}
	var creds models.Credentials
	if err := json.Unmarshal(raw, &creds); err != nil {
		return models.Credentials{}, err
	}
	return creds, nil
}

func (s *Store) listMemoryNotes(ctx context.Context, participantID string) ([]models.MemoryNote, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, content, kind, created_at FROM memory_notes WHERE participant_id=$1 ORDER BY created_at`, participantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.MemoryNote
	for rows.Next() {
		var n models.MemoryNote
		if err := rows.Scan(&n.ID, &n.Content, &n.Kind, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// Session operations

// SessionRecord is the durable form of one negotiation session. State holds
// the full serialized negotiation state so that a process restart between
// plan distribution and an inbound decision loses nothing.
type SessionRecord struct {
	ID                  string
	ParticipantIDs      []string
	State               json.RawMessage
	Plan                json.RawMessage
	ApprovalState       json.RawMessage
	Status              string
	Round               int
	TurnsPerParticipant int
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

func (s *Store) CreateSession(ctx context.Context, rec SessionRecord) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO sessions (id, participant_ids, state, plan, approval_state, status, round, turns_per_participant)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		rec.ID, pq.Array(rec.ParticipantIDs), []byte(rec.State), nullIfEmpty(rec.Plan), nullIfEmpty(rec.ApprovalState),
		rec.Status, rec.Round, rec.TurnsPerParticipant)
	return err
}

// SaveSession updates the mutable columns of a session record.
func (s *Store) SaveSession(ctx context.Context, rec SessionRecord) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE sessions SET state=$2, plan=$3, approval_state=$4, status=$5, round=$6, updated_at=now() WHERE id=$1`,
		rec.ID, []byte(rec.State), nullIfEmpty(rec.Plan), nullIfEmpty(rec.ApprovalState), rec.Status, rec.Round)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return models.ErrSessionNotFound
	}
	return err
}

// TransitionSession writes a session only when its current status still
// matches from, so concurrent writers race on the row instead of on stale
// in-memory copies. Returns false when another writer moved the session
// first.
func (s *Store) TransitionSession(ctx context.Context, rec SessionRecord, from string) (bool, error) {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE sessions SET state=$2, plan=$3, approval_state=$4, status=$5, round=$6, updated_at=now()
		 WHERE id=$1 AND status=$7`,
		rec.ID, []byte(rec.State), nullIfEmpty(rec.Plan), nullIfEmpty(rec.ApprovalState), rec.Status, rec.Round, from)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *Store) GetSession(ctx context.Context, id string) (SessionRecord, error) {
	var rec SessionRecord
	var plan, approval sql.NullString
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, participant_ids, state, plan, approval_state, status, round, turns_per_participant, created_at, updated_at
		 FROM sessions WHERE id=$1`, id).
		Scan(&rec.ID, pq.Array(&rec.ParticipantIDs), &rec.State, &plan, &approval,
			&rec.Status, &rec.Round, &rec.TurnsPerParticipant, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionRecord{}, models.ErrSessionNotFound
	}
	if err != nil {
		return SessionRecord{}, err
	}
	if plan.Valid {
		rec.Plan = json.RawMessage(plan.String)
	}
	if approval.Valid {
		rec.ApprovalState = json.RawMessage(approval.String)
	}
	return rec, nil
}

func (s *Store) ListSessionsByStatus(ctx context.Context, status string) ([]SessionRecord, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, participant_ids, state, plan, approval_state, status, round, turns_per_participant, created_at, updated_at
		 FROM sessions WHERE status=$1 ORDER BY created_at`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SessionRecord
	for rows.Next() {
		var rec SessionRecord
		var plan, approval sql.NullString
		if err := rows.Scan(&rec.ID, pq.Array(&rec.ParticipantIDs), &rec.State, &plan, &approval,
			&rec.Status, &rec.Round, &rec.TurnsPerParticipant, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		if plan.Valid {
			rec.Plan = json.RawMessage(plan.String)
		}
		if approval.Valid {
			rec.ApprovalState = json.RawMessage(approval.String)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Booking results

func (s *Store) InsertBookingResult(ctx context.Context, sessionID string, r models.BookingResult) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO booking_results (id, session_id, participant_id, success, detail, error) VALUES ($1,$2,$3,$4,$5,$6)`,
		uuid.New().String(), sessionID, r.ParticipantID, r.Success, r.Detail, r.Error)
	return err
}

func (s *Store) ListBookingResults(ctx context.Context, sessionID string) ([]models.BookingResult, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT participant_id, success, detail, error, created_at FROM booking_results WHERE session_id=$1 ORDER BY created_at`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.BookingResult
	for rows.Next() {
		var r models.BookingResult
		if err := rows.Scan(&r.ParticipantID, &r.Success, &r.Detail, &r.Error, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullIfEmpty(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
