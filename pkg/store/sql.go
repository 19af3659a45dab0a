package store

import (
	"context"
	"database/sql"
	"encoding/json"
	_ "embed"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/climatepath/pendo/pkg/config"
)

//go:embed schema.sql
var schemaSQL string

// SQLStore is the database/sql implementation of Store. It runs on SQLite
// for single-node deployments and Postgres for shared ones.
type SQLStore struct {
	db       *sql.DB
	postgres bool
}

// OpenSQL opens the configured database and applies the schema.
func OpenSQL(ctx context.Context, cfg *config.StoreConfig) (*SQLStore, error) {
	var driver string
	switch cfg.Driver {
	case "", "sqlite", "sqlite3":
		driver = "sqlite3"
	case "postgres":
		driver = "postgres"
	default:
		return nil, fmt.Errorf("store: unsupported driver %q", cfg.Driver)
	}

	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", driver, err)
	}
	s := &SQLStore{db: db, postgres: driver == "postgres"}

	for _, stmt := range strings.Split(schemaSQL, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: apply schema: %w", err)
		}
	}
	return s, nil
}

// rebind converts ? placeholders to $N for Postgres.
func (s *SQLStore) rebind(query string) string {
	if !s.postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) ResolveProfile(ctx context.Context, userID string) (*Profile, error) {
	query := s.rebind(`
		SELECT user_id, user_type, email, full_name, attributes, created_at
		FROM profiles WHERE user_id = ?
		ORDER BY CASE user_type WHEN 'admin' THEN 0 WHEN 'partner' THEN 1 ELSE 2 END
		LIMIT 1`)

	var p Profile
	var attrs string
	err := s.db.QueryRowContext(ctx, query, userID).
		Scan(&p.UserID, &p.UserType, &p.Email, &p.FullName, &attrs, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: resolve profile: %w", err)
	}
	if attrs != "" {
		if err := json.Unmarshal([]byte(attrs), &p.Attributes); err != nil {
			return nil, fmt.Errorf("store: decode profile attributes: %w", err)
		}
	}
	return &p, nil
}

func (s *SQLStore) UpsertProfile(ctx context.Context, p *Profile) error {
	attrs, err := json.Marshal(p.Attributes)
	if err != nil {
		return fmt.Errorf("store: encode profile attributes: %w", err)
	}
	created := p.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	query := s.rebind(`
		INSERT INTO profiles (user_id, user_type, email, full_name, attributes, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, user_type) DO UPDATE SET
			email = excluded.email,
			full_name = excluded.full_name,
			attributes = excluded.attributes`)
	_, err = s.db.ExecContext(ctx, query, p.UserID, string(p.UserType), p.Email, p.FullName, string(attrs), created)
	if err != nil {
		return fmt.Errorf("store: upsert profile: %w", err)
	}
	return nil
}

func (s *SQLStore) SaveSession(ctx context.Context, ws *WorkflowSession) error {
	data, err := json.Marshal(ws.Data)
	if err != nil {
		return fmt.Errorf("store: encode session data: %w", err)
	}
	now := time.Now().UTC()
	created := ws.CreatedAt
	if created.IsZero() {
		created = now
	}
	query := s.rebind(`
		INSERT INTO workflow_sessions (session_id, user_id, workflow_type, status, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id) DO UPDATE SET
			status = excluded.status,
			data = excluded.data,
			updated_at = excluded.updated_at`)
	_, err = s.db.ExecContext(ctx, query, ws.SessionID, ws.UserID, ws.WorkflowType, string(ws.Status), string(data), created, now)
	if err != nil {
		return fmt.Errorf("store: save session: %w", err)
	}
	return nil
}

func (s *SQLStore) GetSession(ctx context.Context, sessionID string) (*WorkflowSession, error) {
	query := s.rebind(`
		SELECT session_id, user_id, workflow_type, status, data, created_at, updated_at
		FROM workflow_sessions WHERE session_id = ?`)

	var ws WorkflowSession
	var data string
	err := s.db.QueryRowContext(ctx, query, sessionID).
		Scan(&ws.SessionID, &ws.UserID, &ws.WorkflowType, &ws.Status, &data, &ws.CreatedAt, &ws.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get session: %w", err)
	}
	if data != "" {
		if err := json.Unmarshal([]byte(data), &ws.Data); err != nil {
			return nil, fmt.Errorf("store: decode session data: %w", err)
		}
	}
	return &ws, nil
}

func (s *SQLStore) ListSessions(ctx context.Context, userID string) ([]*WorkflowSession, error) {
	query := s.rebind(`
		SELECT session_id, user_id, workflow_type, status, data, created_at, updated_at
		FROM workflow_sessions WHERE user_id = ? ORDER BY created_at`)

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("store: list sessions: %w", err)
	}
	defer rows.Close()

	var out []*WorkflowSession
	for rows.Next() {
		var ws WorkflowSession
		var data string
		if err := rows.Scan(&ws.SessionID, &ws.UserID, &ws.WorkflowType, &ws.Status, &data, &ws.CreatedAt, &ws.UpdatedAt); err != nil {
			return nil, fmt.Errorf("store: scan session: %w", err)
		}
		if data != "" {
			if err := json.Unmarshal([]byte(data), &ws.Data); err != nil {
				return nil, fmt.Errorf("store: decode session data: %w", err)
			}
		}
		out = append(out, &ws)
	}
	return out, rows.Err()
}

func (s *SQLStore) ExpireSessions(ctx context.Context, cutoff time.Time) (int, error) {
	query := s.rebind(`
		UPDATE workflow_sessions SET status = 'expired'
		WHERE status = 'active' AND updated_at < ?`)
	res, err := s.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("store: expire sessions: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *SQLStore) DeleteSession(ctx context.Context, sessionID string) error {
	query := s.rebind(`DELETE FROM workflow_sessions WHERE session_id = ?`)
	if _, err := s.db.ExecContext(ctx, query, sessionID); err != nil {
		return fmt.Errorf("store: delete session: %w", err)
	}
	return nil
}

func (s *SQLStore) AddPartner(ctx context.Context, p *Partner) error {
	areas, err := json.Marshal(p.FocusAreas)
	if err != nil {
		return fmt.Errorf("store: encode focus areas: %w", err)
	}
	query := s.rebind(`
		INSERT INTO partners (organization, role, focus_areas, career_page_url, contact, location, salary_range)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (organization, role) DO UPDATE SET
			focus_areas = excluded.focus_areas,
			career_page_url = excluded.career_page_url,
			contact = excluded.contact,
			location = excluded.location,
			salary_range = excluded.salary_range`)
	_, err = s.db.ExecContext(ctx, query, p.Organization, p.Role, string(areas), p.CareerPageURL, p.Contact, p.Location, p.SalaryRange)
	if err != nil {
		return fmt.Errorf("store: add partner: %w", err)
	}
	return nil
}

// MatchPartners loads the partner table and scores it in process. The table
// is small by design; scoring in Go keeps the query portable across drivers.
func (s *SQLStore) MatchPartners(ctx context.Context, query string, limit int) ([]PartnerMatch, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT organization, role, focus_areas, career_page_url, contact, location, salary_range
		FROM partners`)
	if err != nil {
		return nil, fmt.Errorf("store: match partners: %w", err)
	}
	defer rows.Close()

	terms := queryTerms(query)
	var matches []PartnerMatch
	for rows.Next() {
		var p Partner
		var areas string
		if err := rows.Scan(&p.Organization, &p.Role, &areas, &p.CareerPageURL, &p.Contact, &p.Location, &p.SalaryRange); err != nil {
			return nil, fmt.Errorf("store: scan partner: %w", err)
		}
		if areas != "" {
			if err := json.Unmarshal([]byte(areas), &p.FocusAreas); err != nil {
				return nil, fmt.Errorf("store: decode focus areas: %w", err)
			}
		}
		score := scorePartner(&p, terms)
		if score <= 0 {
			continue
		}
		matches = append(matches, PartnerMatch{
			Organization:  p.Organization,
			Role:          p.Role,
			MatchScore:    score,
			CareerPageURL: p.CareerPageURL,
			Contact:       p.Contact,
			Location:      p.Location,
			SalaryRange:   p.SalaryRange,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].MatchScore != matches[j].MatchScore {
			return matches[i].MatchScore > matches[j].MatchScore
		}
		return matches[i].Organization < matches[j].Organization
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (s *SQLStore) Close() error { return s.db.Close() }
