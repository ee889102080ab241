package storage

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/org/geocrypt/pkg/models"
)

// PostgresStore is a Store backed by PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore opens a pgxpool connection and returns a ready store.
func NewPostgresStore(ctx context.Context, connStr string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) Close() {
	p.pool.Close()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// --- Principals ---

func (p *PostgresStore) CreatePrincipal(ctx context.Context, pr *models.Principal) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO principals (username, email, password_hash, role, active, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		pr.Username, pr.Email, pr.PasswordHash, string(pr.Role), pr.Active, pr.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

func (p *PostgresStore) GetPrincipal(ctx context.Context, username string) (*models.Principal, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT username, email, password_hash, role, active, created_at, otp_hash, otp_expiry, otp_sent_at
		 FROM principals WHERE username = $1`,
		username,
	)
	return scanPrincipal(row)
}

func scanPrincipal(row pgx.Row) (*models.Principal, error) {
	var pr models.Principal
	var role string
	var otpHash *string
	err := row.Scan(&pr.Username, &pr.Email, &pr.PasswordHash, &role, &pr.Active,
		&pr.CreatedAt, &otpHash, &pr.OTPExpiry, &pr.OTPSentAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	pr.Role = models.Role(role)
	if otpHash != nil {
		pr.OTPHash = *otpHash
	}
	return &pr, nil
}

func (p *PostgresStore) UpdatePrincipal(ctx context.Context, pr *models.Principal) error {
	var otpHash *string
	if pr.OTPHash != "" {
		otpHash = &pr.OTPHash
	}
	tag, err := p.pool.Exec(ctx,
		`UPDATE principals
		 SET email = $2, password_hash = $3, active = $4, otp_hash = $5, otp_expiry = $6, otp_sent_at = $7
		 WHERE username = $1`,
		pr.Username, pr.Email, pr.PasswordHash, pr.Active, otpHash, pr.OTPExpiry, pr.OTPSentAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) ListPrincipals(ctx context.Context) ([]*models.Principal, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT username, email, password_hash, role, active, created_at, otp_hash, otp_expiry, otp_sent_at
		 FROM principals ORDER BY username`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Principal
	for rows.Next() {
		pr, err := scanPrincipal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, pr)
	}
	return out, rows.Err()
}

func (p *PostgresStore) DeletePrincipal(ctx context.Context, username string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM principals WHERE username = $1`, username)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Access policy ---

func (p *PostgresStore) GetAccessPolicy(ctx context.Context) (*models.AccessPolicy, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT latitude, longitude, radius_m, allowed_ssid, start_time, end_time
		 FROM access_policy WHERE id = 1`,
	)
	var pol models.AccessPolicy
	err := row.Scan(&pol.Latitude, &pol.Longitude, &pol.RadiusM, &pol.AllowedSSID, &pol.StartTime, &pol.EndTime)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &pol, nil
}

func (p *PostgresStore) PutAccessPolicy(ctx context.Context, pol *models.AccessPolicy) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO access_policy (id, latitude, longitude, radius_m, allowed_ssid, start_time, end_time, updated_at)
		 VALUES (1, $1, $2, $3, $4, $5, $6, NOW())
		 ON CONFLICT (id) DO UPDATE
		 SET latitude = EXCLUDED.latitude,
		     longitude = EXCLUDED.longitude,
		     radius_m = EXCLUDED.radius_m,
		     allowed_ssid = EXCLUDED.allowed_ssid,
		     start_time = EXCLUDED.start_time,
		     end_time = EXCLUDED.end_time,
		     updated_at = NOW()`,
		pol.Latitude, pol.Longitude, pol.RadiusM, pol.AllowedSSID, pol.StartTime, pol.EndTime,
	)
	return err
}

// --- Work-from-home grants ---

func (p *PostgresStore) CreateGrant(ctx context.Context, g *models.WFHGrant) error {
	// One pending grant per principal, enforced by a partial unique index.
	_, err := p.pool.Exec(ctx,
		`INSERT INTO wfh_grants (id, username, reason, status, requested_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		g.ID, g.Username, g.Reason, string(g.Status), g.RequestedAt,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

func (p *PostgresStore) GetGrant(ctx context.Context, id string) (*models.WFHGrant, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT id, username, reason, status, admin_comment, requested_at, approved_at, access_start, access_end
		 FROM wfh_grants WHERE id = $1`,
		id,
	)
	return scanGrant(row)
}

func scanGrant(row pgx.Row) (*models.WFHGrant, error) {
	var g models.WFHGrant
	var status string
	var comment *string
	err := row.Scan(&g.ID, &g.Username, &g.Reason, &status, &comment,
		&g.RequestedAt, &g.ApprovedAt, &g.AccessStart, &g.AccessEnd)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	g.Status = models.GrantStatus(status)
	if comment != nil {
		g.AdminComment = *comment
	}
	return &g, nil
}

func (p *PostgresStore) UpdateGrant(ctx context.Context, g *models.WFHGrant) error {
	var comment *string
	if g.AdminComment != "" {
		comment = &g.AdminComment
	}
	tag, err := p.pool.Exec(ctx,
		`UPDATE wfh_grants
		 SET status = $2, admin_comment = $3, approved_at = $4, access_start = $5, access_end = $6
		 WHERE id = $1`,
		g.ID, string(g.Status), comment, g.ApprovedAt, g.AccessStart, g.AccessEnd,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) ListGrants(ctx context.Context, username string) ([]*models.WFHGrant, error) {
	query := `SELECT id, username, reason, status, admin_comment, requested_at, approved_at, access_start, access_end
	          FROM wfh_grants`
	args := []any{}
	if username != "" {
		query += ` WHERE username = $1`
		args = append(args, username)
	}
	query += ` ORDER BY requested_at DESC`

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.WFHGrant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (p *PostgresStore) LatestApprovedGrant(ctx context.Context, username string) (*models.WFHGrant, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT id, username, reason, status, admin_comment, requested_at, approved_at, access_start, access_end
		 FROM wfh_grants
		 WHERE username = $1 AND status = 'approved'
		 ORDER BY approved_at DESC NULLS LAST
		 LIMIT 1`,
		username,
	)
	return scanGrant(row)
}

// --- Encrypted files ---

func (p *PostgresStore) CreateFile(ctx context.Context, f *models.EncryptedFile, blob []byte) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx,
		`INSERT INTO files (id, filename, uploaded_by, uploaded_at, size_bytes, algorithm, key_enc)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		f.ID, f.Filename, f.UploadedBy, f.UploadedAt, f.Size, f.Algorithm, f.KeyEnc,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("inserting file metadata: %w", err)
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO file_blobs (file_id, blob) VALUES ($1, $2)`,
		f.ID, blob,
	)
	if err != nil {
		return fmt.Errorf("inserting file blob: %w", err)
	}
	return tx.Commit(ctx)
}

func (p *PostgresStore) GetFile(ctx context.Context, id string) (*models.EncryptedFile, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT id, filename, uploaded_by, uploaded_at, size_bytes, algorithm, key_enc
		 FROM files WHERE id = $1`,
		id,
	)
	return scanFile(row)
}

func scanFile(row pgx.Row) (*models.EncryptedFile, error) {
	var f models.EncryptedFile
	err := row.Scan(&f.ID, &f.Filename, &f.UploadedBy, &f.UploadedAt, &f.Size, &f.Algorithm, &f.KeyEnc)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &f, nil
}

func (p *PostgresStore) GetFileBlob(ctx context.Context, id string) ([]byte, error) {
	var blob []byte
	err := p.pool.QueryRow(ctx, `SELECT blob FROM file_blobs WHERE file_id = $1`, id).Scan(&blob)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return blob, nil
}

func (p *PostgresStore) ListFiles(ctx context.Context) ([]*models.EncryptedFile, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, filename, uploaded_by, uploaded_at, size_bytes, algorithm, key_enc
		 FROM files ORDER BY uploaded_at DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.EncryptedFile
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (p *PostgresStore) DeleteFileBlob(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM file_blobs WHERE file_id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) DeleteFile(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM files WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) FileStats(ctx context.Context) (*models.FileStats, error) {
	var stats models.FileStats
	err := p.pool.QueryRow(ctx,
		`SELECT COUNT(*), COALESCE(SUM(size_bytes), 0) FROM files`,
	).Scan(&stats.TotalFiles, &stats.TotalSize)
	if err != nil {
		return nil, err
	}
	err = p.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM access_logs WHERE action IN ('access', 'download') AND success`,
	).Scan(&stats.TotalAccesses)
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

// --- Audit ---

func (p *PostgresStore) WriteAccessLog(ctx context.Context, entry *models.AccessLog) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO access_logs (username, file_id, filename, action, timestamp, success, reason, latitude, longitude, wifi_ssid, grant_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		entry.Username, nullableStr(entry.FileID), entry.Filename, entry.Action, entry.Timestamp,
		entry.Success, entry.Reason, entry.Latitude, entry.Longitude,
		nullableStr(entry.WiFiSSID), nullableStr(entry.GrantID),
	)
	return err
}

func nullableStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (p *PostgresStore) QueryAccessLogs(ctx context.Context, filter LogFilter) ([]*models.AccessLog, error) {
	query := strings.Builder{}
	query.WriteString(`SELECT id, username, file_id, filename, action, timestamp, success, reason, latitude, longitude, wifi_ssid, grant_id
	                   FROM access_logs WHERE 1=1`)
	args := []any{}
	n := 1
	if filter.Username != "" {
		fmt.Fprintf(&query, ` AND username = $%d`, n)
		args = append(args, filter.Username)
		n++
	}
	if filter.FileID != "" {
		fmt.Fprintf(&query, ` AND file_id = $%d`, n)
		args = append(args, filter.FileID)
		n++
	}
	if filter.Since != nil {
		fmt.Fprintf(&query, ` AND timestamp >= $%d`, n)
		args = append(args, filter.Since)
		n++
	}
	query.WriteString(` ORDER BY timestamp DESC`)
	if filter.Limit > 0 {
		fmt.Fprintf(&query, ` LIMIT $%d`, n)
		args = append(args, filter.Limit)
		n++
	}
	if filter.Offset > 0 {
		fmt.Fprintf(&query, ` OFFSET $%d`, n)
		args = append(args, filter.Offset)
	}

	rows, err := p.pool.Query(ctx, query.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*models.AccessLog
	for rows.Next() {
		var e models.AccessLog
		var fileID, ssid, grantID *string
		if err := rows.Scan(&e.ID, &e.Username, &fileID, &e.Filename, &e.Action, &e.Timestamp,
			&e.Success, &e.Reason, &e.Latitude, &e.Longitude, &ssid, &grantID); err != nil {
			return nil, err
		}
		if fileID != nil {
			e.FileID = *fileID
		}
		if ssid != nil {
			e.WiFiSSID = *ssid
		}
		if grantID != nil {
			e.GrantID = *grantID
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// --- Service key material ---

func (p *PostgresStore) GetServiceKeypair(ctx context.Context) (string, []byte, []byte, error) {
	var mode, pubB64, secB64 string
	err := p.pool.QueryRow(ctx,
		`SELECT mode, public_key, secret_key FROM service_keys WHERE id = 1`,
	).Scan(&mode, &pubB64, &secB64)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil, nil, ErrNotFound
		}
		return "", nil, nil, err
	}
	pub, err := base64.StdEncoding.DecodeString(pubB64)
	if err != nil {
		return "", nil, nil, fmt.Errorf("decoding public key: %w", err)
	}
	sec, err := base64.StdEncoding.DecodeString(secB64)
	if err != nil {
		return "", nil, nil, fmt.Errorf("decoding secret key: %w", err)
	}
	return mode, pub, sec, nil
}

func (p *PostgresStore) PutServiceKeypair(ctx context.Context, mode string, public, secret []byte) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO service_keys (id, mode, public_key, secret_key, updated_at)
		 VALUES (1, $1, $2, $3, NOW())
		 ON CONFLICT (id) DO UPDATE
		 SET mode = EXCLUDED.mode,
		     public_key = EXCLUDED.public_key,
		     secret_key = EXCLUDED.secret_key,
		     updated_at = NOW()`,
		mode, base64.StdEncoding.EncodeToString(public), base64.StdEncoding.EncodeToString(secret),
	)
	return err
}
