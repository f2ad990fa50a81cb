package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// --- users ---

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, display_name, password_hash, plan, is_email_verified, verification_token, verification_expires_at)
		VALUES ($1, LOWER($2), $3, $4, $5, $6, $7, $8)
	`, user.ID, user.Email, user.DisplayName, user.PasswordHash, user.Plan,
		user.IsEmailVerified, user.VerificationToken, user.VerificationExpiresAt)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, userSelect+` WHERE email = LOWER($1)`, email))
}

func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, userSelect+` WHERE id = $1`, id))
}

const userSelect = `
	SELECT id, email, display_name, password_hash, plan, is_email_verified,
		COALESCE(verification_token, ''), verification_expires_at, created_at, updated_at
	FROM users`

func (s *PostgresStore) scanUser(row *sql.Row) (User, error) {
	var user User
	err := row.Scan(&user.ID, &user.Email, &user.DisplayName, &user.PasswordHash,
		&user.Plan, &user.IsEmailVerified, &user.VerificationToken,
		&user.VerificationExpiresAt, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) VerifyUserEmail(ctx context.Context, token string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET is_email_verified = TRUE, verification_token = NULL, verification_expires_at = NULL, updated_at = NOW()
		WHERE verification_token = $1 AND verification_expires_at > NOW()
	`, token)
	if err != nil {
		return fmt.Errorf("verify email: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("verify email rows: %w", err)
	}
	if affected == 0 {
		return errors.New("invalid or expired verification token")
	}
	return nil
}

// --- refresh sessions (PG fallback when Redis is not configured) ---

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash string, user User, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, user.ID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.email, u.display_name, u.plan
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&user.ID, &user.Email, &user.DisplayName, &user.Plan)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

// --- documents ---

const documentColumns = `
	id, owner_id, title, content, COALESCE(derived_text, ''), word_count,
	character_count, page_count, size_bytes, archived, index_remote_id,
	index_fingerprint, created_at, updated_at, last_edited_at`

func (s *PostgresStore) InsertDocument(ctx context.Context, doc Document) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, owner_id, title, content, derived_text, word_count,
			character_count, page_count, size_bytes, archived, created_at, updated_at, last_edited_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, FALSE, NOW(), NOW(), NOW())
	`, doc.ID, doc.OwnerID, doc.Title, []byte(doc.Content), doc.DerivedText,
		doc.WordCount, doc.CharacterCount, doc.PageCount, doc.SizeBytes)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

// GetDocument returns a non-archived document owned by ownerID.
// sql.ErrNoRows covers both "missing" and "not yours".
func (s *PostgresStore) GetDocument(ctx context.Context, id, ownerID string) (Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+`
		FROM documents WHERE id = $1 AND owner_id = $2 AND NOT archived`, id, ownerID)
	return scanDocument(row)
}

// GetDocumentAnyState is GetDocument without the archived filter; the sync
// reconciler needs to see archived rows to run the delete path.
func (s *PostgresStore) GetDocumentAnyState(ctx context.Context, id, ownerID string) (Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+`
		FROM documents WHERE id = $1 AND owner_id = $2`, id, ownerID)
	return scanDocument(row)
}

func (s *PostgresStore) ListDocuments(ctx context.Context, ownerID string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+documentColumns+`
		FROM documents WHERE owner_id = $1 AND NOT archived
		ORDER BY last_edited_at DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		doc, err := scanDocumentRows(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// UpdateDocumentContent writes content plus every derived field in a single
// statement; this is the durability boundary for a content save.
func (s *PostgresStore) UpdateDocumentContent(ctx context.Context, doc Document) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET title = $3, content = $4, derived_text = $5, word_count = $6,
			character_count = $7, page_count = $8, size_bytes = $9,
			updated_at = NOW(), last_edited_at = NOW()
		WHERE id = $1 AND owner_id = $2 AND NOT archived
	`, doc.ID, doc.OwnerID, doc.Title, []byte(doc.Content), doc.DerivedText,
		doc.WordCount, doc.CharacterCount, doc.PageCount, doc.SizeBytes)
	if err != nil {
		return false, fmt.Errorf("update document content: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update document content rows: %w", err)
	}
	return affected > 0, nil
}

// UpdateDocumentTitle is a metadata-only write: it bumps updated_at but
// not last_edited_at.
func (s *PostgresStore) UpdateDocumentTitle(ctx context.Context, id, ownerID, title string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE documents SET title = $3, updated_at = NOW()
		WHERE id = $1 AND owner_id = $2 AND NOT archived
	`, id, ownerID, title)
	if err != nil {
		return false, fmt.Errorf("update document title: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update document title rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) ArchiveDocument(ctx context.Context, id, ownerID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE documents SET archived = TRUE, updated_at = NOW()
		WHERE id = $1 AND owner_id = $2 AND NOT archived
	`, id, ownerID)
	if err != nil {
		return false, fmt.Errorf("archive document: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("archive document rows: %w", err)
	}
	return affected > 0, nil
}

// SetDocumentSyncState records a successful index upsert.
func (s *PostgresStore) SetDocumentSyncState(ctx context.Context, id, remoteID, fingerprint string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE documents SET index_remote_id = $2, index_fingerprint = $3 WHERE id = $1
	`, id, remoteID, fingerprint)
	if err != nil {
		return fmt.Errorf("set document sync state: %w", err)
	}
	return nil
}

// ClearDocumentSyncState drops the remote id after a successful index delete.
func (s *PostgresStore) ClearDocumentSyncState(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE documents SET index_remote_id = NULL, index_fingerprint = NULL WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("clear document sync state: %w", err)
	}
	return nil
}

func scanDocument(row *sql.Row) (Document, error) {
	var doc Document
	var content []byte
	err := row.Scan(&doc.ID, &doc.OwnerID, &doc.Title, &content, &doc.DerivedText,
		&doc.WordCount, &doc.CharacterCount, &doc.PageCount, &doc.SizeBytes,
		&doc.Archived, &doc.IndexRemoteID, &doc.IndexFingerprint,
		&doc.CreatedAt, &doc.UpdatedAt, &doc.LastEditedAt)
	if err != nil {
		return Document{}, err
	}
	doc.Content = json.RawMessage(content)
	return doc, nil
}

func scanDocumentRows(rows *sql.Rows) (Document, error) {
	var doc Document
	var content []byte
	err := rows.Scan(&doc.ID, &doc.OwnerID, &doc.Title, &content, &doc.DerivedText,
		&doc.WordCount, &doc.CharacterCount, &doc.PageCount, &doc.SizeBytes,
		&doc.Archived, &doc.IndexRemoteID, &doc.IndexFingerprint,
		&doc.CreatedAt, &doc.UpdatedAt, &doc.LastEditedAt)
	if err != nil {
		return Document{}, fmt.Errorf("scan document: %w", err)
	}
	doc.Content = json.RawMessage(content)
	return doc, nil
}

// --- quota accounts ---

// QuotaDefaults seeds a lazily created account.
type QuotaDefaults struct {
	Plan                 string
	MaxDocuments         int
	MaxDocumentSizeBytes int64
	MaxDocumentPages     int
}

// EnsureQuotaAccount lazily creates the owner's account. Concurrent calls
// for the same owner collapse onto one row via the primary-key conflict.
func (s *PostgresStore) EnsureQuotaAccount(ctx context.Context, ownerID string, defaults QuotaDefaults) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO quota_accounts (owner_id, plan, max_documents, max_document_size_bytes, max_document_pages)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (owner_id) DO NOTHING
	`, ownerID, defaults.Plan, defaults.MaxDocuments, defaults.MaxDocumentSizeBytes, defaults.MaxDocumentPages)
	if err != nil {
		return fmt.Errorf("ensure quota account: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetQuotaAccount(ctx context.Context, ownerID string) (QuotaAccount, error) {
	var account QuotaAccount
	err := s.db.QueryRowContext(ctx, `
		SELECT owner_id, plan, max_documents, max_document_size_bytes, max_document_pages,
			current_document_count, total_storage_used_bytes, created_at, updated_at
		FROM quota_accounts WHERE owner_id = $1
	`, ownerID).Scan(&account.OwnerID, &account.Plan, &account.MaxDocuments,
		&account.MaxDocumentSizeBytes, &account.MaxDocumentPages,
		&account.CurrentDocumentCount, &account.TotalStorageUsedBytes,
		&account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		return QuotaAccount{}, err
	}
	return account, nil
}

// ApplyQuotaDelta atomically adjusts the owner's running totals by relative
// deltas, clamped at zero. Returns the totals before and after so the caller
// can detect when the clamp fired.
func (s *PostgresStore) ApplyQuotaDelta(ctx context.Context, ownerID string, docDelta int, byteDelta int64) (prev QuotaTotals, next QuotaTotals, err error) {
	err = s.db.QueryRowContext(ctx, `
		UPDATE quota_accounts q
		SET current_document_count = GREATEST(0, q.current_document_count + $2),
			total_storage_used_bytes = GREATEST(0, q.total_storage_used_bytes + $3),
			updated_at = NOW()
		FROM (
			SELECT current_document_count, total_storage_used_bytes
			FROM quota_accounts WHERE owner_id = $1 FOR UPDATE
		) old
		WHERE q.owner_id = $1
		RETURNING old.current_document_count, old.total_storage_used_bytes,
			q.current_document_count, q.total_storage_used_bytes
	`, ownerID, docDelta, byteDelta).Scan(
		&prev.DocumentCount, &prev.StorageUsedBytes,
		&next.DocumentCount, &next.StorageUsedBytes)
	if err != nil {
		return QuotaTotals{}, QuotaTotals{}, fmt.Errorf("apply quota delta: %w", err)
	}
	return prev, next, nil
}

// --- document versions ---

func (s *PostgresStore) InsertDocumentVersion(ctx context.Context, v DocumentVersion) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO document_versions (id, document_id, content, derived_text, word_count,
			character_count, page_count, size_bytes, manual, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
	`, v.ID, v.DocumentID, []byte(v.Content), v.DerivedText, v.WordCount,
		v.CharacterCount, v.PageCount, v.SizeBytes, v.Manual)
	if err != nil {
		return fmt.Errorf("insert document version: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListDocumentVersions(ctx context.Context, documentID, ownerID string, limit int) ([]DocumentVersion, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT v.id, v.document_id, v.content, v.derived_text, v.word_count,
			v.character_count, v.page_count, v.size_bytes, v.manual, v.created_at
		FROM document_versions v
		JOIN documents d ON d.id = v.document_id
		WHERE v.document_id = $1 AND d.owner_id = $2
		ORDER BY v.created_at DESC
		LIMIT $3
	`, documentID, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list document versions: %w", err)
	}
	defer rows.Close()

	var versions []DocumentVersion
	for rows.Next() {
		var v DocumentVersion
		var content []byte
		if err := rows.Scan(&v.ID, &v.DocumentID, &content, &v.DerivedText,
			&v.WordCount, &v.CharacterCount, &v.PageCount, &v.SizeBytes,
			&v.Manual, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan document version: %w", err)
		}
		v.Content = json.RawMessage(content)
		versions = append(versions, v)
	}
	return versions, rows.Err()
}
