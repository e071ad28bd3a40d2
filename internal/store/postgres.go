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

// --- users ---

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash, role, local_group, is_email_verified, verification_token)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, NULLIF($8, ''))
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash, user.Role, user.LocalGroup, user.IsEmailVerified, user.VerificationToken)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

const userColumns = `
	id, display_name, email, password_hash, role, COALESCE(local_group, ''),
	is_email_verified, COALESCE(verification_token, ''), verification_expires_at,
	created_at, updated_at
`

func (s *PostgresStore) scanUser(row *sql.Row) (User, error) {
	var user User
	err := row.Scan(
		&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.Role, &user.LocalGroup,
		&user.IsEmailVerified, &user.VerificationToken, &user.VerificationExpiresAt,
		&user.CreatedAt, &user.UpdatedAt,
	)
	return user, err
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE LOWER(email)=LOWER($1)`, email))
}

func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id=$1`, id))
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, display_name, email, role, COALESCE(local_group, ''), is_email_verified, created_at
		FROM users ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var user User
		if err := rows.Scan(&user.ID, &user.DisplayName, &user.Email, &user.Role, &user.LocalGroup, &user.IsEmailVerified, &user.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func (s *PostgresStore) CountUsers(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) SetUserRole(ctx context.Context, userID, role, localGroup string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users SET role=$2, local_group=NULLIF($3, ''), updated_at=NOW() WHERE id=$1
	`, userID, role, localGroup)
	if err != nil {
		return fmt.Errorf("set user role: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET verification_token=$2, verification_expires_at=$3, updated_at=NOW() WHERE id=$1
	`, userID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("update verification token: %w", err)
	}
	return nil
}

func (s *PostgresStore) VerifyUserEmail(ctx context.Context, token string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET is_email_verified=TRUE, verification_token=NULL, verification_expires_at=NULL, updated_at=NOW()
		WHERE verification_token=$1 AND verification_expires_at > NOW()
	`, token)
	if err != nil {
		return fmt.Errorf("verify email: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET password_hash=$2, updated_at=NOW() WHERE id=$1
	`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (token, user_id, expires_at) VALUES ($1, $2, $3)
	`, token, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("create password reset: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM password_resets
		WHERE token=$1 AND used_at IS NULL AND expires_at > NOW()
	`, token).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE password_resets SET used_at=NOW() WHERE token=$1`, token)
	if err != nil {
		return fmt.Errorf("mark password reset used: %w", err)
	}
	return nil
}

// --- conversations ---

func (s *PostgresStore) CreateConversation(ctx context.Context, conv Conversation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, user_id, title) VALUES ($1, $2, $3)
	`, conv.ID, conv.UserID, conv.Title)
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetConversation(ctx context.Context, id string) (Conversation, error) {
	var conv Conversation
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, title, created_at, updated_at FROM conversations WHERE id=$1
	`, id).Scan(&conv.ID, &conv.UserID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt)
	return conv, err
}

func (s *PostgresStore) ListConversations(ctx context.Context, userID string) ([]Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, title, created_at, updated_at
		FROM conversations WHERE user_id=$1 ORDER BY updated_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var convs []Conversation
	for rows.Next() {
		var conv Conversation
		if err := rows.Scan(&conv.ID, &conv.UserID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		convs = append(convs, conv)
	}
	return convs, rows.Err()
}

func (s *PostgresStore) RenameConversation(ctx context.Context, id, title string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET title=$2, updated_at=NOW() WHERE id=$1
	`, id, title)
	if err != nil {
		return fmt.Errorf("rename conversation: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteConversation(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return nil
}

func (s *PostgresStore) AppendMessage(ctx context.Context, msg Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, role, content) VALUES ($1, $2, $3, $4)
	`, msg.ID, msg.ConversationID, msg.Role, msg.Content); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE conversations SET updated_at=NOW() WHERE id=$1
	`, msg.ConversationID); err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	return tx.Commit()
}

func (s *PostgresStore) ListMessages(ctx context.Context, conversationID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, role, content, created_at
		FROM messages WHERE conversation_id=$1 ORDER BY created_at
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

// --- drafts ---

func (s *PostgresStore) CreateDraft(ctx context.Context, draft Draft) error {
	payload, err := json.Marshal(draft.Payload)
	if err != nil {
		return fmt.Errorf("marshal draft payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO drafts (id, author_id, content_type, slug, title, action, status, target_group, payload, image_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9, NULLIF($10, ''))
	`, draft.ID, draft.AuthorID, draft.ContentType, draft.Slug, draft.Title, draft.Action, draft.Status, draft.TargetGroup, payload, draft.ImageKey)
	if err != nil {
		return fmt.Errorf("insert draft: %w", err)
	}
	return nil
}

const draftColumns = `
	d.id, d.author_id, u.display_name, d.content_type, d.slug, d.title, d.action, d.status,
	COALESCE(d.target_group, ''), d.payload, COALESCE(d.image_key, ''),
	COALESCE(d.reviewed_by, ''), COALESCE(d.review_note, ''), d.reviewed_at,
	COALESCE(d.commit_sha, ''), d.created_at, d.updated_at
`

func scanDraft(scan func(dest ...any) error) (Draft, error) {
	var draft Draft
	var payload []byte
	err := scan(
		&draft.ID, &draft.AuthorID, &draft.AuthorName, &draft.ContentType, &draft.Slug, &draft.Title,
		&draft.Action, &draft.Status, &draft.TargetGroup, &payload, &draft.ImageKey,
		&draft.ReviewedBy, &draft.ReviewNote, &draft.ReviewedAt,
		&draft.CommitSHA, &draft.CreatedAt, &draft.UpdatedAt,
	)
	if err != nil {
		return Draft{}, err
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &draft.Payload); err != nil {
			return Draft{}, fmt.Errorf("unmarshal draft payload: %w", err)
		}
	}
	return draft, nil
}

func (s *PostgresStore) GetDraft(ctx context.Context, id string) (Draft, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+draftColumns+` FROM drafts d JOIN users u ON u.id=d.author_id WHERE d.id=$1
	`, id)
	return scanDraft(row.Scan)
}

// ListDrafts returns drafts filtered by status; an empty status lists all.
func (s *PostgresStore) ListDrafts(ctx context.Context, status string) ([]Draft, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+draftColumns+`
		FROM drafts d JOIN users u ON u.id=d.author_id
		WHERE ($1 = '' OR d.status = $1)
		ORDER BY d.created_at DESC
	`, status)
	if err != nil {
		return nil, fmt.Errorf("list drafts: %w", err)
	}
	defer rows.Close()

	var drafts []Draft
	for rows.Next() {
		draft, err := scanDraft(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan draft: %w", err)
		}
		drafts = append(drafts, draft)
	}
	return drafts, rows.Err()
}

func (s *PostgresStore) ListDraftsByAuthor(ctx context.Context, authorID string) ([]Draft, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+draftColumns+`
		FROM drafts d JOIN users u ON u.id=d.author_id
		WHERE d.author_id=$1
		ORDER BY d.created_at DESC
	`, authorID)
	if err != nil {
		return nil, fmt.Errorf("list drafts by author: %w", err)
	}
	defer rows.Close()

	var drafts []Draft
	for rows.Next() {
		draft, err := scanDraft(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan draft: %w", err)
		}
		drafts = append(drafts, draft)
	}
	return drafts, rows.Err()
}

// ReviewDraft moves a pending draft to approved or rejected. It only touches
// rows still pending, so concurrent reviews cannot double-apply.
func (s *PostgresStore) ReviewDraft(ctx context.Context, id, status, reviewerID, note string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE drafts
		SET status=$2, reviewed_by=$3, review_note=NULLIF($4, ''), reviewed_at=NOW(), updated_at=NOW()
		WHERE id=$1 AND status='pending'
	`, id, status, reviewerID, note)
	if err != nil {
		return fmt.Errorf("review draft: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// SetDraftImage attaches an object-storage key to a pending draft.
func (s *PostgresStore) SetDraftImage(ctx context.Context, id, imageKey string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE drafts SET image_key=$2, updated_at=NOW() WHERE id=$1 AND status='pending'
	`, id, imageKey)
	if err != nil {
		return fmt.Errorf("set draft image: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// SetDraftCommit records the commit an approved draft landed as. The status
// stays approved; published is reserved for direct publishes.
func (s *PostgresStore) SetDraftCommit(ctx context.Context, id, commitSHA string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE drafts SET commit_sha=$2, updated_at=NOW() WHERE id=$1
	`, id, commitSHA)
	if err != nil {
		return fmt.Errorf("set draft commit: %w", err)
	}
	return nil
}

// --- audit log ---

func (s *PostgresStore) AppendAudit(ctx context.Context, entry AuditEntry) error {
	detail, err := json.Marshal(entry.Detail)
	if err != nil {
		return fmt.Errorf("marshal audit detail: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_log (actor_id, actor_name, action, content_type, slug, draft_id, commit_sha, detail)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, NULLIF($7, ''), $8)
	`, entry.ActorID, entry.ActorName, entry.Action, entry.ContentType, entry.Slug, entry.DraftID, entry.CommitSHA, detail)
	if err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+auditColumns+`
		FROM audit_log ORDER BY created_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	return collectAudit(rows)
}

// ListAuditFor returns the history of one piece of content, newest first. An
// empty slug matches every entry of the content type.
func (s *PostgresStore) ListAuditFor(ctx context.Context, contentType, slug string, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+auditColumns+`
		FROM audit_log
		WHERE content_type=$1 AND ($2='' OR slug=$2)
		ORDER BY created_at DESC LIMIT $3
	`, contentType, slug, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit for %s/%s: %w", contentType, slug, err)
	}
	return collectAudit(rows)
}

const auditColumns = `id, actor_id, actor_name, action, COALESCE(content_type, ''), COALESCE(slug, ''),
	draft_id, COALESCE(commit_sha, ''), detail, created_at`

func collectAudit(rows *sql.Rows) ([]AuditEntry, error) {
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var entry AuditEntry
		var detail []byte
		if err := rows.Scan(&entry.ID, &entry.ActorID, &entry.ActorName, &entry.Action,
			&entry.ContentType, &entry.Slug, &entry.DraftID, &entry.CommitSHA, &detail, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		if len(detail) > 0 {
			if err := json.Unmarshal(detail, &entry.Detail); err != nil {
				return nil, fmt.Errorf("unmarshal audit detail: %w", err)
			}
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// IsNotFound reports whether an error means the row does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
