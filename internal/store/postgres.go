package store

import (
	"context"
	"database/sql"
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

// ---- users & sessions ----

func (s *PostgresStore) EnsureUserByName(ctx context.Context, name string) (User, error) {
	const findUser = `SELECT id, display_name, email, role FROM admin_users WHERE display_name = $1`
	var user User
	err := s.db.QueryRowContext(ctx, findUser, name).Scan(&user.ID, &user.DisplayName, &user.Email, &user.Role)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("lookup user: %w", err)
	}

	insertUser := `
		INSERT INTO admin_users (display_name, email, role)
		VALUES ($1, CONCAT(LOWER(REPLACE($1, ' ', '.')), '@local.mosaic.dev'), 'editor')
		RETURNING id, display_name, email, role
	`
	if err := s.db.QueryRowContext(ctx, insertUser, name).Scan(&user.ID, &user.DisplayName, &user.Email, &user.Role); err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, role FROM admin_users WHERE id=$1
	`, userID).Scan(&user.ID, &user.DisplayName, &user.Email, &user.Role)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, role FROM admin_users WHERE LOWER(email)=LOWER($1)
	`, email).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.Role)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO admin_users (id, display_name, email, password_hash, role)
		VALUES ($1, $2, $3, $4, $5)
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash, user.Role)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.display_name, u.email, u.role
		FROM refresh_sessions rs
		JOIN admin_users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&user.ID, &user.DisplayName, &user.Email, &user.Role)
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

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// ---- documents ----

func (s *PostgresStore) ListDocuments(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, root_id, updated_by_name, updated_at
		FROM documents
		ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	items := make([]Document, 0)
	for rows.Next() {
		var item Document
		if err := rows.Scan(&item.ID, &item.Title, &item.RootID, &item.UpdatedBy, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, documentID string) (Document, error) {
	var item Document
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, root_id, updated_by_name, updated_at
		FROM documents
		WHERE id=$1
	`, documentID).Scan(&item.ID, &item.Title, &item.RootID, &item.UpdatedBy, &item.UpdatedAt)
	if err != nil {
		return Document{}, err
	}
	return item, nil
}

// InsertDocument creates the documents row and its root content row in one
// transaction so a document can never exist without a root node.
func (s *PostgresStore) InsertDocument(ctx context.Context, item Document, rootDatatypeID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert document: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO content (id, document_id, datatype_id, parent_id, sort_order)
		VALUES ($1, $2, $3, NULL, 0)
	`, item.RootID, item.ID, rootDatatypeID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert root content: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO documents (id, title, root_id, updated_by_name)
		VALUES ($1, $2, $3, $4)
	`, item.ID, item.Title, item.RootID, item.UpdatedBy); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert document: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert document: %w", err)
	}
	return nil
}

func (s *PostgresStore) TouchDocument(ctx context.Context, documentID, updatedBy string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE documents SET updated_by_name=$2, updated_at=NOW() WHERE id=$1
	`, documentID, updatedBy)
	if err != nil {
		return fmt.Errorf("touch document: %w", err)
	}
	return nil
}

// ---- content nodes ----

func (s *PostgresStore) ListContentByDocument(ctx context.Context, documentID string) ([]ContentRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, datatype_id, parent_id, sort_order, created_at
		FROM content
		WHERE document_id=$1
		ORDER BY parent_id NULLS FIRST, sort_order, id
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list content: %w", err)
	}
	defer rows.Close()

	items := make([]ContentRow, 0)
	for rows.Next() {
		var item ContentRow
		if err := rows.Scan(&item.ID, &item.DocumentID, &item.DatatypeID, &item.ParentID, &item.SortOrder, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan content: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate content: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListContentFieldsByDocument(ctx context.Context, documentID string) ([]ContentFieldRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT cf.id, cf.content_id, cf.field_id, cf.value, cf.label, cf.type,
		       cf.validation, cf.ui_config, cf.extra_data, cf.created_at
		FROM content_fields cf
		JOIN content c ON c.id = cf.content_id
		WHERE c.document_id=$1
		ORDER BY cf.content_id, cf.created_at, cf.id
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list content fields: %w", err)
	}
	defer rows.Close()

	items := make([]ContentFieldRow, 0)
	for rows.Next() {
		var item ContentFieldRow
		if err := rows.Scan(&item.ID, &item.ContentID, &item.FieldID, &item.Value, &item.Label, &item.Type,
			&item.Validation, &item.UIConfig, &item.ExtraData, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan content field: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate content fields: %w", err)
	}
	return items, nil
}

// InsertContent appends a new block to its parent's child list.
func (s *PostgresStore) InsertContent(ctx context.Context, id, documentID, datatypeID, parentID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO content (id, document_id, datatype_id, parent_id, sort_order)
		VALUES ($1, $2, $3, $4,
			(SELECT COALESCE(MAX(sort_order) + 1, 0) FROM content WHERE parent_id = $4))
	`, id, documentID, datatypeID, parentID)
	if err != nil {
		return fmt.Errorf("insert content: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteContent(ctx context.Context, contentID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM content WHERE id=$1`, contentID)
	if err != nil {
		return fmt.Errorf("delete content: %w", err)
	}
	return nil
}

// ReorderContent replaces one parent's complete child ordering.
func (s *PostgresStore) ReorderContent(ctx context.Context, parentID string, orderedIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reorder: %w", err)
	}
	for position, id := range orderedIDs {
		result, err := tx.ExecContext(ctx, `
			UPDATE content SET sort_order=$1 WHERE id=$2 AND parent_id=$3
		`, position, id, parentID)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("reorder content %s: %w", id, err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("reorder content %s: %w", id, err)
		}
		if affected == 0 {
			_ = tx.Rollback()
			return fmt.Errorf("reorder content %s: %w", id, sql.ErrNoRows)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reorder: %w", err)
	}
	return nil
}

// MoveContent re-parents a node and inserts it at position in the new
// parent's child list. The position is computed against the child list
// without the node, so a same-parent move shifts only the rows between the
// vacated slot and the target instead of blindly pushing everything right.
func (s *PostgresStore) MoveContent(ctx context.Context, nodeID, newParentID string, position int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin move: %w", err)
	}

	var oldParent sql.NullString
	var oldOrder int
	if err := tx.QueryRowContext(ctx,
		`SELECT parent_id, sort_order FROM content WHERE id=$1`, nodeID,
	).Scan(&oldParent, &oldOrder); err != nil {
		_ = tx.Rollback()
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("move content %s: %w", nodeID, sql.ErrNoRows)
		}
		return fmt.Errorf("move content %s: %w", nodeID, err)
	}

	if oldParent.Valid && oldParent.String == newParentID {
		switch {
		case oldOrder < position:
			if _, err := tx.ExecContext(ctx, `
				UPDATE content SET sort_order = sort_order - 1
				WHERE parent_id=$1 AND sort_order > $2 AND sort_order <= $3
			`, newParentID, oldOrder, position); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("shift siblings: %w", err)
			}
		case oldOrder > position:
			if _, err := tx.ExecContext(ctx, `
				UPDATE content SET sort_order = sort_order + 1
				WHERE parent_id=$1 AND sort_order >= $2 AND sort_order < $3
			`, newParentID, position, oldOrder); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("shift siblings: %w", err)
			}
		}
	} else {
		if oldParent.Valid {
			if _, err := tx.ExecContext(ctx, `
				UPDATE content SET sort_order = sort_order - 1
				WHERE parent_id=$1 AND sort_order > $2
			`, oldParent.String, oldOrder); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("close old slot: %w", err)
			}
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE content SET sort_order = sort_order + 1
			WHERE parent_id=$1 AND sort_order >= $2
		`, newParentID, position); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("shift siblings: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE content SET parent_id=$2, sort_order=$3 WHERE id=$1
	`, nodeID, newParentID, position); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("move content %s: %w", nodeID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit move: %w", err)
	}
	return nil
}

// ---- content field values ----

// InsertContentField stores a new field value, denormalizing label, type and
// the UI blobs from the definition catalog when an entry exists.
func (s *PostgresStore) InsertContentField(ctx context.Context, id, contentID, fieldID, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO content_fields (id, content_id, field_id, value, label, type, validation, ui_config, extra_data)
		SELECT $1, $2, $3, $4,
		       COALESCE(fd.label, $3), COALESCE(fd.type, 'text'),
		       COALESCE(fd.validation, '{}'::jsonb), COALESCE(fd.ui_config, '{}'::jsonb), COALESCE(fd.extra_data, '{}'::jsonb)
		FROM (SELECT 1) one
		LEFT JOIN field_definitions fd ON fd.id = $3
	`, id, contentID, fieldID, value)
	if err != nil {
		return fmt.Errorf("insert content field: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateContentField(ctx context.Context, contentFieldID, value string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE content_fields SET value=$2 WHERE id=$1
	`, contentFieldID, value)
	if err != nil {
		return fmt.Errorf("update content field: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update content field: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) DeleteContentField(ctx context.Context, contentFieldID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM content_fields WHERE id=$1`, contentFieldID)
	if err != nil {
		return fmt.Errorf("delete content field: %w", err)
	}
	return nil
}

// ---- schema catalog ----

func (s *PostgresStore) ListDatatypes(ctx context.Context) ([]Datatype, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, alias, label, created_at FROM datatypes ORDER BY label, id
	`)
	if err != nil {
		return nil, fmt.Errorf("list datatypes: %w", err)
	}
	defer rows.Close()

	items := make([]Datatype, 0)
	for rows.Next() {
		var item Datatype
		if err := rows.Scan(&item.ID, &item.Alias, &item.Label, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan datatype: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate datatypes: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListDatatypeFields(ctx context.Context, datatypeID string) ([]DatatypeField, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, datatype_id, field_id, sort_order
		FROM datatype_fields
		WHERE datatype_id=$1
		ORDER BY sort_order, id
	`, datatypeID)
	if err != nil {
		return nil, fmt.Errorf("list datatype fields: %w", err)
	}
	defer rows.Close()

	items := make([]DatatypeField, 0)
	for rows.Next() {
		var item DatatypeField
		if err := rows.Scan(&item.ID, &item.DatatypeID, &item.FieldID, &item.SortOrder); err != nil {
			return nil, fmt.Errorf("scan datatype field: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate datatype fields: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListFieldDefinitions(ctx context.Context) ([]FieldDefinition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, label, type, validation, ui_config, extra_data, created_at
		FROM field_definitions
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("list field definitions: %w", err)
	}
	defer rows.Close()

	items := make([]FieldDefinition, 0)
	for rows.Next() {
		var item FieldDefinition
		if err := rows.Scan(&item.ID, &item.Label, &item.Type, &item.Validation, &item.UIConfig, &item.ExtraData, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan field definition: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate field definitions: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertDatatype(ctx context.Context, item Datatype) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO datatypes (id, alias, label) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING
	`, item.ID, item.Alias, item.Label)
	if err != nil {
		return fmt.Errorf("insert datatype: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertFieldDefinition(ctx context.Context, item FieldDefinition) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO field_definitions (id, label, type, validation, ui_config, extra_data)
		VALUES ($1, $2, $3, COALESCE($4, '{}'::jsonb), COALESCE($5, '{}'::jsonb), COALESCE($6, '{}'::jsonb))
		ON CONFLICT (id) DO NOTHING
	`, item.ID, item.Label, item.Type, nullableJSON(item.Validation), nullableJSON(item.UIConfig), nullableJSON(item.ExtraData))
	if err != nil {
		return fmt.Errorf("insert field definition: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertDatatypeField(ctx context.Context, item DatatypeField) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO datatype_fields (id, datatype_id, field_id, sort_order)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`, item.ID, item.DatatypeID, item.FieldID, item.SortOrder)
	if err != nil {
		return fmt.Errorf("insert datatype field: %w", err)
	}
	return nil
}

func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
