package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/dshills/codegraph-mcp/pkg/types"
)

// SQLiteStorage implements Storage using SQLite
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage creates a new SQLite storage instance and applies any
// pending migrations
func NewSQLiteStorage(ctx context.Context, dbPath string) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// openDatabase opens the SQLite database with the appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=on", dbPath)

	db, err := sql.Open(DriverName, dsn)
	if err != nil {
		return nil, err
	}

	// SQLite supports one writer; a single connection avoids SQLITE_BUSY
	// under concurrent method calls.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// UpsertFile inserts or updates a file record, keyed by path
func (s *SQLiteStorage) UpsertFile(ctx context.Context, file *File) error {
	const query = `
		INSERT INTO files (path, content_hash, mod_time, size_bytes, language, indexed_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(path) DO UPDATE SET
			content_hash = excluded.content_hash,
			mod_time = excluded.mod_time,
			size_bytes = excluded.size_bytes,
			language = excluded.language,
			indexed_at = CURRENT_TIMESTAMP`

	_, err := s.db.ExecContext(ctx, query,
		file.Path, file.ContentHash[:], file.ModTime, file.SizeBytes, string(file.Language))
	if err != nil {
		return fmt.Errorf("failed to upsert file %s: %w", file.Path, err)
	}

	err = s.db.QueryRowContext(ctx, `SELECT id FROM files WHERE path = ?`, file.Path).Scan(&file.ID)
	if err != nil {
		return fmt.Errorf("failed to read back file id for %s: %w", file.Path, err)
	}
	return nil
}

// GetFile retrieves a file record by path
func (s *SQLiteStorage) GetFile(ctx context.Context, path string) (*File, error) {
	const query = `
		SELECT id, path, content_hash, mod_time, size_bytes, language, indexed_at
		FROM files WHERE path = ?`

	file := &File{}
	var hash []byte
	var lang string
	err := s.db.QueryRowContext(ctx, query, path).Scan(
		&file.ID, &file.Path, &hash, &file.ModTime, &file.SizeBytes, &lang, &file.IndexedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get file %s: %w", path, err)
	}
	copy(file.ContentHash[:], hash)
	file.Language = types.Language(lang)
	return file, nil
}

// DeleteFile removes a file record; symbols, relationships and chunks that
// belong to it go with it via cascade
func (s *SQLiteStorage) DeleteFile(ctx context.Context, path string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE path = ?`, path)
	if err != nil {
		return fmt.Errorf("failed to delete file %s: %w", path, err)
	}
	return nil
}

// ListFiles returns all tracked files
func (s *SQLiteStorage) ListFiles(ctx context.Context) ([]*File, error) {
	const query = `
		SELECT id, path, content_hash, mod_time, size_bytes, language, indexed_at
		FROM files ORDER BY path`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var files []*File
	for rows.Next() {
		file := &File{}
		var hash []byte
		var lang string
		if err := rows.Scan(&file.ID, &file.Path, &hash, &file.ModTime,
			&file.SizeBytes, &lang, &file.IndexedAt); err != nil {
			return nil, fmt.Errorf("failed to scan file row: %w", err)
		}
		copy(file.ContentHash[:], hash)
		file.Language = types.Language(lang)
		files = append(files, file)
	}
	return files, rows.Err()
}

// InsertSymbols stores a batch of symbols for a file in one transaction and
// assigns the generated IDs back into the slice
func (s *SQLiteStorage) InsertSymbols(ctx context.Context, fileID int64, symbols []types.Symbol) error {
	if len(symbols) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const query = `
		INSERT INTO symbols (file_id, name, kind, start_byte, end_byte,
			start_line, end_line, signature, doc, language, visibility)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare symbol insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i := range symbols {
		sym := &symbols[i]
		res, err := stmt.ExecContext(ctx,
			fileID, sym.Name, string(sym.Kind),
			sym.Span.StartByte, sym.Span.EndByte,
			sym.Span.StartLine, sym.Span.EndLine,
			sym.Signature, sym.Doc, string(sym.Language), string(sym.Visibility))
		if err != nil {
			return fmt.Errorf("failed to insert symbol %s: %w", sym.Name, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read symbol id: %w", err)
		}
		sym.ID = types.SymbolID(id)
	}

	return tx.Commit()
}

const symbolColumns = `s.id, s.name, s.kind, s.start_byte, s.end_byte,
	s.start_line, s.end_line, s.signature, s.doc, s.language, s.visibility, f.path`

func scanSymbol(row interface{ Scan(...any) error }) (*types.Symbol, error) {
	sym := &types.Symbol{}
	var kind, lang, vis string
	var sig, doc sql.NullString
	err := row.Scan(&sym.ID, &sym.Name, &kind,
		&sym.Span.StartByte, &sym.Span.EndByte,
		&sym.Span.StartLine, &sym.Span.EndLine,
		&sig, &doc, &lang, &vis, &sym.FilePath)
	if err != nil {
		return nil, err
	}
	sym.Kind = types.SymbolKind(kind)
	sym.Signature = sig.String
	sym.Doc = doc.String
	sym.Language = types.Language(lang)
	sym.Visibility = types.Visibility(vis)
	return sym, nil
}

// GetSymbol retrieves a symbol by its identifier
func (s *SQLiteStorage) GetSymbol(ctx context.Context, id types.SymbolID) (*types.Symbol, error) {
	query := `SELECT ` + symbolColumns + `
		FROM symbols s JOIN files f ON f.id = s.file_id
		WHERE s.id = ?`

	sym, err := scanSymbol(s.db.QueryRowContext(ctx, query, uint64(id)))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get symbol %d: %w", id, err)
	}
	return sym, nil
}

// FindSymbolsByName returns all symbols with the exact given name, ordered
// by ascending ID
func (s *SQLiteStorage) FindSymbolsByName(ctx context.Context, name string) ([]*types.Symbol, error) {
	query := `SELECT ` + symbolColumns + `
		FROM symbols s JOIN files f ON f.id = s.file_id
		WHERE s.name = ? ORDER BY s.id`

	return s.querySymbols(ctx, query, name)
}

// ListSymbolsByFile returns all symbols extracted from a file
func (s *SQLiteStorage) ListSymbolsByFile(ctx context.Context, fileID int64) ([]*types.Symbol, error) {
	query := `SELECT ` + symbolColumns + `
		FROM symbols s JOIN files f ON f.id = s.file_id
		WHERE s.file_id = ? ORDER BY s.id`

	return s.querySymbols(ctx, query, fileID)
}

func (s *SQLiteStorage) querySymbols(ctx context.Context, query string, args ...any) ([]*types.Symbol, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query symbols: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var symbols []*types.Symbol
	for rows.Next() {
		sym, err := scanSymbol(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan symbol row: %w", err)
		}
		symbols = append(symbols, sym)
	}
	return symbols, rows.Err()
}

// SymbolIDsByFile returns the identifiers of all symbols in a file
func (s *SQLiteStorage) SymbolIDsByFile(ctx context.Context, fileID int64) ([]types.SymbolID, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM symbols WHERE file_id = ? ORDER BY id`, fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to query symbol ids: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []types.SymbolID
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan symbol id: %w", err)
		}
		ids = append(ids, types.SymbolID(id))
	}
	return ids, rows.Err()
}

// DeleteSymbolsByFile removes all symbols belonging to a file, cascading to
// the relationships that reference them
func (s *SQLiteStorage) DeleteSymbolsByFile(ctx context.Context, fileID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM symbols WHERE file_id = ?`, fileID)
	if err != nil {
		return fmt.Errorf("failed to delete symbols for file %d: %w", fileID, err)
	}
	return nil
}

// InsertRelationships stores a batch of relationships in one transaction,
// skipping exact duplicates, and returns the number actually stored
func (s *SQLiteStorage) InsertRelationships(ctx context.Context, rels []types.Relationship) (int, error) {
	if len(rels) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const query = `
		INSERT OR IGNORE INTO relationships (from_id, to_id, kind, file_path, line)
		VALUES (?, ?, ?, ?, ?)`

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare relationship insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	stored := 0
	for i := range rels {
		rel := &rels[i]
		res, err := stmt.ExecContext(ctx,
			uint64(rel.FromID), uint64(rel.ToID), string(rel.Kind), rel.FilePath, rel.Line)
		if err != nil {
			return 0, fmt.Errorf("failed to insert relationship %s: %w", rel.Key(), err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to read rows affected: %w", err)
		}
		stored += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return stored, nil
}

// ListRelationshipsFrom returns outgoing edges of a symbol, optionally
// filtered by kind (empty kind matches all)
func (s *SQLiteStorage) ListRelationshipsFrom(ctx context.Context, from types.SymbolID, kind types.RelationKind) ([]*types.Relationship, error) {
	return s.queryRelationships(ctx, "from_id", uint64(from), kind)
}

// ListRelationshipsTo returns incoming edges of a symbol, optionally
// filtered by kind (empty kind matches all)
func (s *SQLiteStorage) ListRelationshipsTo(ctx context.Context, to types.SymbolID, kind types.RelationKind) ([]*types.Relationship, error) {
	return s.queryRelationships(ctx, "to_id", uint64(to), kind)
}

func (s *SQLiteStorage) queryRelationships(ctx context.Context, column string, id uint64, kind types.RelationKind) ([]*types.Relationship, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT from_id, to_id, kind, file_path, line FROM relationships WHERE `)
	sb.WriteString(column)
	sb.WriteString(` = ?`)
	args := []any{id}
	if kind != "" {
		sb.WriteString(` AND kind = ?`)
		args = append(args, string(kind))
	}
	sb.WriteString(` ORDER BY to_id, from_id, line`)

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query relationships: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var rels []*types.Relationship
	for rows.Next() {
		rel := &types.Relationship{}
		var k string
		if err := rows.Scan(&rel.FromID, &rel.ToID, &k, &rel.FilePath, &rel.Line); err != nil {
			return nil, fmt.Errorf("failed to scan relationship row: %w", err)
		}
		rel.Kind = types.RelationKind(k)
		rels = append(rels, rel)
	}
	return rels, rows.Err()
}

// InsertChunks stores a batch of document chunks for a file in one
// transaction and assigns the generated IDs back into the slice. Assigned
// IDs carry ChunkIDBit.
func (s *SQLiteStorage) InsertChunks(ctx context.Context, fileID int64, chunks []*types.DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const query = `
		INSERT INTO chunks (file_id, doc_path, collection, start_char, end_char,
			heading_path, text, content_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare chunk insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, chunk := range chunks {
		res, err := stmt.ExecContext(ctx,
			fileID, chunk.DocPath, chunk.Collection,
			chunk.StartChar, chunk.EndChar,
			strings.Join(chunk.HeadingPath, "\x1f"),
			chunk.Text, chunk.ContentHash[:])
		if err != nil {
			return fmt.Errorf("failed to insert chunk %s[%d]: %w", chunk.DocPath, chunk.StartChar, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read chunk id: %w", err)
		}
		chunk.ID = types.ChunkID(uint64(id) | ChunkIDBit)
	}

	return tx.Commit()
}

// GetChunk retrieves a document chunk by its identifier; the ChunkIDBit tag
// is accepted and stripped
func (s *SQLiteStorage) GetChunk(ctx context.Context, id types.ChunkID) (*types.DocumentChunk, error) {
	const query = `
		SELECT id, doc_path, collection, start_char, end_char, heading_path, text, content_hash
		FROM chunks WHERE id = ?`

	rowID := uint64(id) &^ ChunkIDBit
	chunk := &types.DocumentChunk{}
	var raw uint64
	var headings string
	var hash []byte
	err := s.db.QueryRowContext(ctx, query, rowID).Scan(
		&raw, &chunk.DocPath, &chunk.Collection,
		&chunk.StartChar, &chunk.EndChar, &headings, &chunk.Text, &hash)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get chunk %d: %w", id, err)
	}
	chunk.ID = types.ChunkID(raw | ChunkIDBit)
	if headings != "" {
		chunk.HeadingPath = strings.Split(headings, "\x1f")
	}
	copy(chunk.ContentHash[:], hash)
	return chunk, nil
}

// ChunkIDsByFile returns the tagged identifiers of all chunks in a file
func (s *SQLiteStorage) ChunkIDsByFile(ctx context.Context, fileID int64) ([]types.ChunkID, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM chunks WHERE file_id = ? ORDER BY id`, fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunk ids: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []types.ChunkID
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan chunk id: %w", err)
		}
		ids = append(ids, types.ChunkID(id|ChunkIDBit))
	}
	return ids, rows.Err()
}

// DeleteChunksByFile removes all chunks belonging to a file
func (s *SQLiteStorage) DeleteChunksByFile(ctx context.Context, fileID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE file_id = ?`, fileID)
	if err != nil {
		return fmt.Errorf("failed to delete chunks for file %d: %w", fileID, err)
	}
	return nil
}
