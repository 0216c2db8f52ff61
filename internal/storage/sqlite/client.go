package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/covermap/backend/internal/storage/models"
	"github.com/covermap/backend/pkg/logger"
)

var ErrNotFound = errors.New("row not found")

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS regulatory_sources (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		short_code TEXT NOT NULL UNIQUE,
		jurisdiction TEXT,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS controls (
		id TEXT PRIMARY KEY,
		source_id TEXT NOT NULL,
		code TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (source_id) REFERENCES regulatory_sources(id) ON DELETE CASCADE,
		UNIQUE (source_id, code)
	);
	CREATE INDEX IF NOT EXISTS idx_controls_source ON controls(source_id);

	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS document_versions (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		state TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_versions_document ON document_versions(document_id);
	CREATE INDEX IF NOT EXISTS idx_versions_state ON document_versions(state);

	CREATE TABLE IF NOT EXISTS mappings (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		control_id TEXT NOT NULL,
		coverage_status TEXT NOT NULL,
		provenance TEXT NOT NULL,
		match_score INTEGER,
		rationale TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE,
		FOREIGN KEY (control_id) REFERENCES controls(id) ON DELETE CASCADE,
		UNIQUE (document_id, control_id)
	);
	CREATE INDEX IF NOT EXISTS idx_mappings_document ON mappings(document_id);
	CREATE INDEX IF NOT EXISTS idx_mappings_control ON mappings(control_id);
	CREATE INDEX IF NOT EXISTS idx_mappings_provenance ON mappings(document_id, provenance);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func (c *Client) InsertSource(source *models.RegulatorySource) error {
	query := `INSERT OR IGNORE INTO regulatory_sources (id, name, short_code, jurisdiction, created_at) VALUES (?, ?, ?, ?, ?)`

	_, err := c.db.Exec(
		query,
		source.ID,
		source.Name,
		source.ShortCode,
		source.Jurisdiction,
		source.CreatedAt.Unix(),
	)

	if err != nil {
		return fmt.Errorf("failed to insert regulatory source: %w", err)
	}

	return nil
}

func (c *Client) GetSourceByCode(shortCode string) (*models.RegulatorySource, error) {
	query := `SELECT id, name, short_code, jurisdiction, created_at FROM regulatory_sources WHERE short_code = ?`

	var s models.RegulatorySource
	var createdAt int64

	err := c.db.QueryRow(query, shortCode).Scan(&s.ID, &s.Name, &s.ShortCode, &s.Jurisdiction, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get regulatory source: %w", err)
	}

	s.CreatedAt = time.Unix(createdAt, 0)
	return &s, nil
}

func (c *Client) ListSources() ([]models.RegulatorySource, error) {
	query := `SELECT id, name, short_code, jurisdiction, created_at FROM regulatory_sources ORDER BY short_code`

	rows, err := c.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list regulatory sources: %w", err)
	}
	defer rows.Close()

	var sources []models.RegulatorySource
	for rows.Next() {
		var s models.RegulatorySource
		var createdAt int64

		err := rows.Scan(&s.ID, &s.Name, &s.ShortCode, &s.Jurisdiction, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		s.CreatedAt = time.Unix(createdAt, 0)
		sources = append(sources, s)
	}

	return sources, rows.Err()
}

func (c *Client) InsertControl(control *models.Control) error {
	query := `
		INSERT INTO controls (id, source_id, code, title, description, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_id, code) DO UPDATE SET
			title = excluded.title,
			description = excluded.description
	`

	_, err := c.db.Exec(
		query,
		control.ID,
		control.SourceID,
		control.Code,
		control.Title,
		control.Description,
		control.CreatedAt.Unix(),
	)

	if err != nil {
		return fmt.Errorf("failed to insert control: %w", err)
	}

	return nil
}

// ListControlsPage returns one keyset page of controls ordered by id.
// afterID is the last id of the previous page, empty for the first page.
// sourceCodes narrows the owning frameworks when non-empty.
func (c *Client) ListControlsPage(ctx context.Context, afterID string, limit int, sourceCodes []string) ([]models.Control, error) {
	query := `
		SELECT c.id, c.source_id, c.code, c.title, c.description, c.created_at
		FROM controls c
		JOIN regulatory_sources s ON s.id = c.source_id
		WHERE c.id > ?
	`
	args := []interface{}{afterID}

	if len(sourceCodes) > 0 {
		query += ` AND s.short_code IN (?` + strings.Repeat(",?", len(sourceCodes)-1) + `)`
		for _, code := range sourceCodes {
			args = append(args, code)
		}
	}

	query += ` ORDER BY c.id LIMIT ?`
	args = append(args, limit)

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list controls: %w", err)
	}
	defer rows.Close()

	var controls []models.Control
	for rows.Next() {
		var ctl models.Control
		var createdAt int64

		err := rows.Scan(&ctl.ID, &ctl.SourceID, &ctl.Code, &ctl.Title, &ctl.Description, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		ctl.CreatedAt = time.Unix(createdAt, 0)
		controls = append(controls, ctl)
	}

	return controls, rows.Err()
}

func (c *Client) InsertDocument(doc *models.Document) error {
	query := `INSERT INTO documents (id, title, created_at, updated_at) VALUES (?, ?, ?, ?)`

	_, err := c.db.Exec(query, doc.ID, doc.Title, doc.CreatedAt.Unix(), doc.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}

	return nil
}

func (c *Client) GetDocument(id string) (*models.Document, error) {
	query := `SELECT id, title, created_at, updated_at FROM documents WHERE id = ?`

	var doc models.Document
	var createdAt, updatedAt int64

	err := c.db.QueryRow(query, id).Scan(&doc.ID, &doc.Title, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	doc.CreatedAt = time.Unix(createdAt, 0)
	doc.UpdatedAt = time.Unix(updatedAt, 0)
	return &doc, nil
}

func (c *Client) InsertVersion(version *models.DocumentVersion) error {
	query := `INSERT INTO document_versions (id, document_id, state, content, created_at) VALUES (?, ?, ?, ?, ?)`

	_, err := c.db.Exec(
		query,
		version.ID,
		version.DocumentID,
		string(version.State),
		version.Content,
		version.CreatedAt.Unix(),
	)

	if err != nil {
		return fmt.Errorf("failed to insert document version: %w", err)
	}

	return nil
}

func (c *Client) SetVersionState(versionID string, state models.VersionState) error {
	result, err := c.db.Exec(`UPDATE document_versions SET state = ? WHERE id = ?`, string(state), versionID)
	if err != nil {
		return fmt.Errorf("failed to update version state: %w", err)
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

// GetQualifyingContent returns the text of the latest approved or published
// version. The second return is false when no qualifying version exists.
func (c *Client) GetQualifyingContent(documentID string) (string, bool, error) {
	query := `
		SELECT content FROM document_versions
		WHERE document_id = ? AND state IN ('approved', 'published') AND content != ''
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`

	var content string
	err := c.db.QueryRow(query, documentID).Scan(&content)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get qualifying content: %w", err)
	}

	return content, true, nil
}

func (c *Client) InsertMapping(m *models.Mapping) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("invalid mapping: %w", err)
	}

	query := `
		INSERT INTO mappings (id, document_id, control_id, coverage_status, provenance, match_score, rationale, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.Exec(
		query,
		m.ID,
		m.DocumentID,
		m.ControlID,
		string(m.CoverageStatus),
		string(m.Provenance),
		scoreArg(m.MatchScore),
		m.Rationale,
		m.CreatedAt.Unix(),
		m.UpdatedAt.Unix(),
	)

	if err != nil {
		return fmt.Errorf("failed to insert mapping: %w", err)
	}

	logger.Debug("Mapping inserted",
		zap.String("document_id", m.DocumentID),
		zap.String("control_id", m.ControlID),
		zap.String("provenance", string(m.Provenance)),
	)
	return nil
}

func (c *Client) GetMapping(id string) (*models.Mapping, error) {
	query := `
		SELECT id, document_id, control_id, coverage_status, provenance, match_score, rationale, created_at, updated_at
		FROM mappings WHERE id = ?
	`

	m, err := scanMapping(c.db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get mapping: %w", err)
	}

	return m, nil
}

func (c *Client) FindMappingByPair(documentID, controlID string) (*models.Mapping, error) {
	query := `
		SELECT id, document_id, control_id, coverage_status, provenance, match_score, rationale, created_at, updated_at
		FROM mappings WHERE document_id = ? AND control_id = ?
	`

	m, err := scanMapping(c.db.QueryRow(query, documentID, controlID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find mapping: %w", err)
	}

	return m, nil
}

func (c *Client) ListMappingsByDocument(documentID string) ([]models.Mapping, error) {
	query := `
		SELECT id, document_id, control_id, coverage_status, provenance, match_score, rationale, created_at, updated_at
		FROM mappings WHERE document_id = ?
		ORDER BY created_at, id
	`

	rows, err := c.db.Query(query, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list mappings: %w", err)
	}
	defer rows.Close()

	var mappings []models.Mapping
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		mappings = append(mappings, *m)
	}

	return mappings, rows.Err()
}

// DeleteMapping removes a row regardless of provenance. Manual authority
// only; the orchestrator goes through ApplyRunChanges.
func (c *Client) DeleteMapping(id string) (bool, error) {
	result, err := c.db.Exec(`DELETE FROM mappings WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete mapping: %w", err)
	}

	affected, _ := result.RowsAffected()
	return affected > 0, nil
}

func (c *Client) UpdateMappingReview(id string, status models.CoverageStatus, rationale *string) error {
	if !status.Valid() {
		return fmt.Errorf("invalid coverage status %q", status)
	}

	query := `UPDATE mappings SET coverage_status = ?, updated_at = ? WHERE id = ?`
	args := []interface{}{string(status), time.Now().Unix(), id}

	if rationale != nil {
		query = `UPDATE mappings SET coverage_status = ?, rationale = ?, updated_at = ? WHERE id = ?`
		args = []interface{}{string(status), *rationale, time.Now().Unix(), id}
	}

	result, err := c.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("failed to update mapping: %w", err)
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

// ApplyRunChanges commits one matching run as a single transaction.
// Upserts update in place on a (document_id, control_id) conflict but never
// overwrite a manual row; deletes only remove automated rows. Returns the
// number of rows actually deleted.
func (c *Client) ApplyRunChanges(ctx context.Context, documentID string, upserts []models.Mapping, deleteIDs []string) (int, error) {
	for i := range upserts {
		if err := upserts[i].Validate(); err != nil {
			return 0, fmt.Errorf("invalid mapping for control %s: %w", upserts[i].ControlID, err)
		}
		if upserts[i].DocumentID != documentID {
			return 0, fmt.Errorf("mapping document %s does not match run document %s", upserts[i].DocumentID, documentID)
		}
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	upsertQuery := `
		INSERT INTO mappings (id, document_id, control_id, coverage_status, provenance, match_score, rationale, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(document_id, control_id) DO UPDATE SET
			coverage_status = excluded.coverage_status,
			match_score = excluded.match_score,
			rationale = excluded.rationale,
			updated_at = excluded.updated_at
		WHERE mappings.provenance = 'automated'
	`

	for _, m := range upserts {
		_, err := tx.ExecContext(
			ctx,
			upsertQuery,
			m.ID,
			m.DocumentID,
			m.ControlID,
			string(m.CoverageStatus),
			string(m.Provenance),
			scoreArg(m.MatchScore),
			m.Rationale,
			m.CreatedAt.Unix(),
			m.UpdatedAt.Unix(),
		)
		if err != nil {
			return 0, fmt.Errorf("failed to upsert mapping for control %s: %w", m.ControlID, err)
		}
	}

	removed := 0
	for _, id := range deleteIDs {
		result, err := tx.ExecContext(ctx, `DELETE FROM mappings WHERE id = ? AND provenance = 'automated'`, id)
		if err != nil {
			return 0, fmt.Errorf("failed to delete mapping %s: %w", id, err)
		}
		affected, _ := result.RowsAffected()
		removed += int(affected)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit run changes: %w", err)
	}

	logger.Info("Run changes applied",
		zap.String("document_id", documentID),
		zap.Int("upserts", len(upserts)),
		zap.Int("removed", removed),
	)
	return removed, nil
}

func (c *Client) CountAutomatedMappings(documentID string) (int, error) {
	var count int
	err := c.db.QueryRow(
		`SELECT COUNT(*) FROM mappings WHERE document_id = ? AND provenance = 'automated'`,
		documentID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count automated mappings: %w", err)
	}
	return count, nil
}

func (c *Client) GetDocumentCoverage(documentID string) (*models.DocumentCoverage, error) {
	query := `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN coverage_status = 'covered' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN coverage_status = 'partially_covered' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN coverage_status = 'not_covered' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN provenance = 'manual' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN provenance = 'automated' THEN 1 ELSE 0 END), 0)
		FROM mappings WHERE document_id = ?
	`

	cov := models.DocumentCoverage{DocumentID: documentID}
	err := c.db.QueryRow(query, documentID).Scan(
		&cov.TotalMapped,
		&cov.Covered,
		&cov.PartiallyCovered,
		&cov.NotCovered,
		&cov.Manual,
		&cov.Automated,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get document coverage: %w", err)
	}

	return &cov, nil
}

func (c *Client) ListSourceCoverage() ([]models.SourceCoverage, error) {
	query := `
		SELECT s.id, s.name, s.short_code,
			COUNT(DISTINCT c.id),
			COUNT(DISTINCT m.control_id)
		FROM regulatory_sources s
		LEFT JOIN controls c ON c.source_id = s.id
		LEFT JOIN mappings m ON m.control_id = c.id
		GROUP BY s.id, s.name, s.short_code
		ORDER BY s.short_code
	`

	rows, err := c.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list source coverage: %w", err)
	}
	defer rows.Close()

	var coverage []models.SourceCoverage
	for rows.Next() {
		var sc models.SourceCoverage
		err := rows.Scan(&sc.SourceID, &sc.SourceName, &sc.SourceCode, &sc.TotalControls, &sc.MappedControls)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		coverage = append(coverage, sc)
	}

	return coverage, rows.Err()
}

type ElementFilter struct {
	SourceCode string
	Code       string
	Search     string
}

var elementSortColumns = map[string]string{
	"code":    "c.code",
	"score":   "m.match_score",
	"status":  "m.coverage_status",
	"updated": "m.updated_at",
}

// ListMappedElements returns the flattened mapping view for one document
// with filtering, a stable sort and offset pagination. The total count is
// computed against the same filter.
func (c *Client) ListMappedElements(documentID string, filter ElementFilter, sortBy string, page, pageSize int) ([]models.MappedElement, int, error) {
	where := `WHERE m.document_id = ?`
	args := []interface{}{documentID}

	if filter.SourceCode != "" {
		where += ` AND s.short_code = ?`
		args = append(args, filter.SourceCode)
	}
	if filter.Code != "" {
		where += ` AND c.code = ?`
		args = append(args, filter.Code)
	}
	if filter.Search != "" {
		where += ` AND (c.title LIKE ? OR c.description LIKE ? OR m.rationale LIKE ?)`
		pattern := "%" + filter.Search + "%"
		args = append(args, pattern, pattern, pattern)
	}

	from := `
		FROM mappings m
		JOIN controls c ON c.id = m.control_id
		JOIN regulatory_sources s ON s.id = c.source_id
	`

	var total int
	err := c.db.QueryRow(`SELECT COUNT(*) `+from+where, args...).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count mapped elements: %w", err)
	}

	orderCol, ok := elementSortColumns[sortBy]
	if !ok {
		orderCol = "c.code"
	}

	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 25
	}

	query := `
		SELECT m.id, m.document_id, m.control_id, c.code, c.title,
			s.id, s.name, s.short_code,
			m.coverage_status, m.provenance, m.match_score, m.rationale, m.updated_at
	` + from + where + ` ORDER BY ` + orderCol + `, m.id LIMIT ? OFFSET ?`
	args = append(args, pageSize, (page-1)*pageSize)

	rows, err := c.db.Query(query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list mapped elements: %w", err)
	}
	defer rows.Close()

	var elements []models.MappedElement
	for rows.Next() {
		var e models.MappedElement
		var status, provenance string
		var score sql.NullInt64
		var updatedAt int64

		err := rows.Scan(
			&e.MappingID,
			&e.DocumentID,
			&e.ControlID,
			&e.ControlCode,
			&e.ControlTitle,
			&e.SourceID,
			&e.SourceName,
			&e.SourceCode,
			&status,
			&provenance,
			&score,
			&e.Rationale,
			&updatedAt,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan row: %w", err)
		}

		e.CoverageStatus = models.CoverageStatus(status)
		e.Provenance = models.Provenance(provenance)
		if score.Valid {
			v := int(score.Int64)
			e.MatchScore = &v
		}
		e.UpdatedAt = time.Unix(updatedAt, 0)
		elements = append(elements, e)
	}

	return elements, total, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMapping(row rowScanner) (*models.Mapping, error) {
	var m models.Mapping
	var status, provenance string
	var score sql.NullInt64
	var createdAt, updatedAt int64

	err := row.Scan(
		&m.ID,
		&m.DocumentID,
		&m.ControlID,
		&status,
		&provenance,
		&score,
		&m.Rationale,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	m.CoverageStatus = models.CoverageStatus(status)
	m.Provenance = models.Provenance(provenance)
	if score.Valid {
		v := int(score.Int64)
		m.MatchScore = &v
	}
	m.CreatedAt = time.Unix(createdAt, 0)
	m.UpdatedAt = time.Unix(updatedAt, 0)
	return &m, nil
}

func scoreArg(score *int) interface{} {
	if score == nil {
		return nil
	}
	return *score
}
