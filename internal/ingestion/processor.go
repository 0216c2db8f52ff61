package ingestion

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/covermap/backend/internal/mapping"
	"github.com/covermap/backend/internal/metrics"
	"github.com/covermap/backend/internal/storage/models"
	"github.com/covermap/backend/internal/storage/sqlite"
	"github.com/covermap/backend/pkg/logger"
)

var whitespacePattern = regexp.MustCompile(`\s+`)

var ErrVersionNotFound = errors.New("document version not found")

// Processor handles document and framework intake: registering documents,
// attaching extracted version text, and seeding regulatory sources with
// their controls. Matching only ever sees the latest approved version.
type Processor struct {
	db *sqlite.Client
}

func NewProcessor(db *sqlite.Client) *Processor {
	return &Processor{db: db}
}

func (p *Processor) CreateDocument(title string) (*models.Document, error) {
	if strings.TrimSpace(title) == "" {
		return nil, fmt.Errorf("document title is required")
	}

	now := time.Now()
	doc := &models.Document{
		ID:        uuid.New().String(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := p.db.InsertDocument(doc); err != nil {
		return nil, fmt.Errorf("failed to create document: %w", err)
	}

	logger.Info("Document created", zap.String("document_id", doc.ID), zap.String("title", title))
	return doc, nil
}

// AddVersion attaches a new draft version. HTML content is reduced to plain
// text; versions do not qualify for matching until approved.
func (p *Processor) AddVersion(documentID, content, contentType string) (*models.DocumentVersion, error) {
	if _, err := p.db.GetDocument(documentID); err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			return nil, mapping.ErrDocumentNotFound
		}
		return nil, fmt.Errorf("failed to load document: %w", err)
	}

	text := content
	if strings.Contains(contentType, "html") {
		text = CleanHTML(content)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("no text content in version")
	}

	version := &models.DocumentVersion{
		ID:         uuid.New().String(),
		DocumentID: documentID,
		State:      models.VersionDraft,
		Content:    text,
		CreatedAt:  time.Now(),
	}

	if err := p.db.InsertVersion(version); err != nil {
		return nil, fmt.Errorf("failed to store version: %w", err)
	}

	metrics.DocumentsIngested.Inc()
	logger.Info("Document version ingested",
		zap.String("document_id", documentID),
		zap.String("version_id", version.ID),
		zap.Int("content_length", len(text)),
	)
	return version, nil
}

func (p *Processor) ApproveVersion(versionID string) error {
	err := p.db.SetVersionState(versionID, models.VersionApproved)
	if errors.Is(err, sqlite.ErrNotFound) {
		return ErrVersionNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to approve version: %w", err)
	}

	logger.Info("Document version approved", zap.String("version_id", versionID))
	return nil
}

type FrameworkSeed struct {
	Name         string
	ShortCode    string
	Jurisdiction string
	Controls     []ControlSeed
}

type ControlSeed struct {
	Code        string
	Title       string
	Description string
}

// SeedFramework registers a regulatory source and its controls. Re-seeding
// the same short code refreshes control titles and descriptions in place.
func (p *Processor) SeedFramework(seed FrameworkSeed) (*models.RegulatorySource, error) {
	if seed.ShortCode == "" || seed.Name == "" {
		return nil, fmt.Errorf("framework name and short code are required")
	}

	source := &models.RegulatorySource{
		ID:           uuid.New().String(),
		Name:         seed.Name,
		ShortCode:    seed.ShortCode,
		Jurisdiction: seed.Jurisdiction,
		CreatedAt:    time.Now(),
	}

	if err := p.db.InsertSource(source); err != nil {
		return nil, fmt.Errorf("failed to seed framework: %w", err)
	}

	// InsertSource ignores duplicates; re-read so controls attach to the
	// row that actually exists.
	stored, err := p.db.GetSourceByCode(seed.ShortCode)
	if err != nil {
		return nil, fmt.Errorf("failed to load seeded framework: %w", err)
	}

	for _, cs := range seed.Controls {
		control := &models.Control{
			ID:          uuid.New().String(),
			SourceID:    stored.ID,
			Code:        cs.Code,
			Title:       cs.Title,
			Description: cs.Description,
			CreatedAt:   time.Now(),
		}
		if err := p.db.InsertControl(control); err != nil {
			return nil, fmt.Errorf("failed to seed control %s: %w", cs.Code, err)
		}
	}

	logger.Info("Framework seeded",
		zap.String("short_code", seed.ShortCode),
		zap.Int("controls", len(seed.Controls)),
	)
	return stored, nil
}

// CleanHTML strips markup and collapses whitespace, keeping only the visible
// text of a document version.
func CleanHTML(htmlContent string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlContent))
	if err != nil {
		logger.Warn("Failed to parse HTML, keeping raw content", zap.Error(err))
		return htmlContent
	}

	doc.Find("script, style, noscript, nav, footer, header").Remove()

	text := doc.Find("body").Text()
	if text == "" {
		text = doc.Text()
	}

	return strings.TrimSpace(whitespacePattern.ReplaceAllString(text, " "))
}
