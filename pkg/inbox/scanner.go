// Package inbox registers document folders dropped into the inbox
// directory. A folder is a document: it carries a meta.json manifest and
// the page files. Registration is idempotent by document id, so repeated
// sweeps over the same folder are harmless.
package inbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/docuflow/docuflow/pkg/events"
	"github.com/docuflow/docuflow/pkg/models"
	"github.com/docuflow/docuflow/pkg/store"
)

// Meta is the meta.json manifest contract.
type Meta struct {
	ID        string     `json:"id" validate:"required,uuid"`
	CreatedAt string     `json:"created_at" validate:"required"`
	Documents []MetaFile `json:"documents" validate:"required,min=1,dive"`
	Metadata  MetaExtra  `json:"metadata"`
}

// MetaFile is one page file entry.
type MetaFile struct {
	File  string `json:"file" validate:"required"`
	Type  string `json:"type"`
	Order int    `json:"order"`
}

// MetaExtra carries ingestion hints.
type MetaExtra struct {
	Source string   `json:"source"`
	Tags   []string `json:"tags"`
}

// Scanner sweeps the inbox directory.
type Scanner struct {
	store    *store.Store
	events   *events.Logger
	validate *validator.Validate
	inboxDir string
	userID   string
	logger   *slog.Logger
}

// NewScanner wires an inbox scanner.
func NewScanner(st *store.Store, ev *events.Logger, inboxDir, userID string, logger *slog.Logger) *Scanner {
	return &Scanner{
		store:    st,
		events:   ev,
		validate: validator.New(),
		inboxDir: inboxDir,
		userID:   userID,
		logger:   logger.With("component", "inbox"),
	}
}

// Scan registers every valid, unregistered document folder. Invalid
// folders are skipped with an error event and no row; they stay in place
// for the user to fix. Returns the number of newly registered documents.
func (s *Scanner) Scan(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(s.inboxDir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read inbox dir: %w", err)
	}

	registered := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if ctx.Err() != nil {
			return registered, ctx.Err()
		}

		folder := filepath.Join(s.inboxDir, entry.Name())
		created, err := s.registerFolder(ctx, folder)
		if err != nil {
			s.logger.Warn("Skipping invalid inbox folder",
				"folder", entry.Name(), "error", err)
			s.events.Scan(ctx, "folder_rejected", map[string]any{
				"folder": entry.Name(),
				"error":  err.Error(),
			})
			continue
		}
		if created {
			registered++
		}
	}

	if registered > 0 {
		s.logger.Info("Inbox scan registered documents", "count", registered)
		s.events.Scan(ctx, "scan_completed", map[string]any{"registered": registered})
	}
	return registered, nil
}

// registerFolder validates one folder and creates its document row.
// Returns false without error when the document is already registered.
func (s *Scanner) registerFolder(ctx context.Context, folder string) (bool, error) {
	meta, err := s.readMeta(folder)
	if err != nil {
		return false, err
	}

	exists, err := s.store.Documents.Exists(ctx, meta.ID)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	doc := &models.Document{
		ID:         meta.ID,
		UserID:     s.userID,
		Filename:   meta.Documents[0].File,
		FolderPath: folder,
	}
	if err := s.store.Documents.Create(ctx, doc); err != nil {
		// A concurrent sweep won the race; the document is registered.
		if errors.Is(err, store.ErrAlreadyExists) {
			return false, nil
		}
		return false, err
	}

	for _, tag := range meta.Metadata.Tags {
		if _, err := s.store.Tags.Apply(ctx, doc.ID, tag, models.TagCreatedByUser); err != nil {
			return false, err
		}
	}

	s.events.Scan(ctx, "document_registered", map[string]any{
		"document_id": doc.ID,
		"folder":      folder,
		"source":      meta.Metadata.Source,
		"user_tags":   len(meta.Metadata.Tags),
	})
	s.logger.Info("Registered document",
		"document_id", doc.ID, "folder", folder, "pages", len(meta.Documents))
	return true, nil
}

func (s *Scanner) readMeta(folder string) (*Meta, error) {
	data, err := os.ReadFile(filepath.Join(folder, "meta.json"))
	if err != nil {
		return nil, fmt.Errorf("missing or unreadable meta.json: %w", err)
	}

	var meta Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("malformed meta.json: %w", err)
	}
	if err := s.validate.Struct(&meta); err != nil {
		return nil, fmt.Errorf("invalid meta.json: %w", err)
	}
	if _, err := time.Parse(time.RFC3339, meta.CreatedAt); err != nil {
		return nil, fmt.Errorf("invalid created_at: %w", err)
	}

	// Page files must exist before the document enters the pipeline.
	sort.Slice(meta.Documents, func(i, j int) bool {
		return meta.Documents[i].Order < meta.Documents[j].Order
	})
	for _, f := range meta.Documents {
		if _, err := os.Stat(filepath.Join(folder, f.File)); err != nil {
			return nil, fmt.Errorf("listed file %q not found: %w", f.File, err)
		}
	}
	return &meta, nil
}
