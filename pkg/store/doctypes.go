package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// DefaultDocumentTypes seeds the registry on first start so the
// classifier has a vocabulary to converge on before any reviews happen.
var DefaultDocumentTypes = []string{
	"bank_statement",
	"bill",
	"contract",
	"identification",
	"insurance_document",
	"invoice",
	"letter",
	"medical_record",
	"receipt",
	"tax_document",
}

// DocTypeStore manages the registry of known document types and the
// suggestion queue for types the classifier proposes.
type DocTypeStore struct {
	db *sqlx.DB
}

// List returns all registered type names, alphabetical.
func (s *DocTypeStore) List(ctx context.Context) ([]string, error) {
	var names []string
	err := s.db.SelectContext(ctx, &names,
		`SELECT type_name FROM document_types ORDER BY type_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list document types: %w", err)
	}
	return names, nil
}

// Exists reports whether a type is registered.
func (s *DocTypeStore) Exists(ctx context.Context, typeName string) (bool, error) {
	var found bool
	err := s.db.GetContext(ctx, &found,
		`SELECT EXISTS (SELECT 1 FROM document_types WHERE type_name = $1)`, typeName)
	if err != nil {
		return false, fmt.Errorf("failed to check document type %q: %w", typeName, err)
	}
	return found, nil
}

// Ensure registers a type name, idempotently.
func (s *DocTypeStore) Ensure(ctx context.Context, typeName string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO document_types (type_name)
		VALUES ($1)
		ON CONFLICT (type_name) DO NOTHING`, typeName)
	if err != nil {
		return fmt.Errorf("failed to register document type %q: %w", typeName, err)
	}
	return nil
}

// EnsureDefaults registers the built-in type vocabulary. Called once at
// startup; already-registered types are untouched.
func (s *DocTypeStore) EnsureDefaults(ctx context.Context) error {
	for _, typeName := range DefaultDocumentTypes {
		if err := s.Ensure(ctx, typeName); err != nil {
			return err
		}
	}
	return nil
}

// SuggestType queues a classifier-proposed type for manual review. A
// type already awaiting review is not queued again; the partial unique
// index on pending suggestions makes the insert a no-op.
func (s *DocTypeStore) SuggestType(ctx context.Context, documentID, suggestedType string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO document_type_suggestions (suggested_type, document_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, suggestedType, documentID)
	if err != nil {
		return fmt.Errorf("failed to record type suggestion %q: %w", suggestedType, err)
	}
	return nil
}
