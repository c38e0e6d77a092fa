package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"sourcekit/internal/domain"
)

// ExtensionStore implements domain.DescriptorStore.
type ExtensionStore struct {
	db *sql.DB
}

var _ domain.DescriptorStore = (*ExtensionStore)(nil)

const extensionColumns = "id, name, author, description, version, icon, repository_url, engine, content_rating, language, source, installed_at, updated_at"

func (s *ExtensionStore) Get(ctx context.Context, id string) (*domain.Descriptor, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+extensionColumns+" FROM extensions WHERE id = ?", id)
	d, err := scanDescriptor(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewSubSystemError("extension", "ExtensionStore.Get", domain.ErrNotFound, id)
	}
	return d, err
}

// List returns every installed descriptor ordered by ID. Cached source text
// is not loaded.
func (s *ExtensionStore) List(ctx context.Context) ([]domain.Descriptor, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, author, description, version, icon, repository_url, engine, content_rating, language, NULL, installed_at, updated_at FROM extensions ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Descriptor
	for rows.Next() {
		d, err := scanDescriptor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// Save inserts d or replaces the stored copy. InstalledAt is kept from the
// first insert; UpdatedAt is set to now.
func (s *ExtensionStore) Save(ctx context.Context, d *domain.Descriptor) error {
	if d.ID == "" {
		return domain.NewDomainError("ExtensionStore.Save", domain.ErrInvalidInput, "empty extension id")
	}
	now := time.Now().UTC()
	if d.InstalledAt.IsZero() {
		d.InstalledAt = now
	}
	d.UpdatedAt = now
	engine := d.EngineOrDefault()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO extensions (`+extensionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			author = excluded.author,
			description = excluded.description,
			version = excluded.version,
			icon = excluded.icon,
			repository_url = excluded.repository_url,
			engine = excluded.engine,
			content_rating = excluded.content_rating,
			language = excluded.language,
			source = excluded.source,
			updated_at = excluded.updated_at`,
		d.ID, d.Name, d.Author, d.Description, d.Version, d.Icon, d.RepositoryURL,
		string(engine), d.ContentRating, d.Language, d.Source,
		d.InstalledAt.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save extension %s: %w", d.ID, err)
	}
	return nil
}

func (s *ExtensionStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM extensions WHERE id = ?", id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.NewSubSystemError("extension", "ExtensionStore.Delete", domain.ErrNotFound, id)
	}
	// State belongs to the extension; keychain entries go with it.
	if _, err := s.db.ExecContext(ctx, "DELETE FROM extension_state WHERE extension_id = ?", id); err != nil {
		return fmt.Errorf("delete state for %s: %w", id, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDescriptor(row scanner) (*domain.Descriptor, error) {
	var d domain.Descriptor
	var engine, installedStr, updatedStr string
	var source []byte
	if err := row.Scan(&d.ID, &d.Name, &d.Author, &d.Description, &d.Version, &d.Icon,
		&d.RepositoryURL, &engine, &d.ContentRating, &d.Language, &source, &installedStr, &updatedStr); err != nil {
		return nil, err
	}
	d.Engine = domain.Engine(engine)
	d.Source = source
	d.InstalledAt, _ = time.Parse(time.RFC3339Nano, installedStr)
	d.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedStr)
	return &d, nil
}
