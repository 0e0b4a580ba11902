// Package migrations embeds SQL migration files for use in tests and tooling.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
)

//go:embed *.sql
var FS embed.FS

// UpFiles lists the *.up.sql migrations in apply order.
func UpFiles() ([]string, error) {
	entries, err := fs.ReadDir(FS, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".up.sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

// Apply executes every up migration. The statements are idempotent, so
// re-applying against a migrated database is safe.
func Apply(ctx context.Context, db *sql.DB) ([]string, error) {
	files, err := UpFiles()
	if err != nil {
		return nil, err
	}
	for _, file := range files {
		content, err := fs.ReadFile(FS, file)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", file, err)
		}
		if _, err := db.ExecContext(ctx, string(content)); err != nil {
			return nil, fmt.Errorf("execute migration %s: %w", file, err)
		}
	}
	return files, nil
}
