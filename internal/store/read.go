package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// GetBySource looks an artifact up by its memoization key. The second
// return is false on a cache miss.
func (s *Store) GetBySource(ctx context.Context, sourceHash, module string) (*Artifact, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT graph_hash, module, source_hash, descriptor, dump
		FROM artifacts
		WHERE source_hash = ? AND module = ?
	`, sourceHash, module)
	return scanArtifact(row)
}

// GetByHash looks an artifact up by its graph content hash.
func (s *Store) GetByHash(ctx context.Context, graphHash string) (*Artifact, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT graph_hash, module, source_hash, descriptor, dump
		FROM artifacts
		WHERE graph_hash = ?
	`, graphHash)
	return scanArtifact(row)
}

func scanArtifact(row *sql.Row) (*Artifact, bool, error) {
	var a Artifact
	err := row.Scan(&a.GraphHash, &a.Module, &a.SourceHash, &a.Descriptor, &a.Dump)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("scan artifact: %w", err)
	}
	return &a, true, nil
}

// CountArtifacts returns the cache size. Used by the CLI status output
// and tests.
func (s *Store) CountArtifacts(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM artifacts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count artifacts: %w", err)
	}
	return n, nil
}
