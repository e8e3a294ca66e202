package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Artifact is one cached compilation result.
type Artifact struct {
	GraphHash  string
	Module     string
	SourceHash string
	Descriptor []byte
	Dump       string
}

// PutArtifact publishes an artifact. Content addressing makes the
// write idempotent: republishing the same graph hash is a no-op, and a
// concurrent writer racing on the same hash cannot produce a different
// row because identical hashes imply identical content.
func (s *Store) PutArtifact(ctx context.Context, a Artifact) error {
	if a.GraphHash == "" {
		return fmt.Errorf("artifact has empty graph hash")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO artifacts (graph_hash, module, source_hash, descriptor, dump)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(graph_hash) DO NOTHING
	`, a.GraphHash, a.Module, a.SourceHash, a.Descriptor, a.Dump)
	if err != nil {
		return fmt.Errorf("put artifact %s: %w", a.GraphHash, err)
	}
	return nil
}

// BeginRun records the start of one pipeline invocation.
func (s *Store) BeginRun(ctx context.Context, id, manifestHash string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, manifest_hash, status) VALUES (?, ?, 'running')
	`, id, manifestHash)
	if err != nil {
		return fmt.Errorf("begin run %s: %w", id, err)
	}
	return nil
}

// FinishRun records the outcome of a run.
func (s *Store) FinishRun(ctx context.Context, id, status string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs
		SET status = ?, finished_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
		WHERE id = ?
	`, status, id)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish run %s: %w", id, err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
