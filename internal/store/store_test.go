package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenAppliesPragmas(t *testing.T) {
	s := openTestStore(t)
	assert.NoError(t, s.verifyPragma("journal_mode", "wal"))
	assert.NoError(t, s.verifyPragma("foreign_keys", "1"))
	assert.NoError(t, s.verifyPragma("busy_timeout", "5000"))
}

func TestOpenIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")

	s1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s1.PutArtifact(context.Background(), Artifact{
		GraphHash: "g1", Module: "m", SourceHash: "s1",
		Descriptor: []byte{1, 2}, Dump: "d",
	}))
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	n, err := s2.CountArtifacts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var version int
	require.NoError(t, s2.DB().QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, currentSchemaVersion, version)
}

func TestPutGetArtifact(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	want := Artifact{
		GraphHash:  "graphhash",
		Module:     "diode",
		SourceHash: "sourcehash",
		Descriptor: []byte{0x56, 0x41, 0x4c, 0x44},
		Dump:       "module diode\n",
	}
	require.NoError(t, s.PutArtifact(ctx, want))

	got, hit, err := s.GetBySource(ctx, "sourcehash", "diode")
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, &want, got)

	got, hit, err = s.GetByHash(ctx, "graphhash")
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, &want, got)
}

func TestGetMissIsNotAnError(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a, hit, err := s.GetBySource(ctx, "nope", "nope")
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Nil(t, a)
}

func TestPutArtifactIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a := Artifact{GraphHash: "g", Module: "m", SourceHash: "s", Descriptor: []byte{1}}
	require.NoError(t, s.PutArtifact(ctx, a))
	require.NoError(t, s.PutArtifact(ctx, a))

	n, err := s.CountArtifacts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPutArtifactRejectsEmptyHash(t *testing.T) {
	s := openTestStore(t)
	err := s.PutArtifact(context.Background(), Artifact{Module: "m"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty graph hash")
}

func TestRunLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.BeginRun(ctx, "run-1", "manifesthash"))
	require.NoError(t, s.FinishRun(ctx, "run-1", "ok"))

	var status string
	var finished sql.NullString
	err := s.DB().QueryRow(`SELECT status, finished_at FROM runs WHERE id = ?`, "run-1").
		Scan(&status, &finished)
	require.NoError(t, err)
	assert.Equal(t, "ok", status)
	assert.True(t, finished.Valid)
}

func TestFinishUnknownRun(t *testing.T) {
	s := openTestStore(t)
	err := s.FinishRun(context.Background(), "missing", "ok")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}
