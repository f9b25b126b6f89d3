package storage

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSigner(t *testing.T) *Signer {
	t.Helper()
	signer, err := NewSigner("0123456789abcdef-test", "mileage-reports")
	require.NoError(t, err)
	return signer
}

func TestSignerRoundTrip(t *testing.T) {
	signer := newTestSigner(t)

	token, err := signer.Sign("reports/j1.pdf", time.Hour)
	require.NoError(t, err)

	key, err := signer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "reports/j1.pdf", key)
}

func TestSignerRejectsExpiredAndForeignTokens(t *testing.T) {
	signer := newTestSigner(t)
	issued := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	signer.now = func() time.Time { return issued }

	token, err := signer.Sign("reports/j1.pdf", time.Minute)
	require.NoError(t, err)

	signer.now = func() time.Time { return issued.Add(2 * time.Minute) }
	_, err = signer.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	other, err := NewSigner("another-secret-of-16-bytes", "mileage-reports")
	require.NoError(t, err)
	foreign, err := other.Sign("reports/j1.pdf", time.Hour)
	require.NoError(t, err)
	signer.now = time.Now
	_, err = signer.Verify(foreign)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewSignerRequiresLongSecret(t *testing.T) {
	_, err := NewSigner("short", "x")
	assert.Error(t, err)
}

func TestBoltStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store, err := NewBoltStore(filepath.Join(t.TempDir(), "blobs.db"), newTestSigner(t), "http://api.local/")
	require.NoError(t, err)
	defer store.Close()

	exists, err := store.Exists(ctx, "reports/j1.pdf")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = store.SignedURL(ctx, "reports/j1.pdf", time.Hour)
	assert.ErrorIs(t, err, ErrObjectNotFound)

	require.NoError(t, store.Put(ctx, "reports/j1.pdf", []byte("%PDF-1.3 v1"), "application/pdf"))
	require.NoError(t, store.Put(ctx, "reports/j1.pdf", []byte("%PDF-1.3 v2"), "application/pdf"))

	exists, err = store.Exists(ctx, "reports/j1.pdf")
	require.NoError(t, err)
	assert.True(t, exists)

	url, err := store.SignedURL(ctx, "reports/j1.pdf", time.Hour)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(url, "http://api.local/v1/blobs/"), url)

	key, object, err := store.Open(ctx, strings.TrimPrefix(url, "http://api.local/v1/blobs/"))
	require.NoError(t, err)
	assert.Equal(t, "reports/j1.pdf", key)
	assert.Equal(t, "application/pdf", object.ContentType)
	assert.Equal(t, []byte("%PDF-1.3 v2"), object.Data)

	require.NoError(t, store.Delete(ctx, "reports/j1.pdf"))
	_, _, err = store.Open(ctx, strings.TrimPrefix(url, "http://api.local/v1/blobs/"))
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Put(ctx, "k", []byte("a"), "text/plain"))
	require.NoError(t, store.Put(ctx, "k", []byte("b"), "text/plain"))
	assert.Equal(t, 2, store.PutCount("k"))

	url, err := store.SignedURL(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.Contains(t, url, "memory://k")

	require.NoError(t, store.Delete(ctx, "k"))
	exists, err := store.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, exists)
}
