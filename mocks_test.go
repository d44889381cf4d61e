package arkive_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/arkivehq/arkive"
)

type SpyObjectStore struct {
	mock.Mock
}

func (s *SpyObjectStore) Put(ctx context.Context, key, contentType string, content io.Reader, size int64) (string, error) {
	args := s.Called(ctx, key, contentType, content, size)
	return args.String(0), args.Error(1)
}

func (s *SpyObjectStore) CreateMultipart(ctx context.Context, key, contentType string) (string, error) {
	args := s.Called(ctx, key, contentType)
	return args.String(0), args.Error(1)
}

func (s *SpyObjectStore) PresignPart(ctx context.Context, key, uploadID string, partNumber int, ttl time.Duration) (arkive.Capability, error) {
	args := s.Called(ctx, key, uploadID, partNumber, ttl)
	return args.Get(0).(arkive.Capability), args.Error(1)
}

func (s *SpyObjectStore) CompleteMultipart(ctx context.Context, key, uploadID string, parts []arkive.PartRecord) (string, error) {
	args := s.Called(ctx, key, uploadID, parts)
	return args.String(0), args.Error(1)
}

func (s *SpyObjectStore) AbortMultipart(ctx context.Context, key, uploadID string) error {
	args := s.Called(ctx, key, uploadID)
	return args.Error(0)
}

func (s *SpyObjectStore) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	args := s.Called(ctx, key, ttl)
	return args.String(0), args.Error(1)
}

func (s *SpyObjectStore) Delete(ctx context.Context, key string) error {
	args := s.Called(ctx, key)
	return args.Error(0)
}

type SpyCatalog struct {
	mock.Mock
}

func (s *SpyCatalog) Upsert(ctx context.Context, rec arkive.ArchiveRecord) (arkive.ArchiveRecord, error) {
	args := s.Called(ctx, rec)
	return args.Get(0).(arkive.ArchiveRecord), args.Error(1)
}

func (s *SpyCatalog) Get(ctx context.Context, fileID uuid.UUID) (arkive.ArchiveRecord, error) {
	args := s.Called(ctx, fileID)
	return args.Get(0).(arkive.ArchiveRecord), args.Error(1)
}

func (s *SpyCatalog) MarkError(ctx context.Context, fileID uuid.UUID, cause string) error {
	args := s.Called(ctx, fileID, cause)
	return args.Error(0)
}

type SpySessionRepo struct {
	mock.Mock
}

func (s *SpySessionRepo) Save(ctx context.Context, session arkive.UploadSession) error {
	args := s.Called(ctx, session)
	return args.Error(0)
}

func (s *SpySessionRepo) Get(ctx context.Context, uploadID string) (arkive.UploadSession, error) {
	args := s.Called(ctx, uploadID)
	return args.Get(0).(arkive.UploadSession), args.Error(1)
}

func (s *SpySessionRepo) Delete(ctx context.Context, uploadID string) error {
	args := s.Called(ctx, uploadID)
	return args.Error(0)
}

func (s *SpySessionRepo) ListExpired(ctx context.Context, cutoff time.Time) ([]arkive.UploadSession, error) {
	args := s.Called(ctx, cutoff)
	return args.Get(0).([]arkive.UploadSession), args.Error(1)
}

func newArchiveService(t *testing.T) (*arkive.ArchiveService, *SpyObjectStore, *SpyCatalog, *SpySessionRepo) {
	t.Helper()
	store := new(SpyObjectStore)
	catalog := new(SpyCatalog)
	sessions := new(SpySessionRepo)
	svc, err := arkive.NewArchiveService(store, catalog, sessions, nil, arkive.ServiceConfig{
		CatalogRetry: arkive.RetryPolicy{MaxAttempts: 1},
	})
	require.NoError(t, err, "new archive service")
	return svc, store, catalog, sessions
}
