package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewS3Storage(t *testing.T) {
	cfg := S3Config{
		Bucket:          "frames",
		Region:          "us-east-1",
		Endpoint:        "http://localhost:9000",
		AccessKeyID:     "test-key",
		SecretAccessKey: "test-secret",
	}

	s, err := NewS3Storage(t.TempDir(), cfg)
	require.NoError(t, err)
	assert.NotNil(t, s.client)
	assert.Equal(t, "frames", s.bucket)
	assert.NotNil(t, s.LocalStorage)
}

func TestS3FetchLocalPassthrough(t *testing.T) {
	s, err := NewS3Storage(t.TempDir(), S3Config{Bucket: "b", Region: "us-east-1"})
	require.NoError(t, err)

	_, _, err = s.Fetch(context.Background(), "/does/not/exist.mp4")
	assert.ErrorIs(t, err, ErrSourceNotFound)
}

func TestS3FetchInvalidURI(t *testing.T) {
	s, err := NewS3Storage(t.TempDir(), S3Config{Bucket: "b", Region: "us-east-1"})
	require.NoError(t, err)

	_, _, err = s.Fetch(context.Background(), "s3://bucket-without-key")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid s3 URI")
}

func TestIsObjectMissing(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"no such key", &types.NoSuchKey{}, true},
		{"no such bucket", &types.NoSuchBucket{}, true},
		{"head not found", &types.NotFound{}, true},
		{"wrapped no such key", fmt.Errorf("operation error S3: GetObject: %w", &types.NoSuchKey{}), true},
		{"other error", errors.New("connection refused"), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isObjectMissing(tt.err))
		})
	}
}
