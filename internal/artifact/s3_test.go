package artifact_test

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/phrazzld/render-api/internal/artifact"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockS3 struct {
	mock.Mock
}

func (m *mockS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*s3.PutObjectOutput)
	return out, args.Error(1)
}

func (m *mockS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*s3.HeadObjectOutput)
	return out, args.Error(1)
}

func (m *mockS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*s3.DeleteObjectOutput)
	return out, args.Error(1)
}

func TestS3Store_Put(t *testing.T) {
	t.Parallel()

	client := &mockS3{}
	client.On("PutObject", mock.Anything, mock.MatchedBy(func(in *s3.PutObjectInput) bool {
		body, _ := io.ReadAll(in.Body)
		return *in.Bucket == "renders" &&
			*in.Key == "images/a/b.png" &&
			*in.ContentType == "image/png" &&
			string(body) == "bytes"
	})).Return(&s3.PutObjectOutput{}, nil)

	store := artifact.NewS3StoreWithClient(client, "renders")
	require.NoError(t, store.Put(context.Background(), "/images/a/b.png", []byte("bytes"), "image/png"))
	client.AssertExpectations(t)
}

func TestS3Store_PutError(t *testing.T) {
	t.Parallel()

	client := &mockS3{}
	client.On("PutObject", mock.Anything, mock.Anything).Return(nil, errors.New("access denied"))

	store := artifact.NewS3StoreWithClient(client, "renders")
	err := store.Put(context.Background(), "images/a.png", []byte("x"), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
}

func TestS3Store_Delete(t *testing.T) {
	t.Parallel()

	t.Run("existing object", func(t *testing.T) {
		t.Parallel()
		client := &mockS3{}
		client.On("HeadObject", mock.Anything, mock.Anything).Return(&s3.HeadObjectOutput{}, nil)
		client.On("DeleteObject", mock.Anything, mock.MatchedBy(func(in *s3.DeleteObjectInput) bool {
			return *in.Key == "images/a.png"
		})).Return(&s3.DeleteObjectOutput{}, nil)

		deleted, err := artifact.NewS3StoreWithClient(client, "renders").Delete(context.Background(), "images/a.png")
		require.NoError(t, err)
		assert.True(t, deleted)
		client.AssertExpectations(t)
	})

	t.Run("missing object", func(t *testing.T) {
		t.Parallel()
		client := &mockS3{}
		client.On("HeadObject", mock.Anything, mock.Anything).Return(nil, &types.NotFound{})

		deleted, err := artifact.NewS3StoreWithClient(client, "renders").Delete(context.Background(), "images/a.png")
		require.NoError(t, err)
		assert.False(t, deleted)
		client.AssertNotCalled(t, "DeleteObject", mock.Anything, mock.Anything)
	})
}
