package store

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	inputs []*s3.PutObjectInput
	bodies [][]byte
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.inputs = append(f.inputs, in)
	f.bodies = append(f.bodies, data)
	return &s3.PutObjectOutput{}, nil
}

type fakeCloudFront struct {
	inputs []*cloudfront.CreateInvalidationInput
}

func (f *fakeCloudFront) CreateInvalidation(_ context.Context, in *cloudfront.CreateInvalidationInput, _ ...func(*cloudfront.Options)) (*cloudfront.CreateInvalidationOutput, error) {
	f.inputs = append(f.inputs, in)
	return &cloudfront.CreateInvalidationOutput{}, nil
}

func TestS3Uploader(t *testing.T) {
	client := &fakeS3{}
	u := &S3Uploader{client: client, bucket: "images"}

	err := u.Upload(context.Background(), UploadParams{
		Name:        "20240101-1.png",
		Data:        []byte("png"),
		ContentType: "image/png",
		Metadata:    map[string]string{"prompt": "a cat"},
	})
	require.NoError(t, err)

	require.Len(t, client.inputs, 1)
	in := client.inputs[0]
	assert.Equal(t, "images", aws.ToString(in.Bucket))
	assert.Equal(t, "20240101-1.png", aws.ToString(in.Key))
	assert.Equal(t, "image/png", aws.ToString(in.ContentType))
	assert.Equal(t, "a cat", in.Metadata["prompt"])
	assert.Equal(t, s3types.StorageClassIntelligentTiering, in.StorageClass)
	assert.Equal(t, []byte("png"), client.bodies[0])
}

func TestCloudFrontInvalidator(t *testing.T) {
	client := &fakeCloudFront{}
	i := &CloudFrontInvalidator{client: client, distribution: "EDFDVBD6EXAMPLE"}

	paths := []string{"/20240101.html", "/latest.html"}
	require.NoError(t, i.Invalidate(context.Background(), paths))
	require.NoError(t, i.Invalidate(context.Background(), paths))

	require.Len(t, client.inputs, 2)
	in := client.inputs[0]
	assert.Equal(t, "EDFDVBD6EXAMPLE", aws.ToString(in.DistributionId))
	assert.EqualValues(t, 2, aws.ToInt32(in.InvalidationBatch.Paths.Quantity))
	assert.Equal(t, paths, in.InvalidationBatch.Paths.Items)
	assert.NotEqual(t,
		aws.ToString(client.inputs[0].InvalidationBatch.CallerReference),
		aws.ToString(client.inputs[1].InvalidationBatch.CallerReference))
}

func TestFileUploader(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	u := &FileUploader{Dir: dir}

	require.NoError(t, u.Upload(context.Background(), UploadParams{Name: "../escape.png", Data: []byte("png")}))

	data, err := os.ReadFile(filepath.Join(dir, "escape.png"))
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), data)
}

func TestNopInvalidator(t *testing.T) {
	assert.NoError(t, NopInvalidator{}.Invalidate(context.Background(), []string{"/x"}))
}
