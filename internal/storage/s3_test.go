package storage

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGateway(publicBase string) *S3Gateway {
	client := s3.New(s3.Options{
		Region:      "us-east-1",
		Credentials: credentials.NewStaticCredentialsProvider("AKIDEXAMPLE", "secret", ""),
	})
	return NewS3GatewayFromClient(client, "us-east-1", "conversa-uploads", publicBase)
}

func TestPresignUploadSignsOffline(t *testing.T) {
	g := newTestGateway("")

	cred, err := g.PresignUpload(context.Background(), "conversa/u1/1700000000000_a_b.png", 5*1024*1024, 15*time.Minute)
	require.NoError(t, err)

	assert.Contains(t, cred.URL, "conversa-uploads")
	assert.NotEmpty(t, cred.Fields["policy"])
}

func TestPublicURL(t *testing.T) {
	assert.Equal(t, "https://conversa-uploads.s3.us-east-1.amazonaws.com/a/b.png", newTestGateway("").PublicURL("a/b.png"))
	assert.Equal(t, "https://cdn.example.com/a/b.png", newTestGateway("https://cdn.example.com/").PublicURL("a/b.png"))
}
