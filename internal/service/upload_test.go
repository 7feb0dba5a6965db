package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"message-service/internal/storage"
)

func TestIssueUploadCredential(t *testing.T) {
	env := newTestEnv(Options{AllowedTypes: []string{"image/png", "application/pdf"}})
	want := storage.UploadCredential{URL: "https://bucket.s3.amazonaws.com", Fields: map[string]string{"policy": "p"}}

	var gotKey string
	env.signer.On("PresignUpload", mock.Anything, mock.AnythingOfType("string"), int64(5*1024*1024), 15*time.Minute).
		Run(func(args mock.Arguments) { gotKey = args.String(1) }).
		Return(want, nil).Once()

	cred, err := env.svc.IssueUploadCredential(context.Background(), alice, "holiday photo.png", "image/png")
	require.NoError(t, err)
	assert.Equal(t, want, cred)

	assert.True(t, strings.HasPrefix(gotKey, "conversa/"+alice+"/"), gotKey)
	assert.True(t, strings.HasSuffix(gotKey, "_holiday_photo.png"), gotKey)
	env.signer.AssertExpectations(t)
}

func TestIssueUploadCredentialValidatesBeforeGateway(t *testing.T) {
	env := newTestEnv(Options{AllowedTypes: []string{"image/png"}})

	cases := []struct{ filename, filetype string }{
		{"", "image/png"},
		{"a.png", ""},
		{"run.exe", "application/x-msdownload"},
	}
	for _, tc := range cases {
		_, err := env.svc.IssueUploadCredential(context.Background(), alice, tc.filename, tc.filetype)
		assert.ErrorIs(t, err, ErrValidation)
	}
	env.signer.AssertNotCalled(t, "PresignUpload", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestIssueUploadCredentialGatewayFailure(t *testing.T) {
	env := newTestEnv(Options{})
	env.signer.On("PresignUpload", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, assert.AnError).Once()

	_, err := env.svc.IssueUploadCredential(context.Background(), alice, "a.pdf", "application/pdf")
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
}

func TestObjectKeysAreUnique(t *testing.T) {
	env := newTestEnv(Options{})
	env.svc.now = func() time.Time { return env.clock }

	a := env.svc.objectKey(alice, "a.png")
	b := env.svc.objectKey(alice, "a.png")
	assert.NotEqual(t, a, b)
}

func TestSafeName(t *testing.T) {
	assert.Equal(t, "passwd", safeName("../../etc/passwd"))
	assert.Equal(t, "evil.png", safeName(`C:\tmp\evil.png`))
	assert.Equal(t, "file", safeName(".."))
	assert.Equal(t, "my_doc.pdf", safeName("my doc.pdf"))
}
