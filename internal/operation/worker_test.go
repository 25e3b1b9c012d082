package operation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harlequin/hartree/internal/storage"
)

const minimalHAR = `{
  "log": {
    "version": "1.2",
    "creator": {"name": "test", "version": "1"},
    "pages": [{"startedDateTime": "2024-01-01T00:00:00.000Z", "id": "page_1", "title": "t"}],
    "entries": [{
      "pageref": "page_1",
      "startedDateTime": "2024-01-01T00:00:00.000Z",
      "time": 10.0,
      "request": {"method": "GET", "url": "https://example.com/", "httpVersion": "HTTP/1.1", "cookies": [], "headers": [], "queryString": [], "headersSize": -1, "bodySize": -1},
      "response": {"status": 200, "statusText": "OK", "httpVersion": "HTTP/1.1", "cookies": [], "headers": [], "content": {"size": 0, "mimeType": "text/html", "text": ""}, "redirectURL": "", "headersSize": -1, "bodySize": -1}
    }]
  }
}`

func newWorkerTestUploader(t *testing.T) storage.Uploader {
	t.Helper()
	uploader, err := storage.NewLocalUploader(t.TempDir())
	require.NoError(t, err)
	return uploader
}

func TestBuildAndUploadTree_ResolvableHARProducesArtefact(t *testing.T) {
	uploader := newWorkerTestUploader(t)

	artefact, err := buildAndUploadTree(context.Background(), "op-1", []byte(minimalHAR), uploader)

	require.NoError(t, err)
	require.NotNil(t, artefact)
	assert.Equal(t, "hostnametree", artefact.Name)
	assert.NotEmpty(t, artefact.SignedURL)
}

func TestBuildAndUploadTree_MalformedHARReturnsNilArtefactNoError(t *testing.T) {
	uploader := newWorkerTestUploader(t)

	artefact, err := buildAndUploadTree(context.Background(), "op-1", []byte("not json"), uploader)

	assert.NoError(t, err)
	assert.Nil(t, artefact)
}

func TestObjectPath_IncludesOperationIDAndFilename(t *testing.T) {
	path := objectPath("op-123", "capture.har")

	assert.Contains(t, path, "op-123")
	assert.Contains(t, path, "capture.har")
	assert.Contains(t, path, "operations/")
}
