package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/medspa-roster-sync/internal/pipeline"
)

// mockS3Client keeps objects in memory.
type mockS3Client struct {
	objects map[string][]byte
	getErr  error
}

func newMockS3() *mockS3Client {
	return &mockS3Client{objects: make(map[string][]byte)}
}

func (m *mockS3Client) PutObject(_ context.Context, input *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, _ := io.ReadAll(input.Body)
	m.objects[*input.Key] = body
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3Client) GetObject(_ context.Context, input *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	data, ok := m.objects[*input.Key]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func summary(runID string, started time.Time) pipeline.Summary {
	return pipeline.Summary{
		RunID:       runID,
		State:       pipeline.StateDone,
		Processed:   10,
		Updated:     2,
		Failed:      1,
		Errors:      []pipeline.RecordError{{Stage: pipeline.StateInvoiceSync, RecordID: "inv-4", Error: "boom"}},
		StartedAt:   started,
		CompletedAt: started.Add(time.Minute),
	}
}

func TestArchiveRunWritesReportAndManifest(t *testing.T) {
	mock := newMockS3()
	store := NewStore(mock, "reports", nil)
	started := time.Date(2026, 2, 12, 15, 0, 0, 0, time.UTC)

	key, err := store.ArchiveRun(context.Background(), summary("run-1", started))
	require.NoError(t, err)
	assert.Equal(t, "sync-runs/v1/by-date/2026/02/12/run-1.json", key)

	var report RunReport
	require.NoError(t, json.Unmarshal(mock.objects[key], &report))
	assert.Equal(t, "1.0", report.Version)
	assert.Equal(t, "inv-4", report.Summary.Errors[0].RecordID)

	_, err = store.ArchiveRun(context.Background(), summary("run-2", started.Add(time.Hour)))
	require.NoError(t, err)

	manifest := string(mock.objects["sync-runs/v1/manifests/2026-02.jsonl"])
	lines := strings.Split(strings.TrimSpace(manifest), "\n")
	require.Len(t, lines, 2)
	var entry ManifestEntry
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &entry))
	assert.Equal(t, "run-2", entry.RunID)
	assert.Equal(t, 1, entry.Failed)
}

func TestArchiveRunKeepsReportWhenManifestFails(t *testing.T) {
	mock := newMockS3()
	mock.getErr = errors.New("access denied")
	store := NewStore(mock, "reports", nil)

	key, err := store.ArchiveRun(context.Background(), summary("run-3", time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
	assert.Contains(t, mock.objects, key)
	assert.Len(t, mock.objects, 1)
}

func TestDisabledStoreIsNoop(t *testing.T) {
	store := NewStore(nil, "", nil)
	assert.False(t, store.Enabled())

	key, err := store.ArchiveRun(context.Background(), summary("run-4", time.Now()))
	require.NoError(t, err)
	assert.Empty(t, key)
	store.RunFinished(context.Background(), summary("run-4", time.Now()))
}
