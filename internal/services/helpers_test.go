package services

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"trace-service/internal/metrics"
	"trace-service/internal/models"
	"trace-service/internal/repository"
	"trace-service/internal/storage"
	"trace-service/internal/testutil"
)

type testEnv struct {
	db      *gorm.DB
	dir     string
	blobs   *storage.FilesystemStore
	repo    *repository.TraceRepositoryImpl
	prefs   *repository.PreferenceRepository
	metrics *metrics.Metrics
	log     *logrus.Logger
	service *TraceService
}

type (
	wrapBlobs func(storage.BlobStore) storage.BlobStore
	wrapRepo  func(repository.TraceRepository) repository.TraceRepository
)

// newTestEnv wires a TraceService over sqlite and a filesystem blob store.
// Non-nil wrappers decorate the stores the service sees.
func newTestEnv(t *testing.T, wb wrapBlobs, wr wrapRepo) *testEnv {
	t.Helper()
	env := &testEnv{db: testutil.NewTestDB(t), dir: t.TempDir()}

	fs, err := storage.NewFilesystemStore(env.dir)
	require.NoError(t, err)
	env.blobs = fs
	env.repo = repository.NewTraceRepository(env.db)
	env.prefs = repository.NewPreferenceRepository(env.db)
	env.metrics = metrics.NewMetrics(prometheus.NewRegistry())
	env.log = logrus.New()
	env.log.SetOutput(io.Discard)

	var blobs storage.BlobStore = fs
	if wb != nil {
		blobs = wb(fs)
	}
	var repo repository.TraceRepository = env.repo
	if wr != nil {
		repo = wr(env.repo)
	}
	writer := NewTraceWriter(repo, blobs, env.prefs, nil, env.metrics, env.log)
	env.service = NewTraceService(writer, repo, repository.NewUserRepository(env.db), env.prefs, blobs, env.metrics, env.log)
	t.Cleanup(writer.Wait)
	return env
}

func (e *testEnv) putBlob(t *testing.T, key string, content []byte) {
	t.Helper()
	ctx := context.Background()
	tmp, err := e.blobs.WriteTemp(ctx, bytes.NewReader(content))
	require.NoError(t, err)
	require.NoError(t, e.blobs.Commit(ctx, tmp, key))
}

func (e *testEnv) blobExists(t *testing.T, key string) bool {
	t.Helper()
	_, err := os.Stat(filepath.Join(e.dir, key))
	if os.IsNotExist(err) {
		return false
	}
	require.NoError(t, err)
	return true
}

func (e *testEnv) tempBlobs(t *testing.T) int {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(e.dir, ".tmp"))
	require.NoError(t, err)
	return len(entries)
}

// finalBlobs counts committed blobs.
func (e *testEnv) finalBlobs(t *testing.T) int {
	t.Helper()
	entries, err := os.ReadDir(e.dir)
	require.NoError(t, err)
	n := 0
	for _, entry := range entries {
		if entry.Name() != ".tmp" {
			n++
		}
	}
	return n
}

func (e *testEnv) countTraces(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Model(&models.Trace{}).Count(&n).Error)
	return n
}

func upload(name, content string) CreateRequest {
	return CreateRequest{Upload: Upload{Filename: name, Content: bytes.NewBufferString(content)}}
}

// failingCommitStore fails every rename to the final key.
type failingCommitStore struct {
	storage.BlobStore
}

func (failingCommitStore) Commit(context.Context, *storage.TempBlob, string) error {
	return errors.New("rename failed")
}

// flakyFlipRepo fails the state flip. With land set, the flip is applied
// before the error is reported.
type flakyFlipRepo struct {
	repository.TraceRepository
	land bool
}

func (r flakyFlipRepo) MarkAwaitingProcessing(ctx context.Context, id uuid.UUID) error {
	if r.land {
		if err := r.TraceRepository.MarkAwaitingProcessing(ctx, id); err != nil {
			return err
		}
	}
	return errors.New("connection reset")
}

const sampleGPX = `<?xml version="1.0"?><gpx version="1.1"><trk><trkseg><trkpt lat="51.5" lon="-0.1"/></trkseg></trk></gpx>`
