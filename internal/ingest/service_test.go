package ingest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"cu-log-sync/config"
	"cu-log-sync/internal/analysis"
	"cu-log-sync/internal/logging"
	"cu-log-sync/internal/parse"
	"cu-log-sync/internal/store"
)

const goodLog = `20240315 07:59:00|@JobProfiel: R:ABC123 L:6500.50 C:WHITE
20240315 08:00:00|@MachineStart
20240315 08:00:05|@StukUitgevoerd: piece 1
20240315 08:10:00|@MachineStop
20240315 08:20:00|@MachineStart
20240315 08:40:05|@StukUitgevoerd: piece 2
`

const noCompletionLog = `20240315 08:00:00|@MachineStart
20240315 08:10:00|@MachineStop
`

type fakeFile struct {
	name string
	data []byte
}

// fakeSource is an in-memory source.Source.
type fakeSource struct {
	mu         sync.Mutex
	connectErr error
	deleteErr  error
	dirs       []config.Directory
	files      map[string][]fakeFile
	deleted    []string
	closed     int
}

func (f *fakeSource) Connect(context.Context) error { return f.connectErr }

func (f *fakeSource) ListDirectories(context.Context) ([]config.Directory, error) {
	return f.dirs, nil
}

func (f *fakeSource) ListFiles(_ context.Context, dir string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for _, file := range f.files[dir] {
		names = append(names, file.name)
	}
	return names, nil
}

func (f *fakeSource) Download(_ context.Context, dir, name string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, file := range f.files[dir] {
		if file.name == name {
			return file.data, nil
		}
	}
	return nil, fmt.Errorf("%s/%s not found", dir, name)
}

func (f *fakeSource) Delete(_ context.Context, dir, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, dir+"/"+name)
	return nil
}

func (f *fakeSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

// mockStore is a mock implementation of the store.Store interface.
type mockStore struct {
	mu       sync.Mutex
	pingErr  error
	syncErr  error
	block    chan struct{}
	entered  chan struct{}
	origins  []store.Origin
	machines []string
}

func (m *mockStore) SyncSession(_ context.Context, res *analysis.Result, origin store.Origin) error {
	if m.entered != nil {
		m.entered <- struct{}{}
	}
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.syncErr != nil {
		return fmt.Errorf("%w: %w", store.ErrPersistence, m.syncErr)
	}
	m.origins = append(m.origins, origin)
	m.machines = append(m.machines, res.MachineID)
	return nil
}

func (m *mockStore) Ping(context.Context) error { return m.pingErr }

func (m *mockStore) syncCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.origins)
}

func testConfig(mut func(*config.Config)) *config.Config {
	runOnStart := false
	cfg := &config.Config{
		Source:   config.SourceConfig{Kind: "local"},
		Database: config.DatabaseConfig{Driver: "sqlite", DSN: "file::memory:"},
		Schedule: config.ScheduleConfig{IntervalMinutes: 60, RunOnStart: &runOnStart, Timezone: "UTC"},
		Ingest:   config.IngestConfig{DeleteAfterProcessing: true},
	}
	if mut != nil {
		mut(cfg)
	}
	cfg.ApplyDefaults()
	return cfg
}

func newTestService(t *testing.T, cfg *config.Config, src *fakeSource, st *mockStore) *Service {
	t.Helper()
	s, err := NewService(cfg, src, st, nil, logging.Discard())
	require.NoError(t, err)
	return s
}

func pvcSource(files ...fakeFile) *fakeSource {
	return &fakeSource{
		dirs:  []config.Directory{{Name: "DEM12 (PVC)", MachineType: "PVC"}},
		files: map[string][]fakeFile{"DEM12 (PVC)": files},
	}
}

func TestRunOnce_ProcessesFilesIndependently(t *testing.T) {
	src := &fakeSource{
		dirs: []config.Directory{
			{Name: "DEM12 (PVC)", MachineType: "PVC"},
			{Name: "DEMALU (ALU)", MachineType: "ALU"},
		},
		files: map[string][]fakeFile{
			"DEM12 (PVC)": {
				{name: "CU1.LOG", data: []byte(goodLog)},
				{name: "EMPTY.LOG", data: []byte("garbage without separator\n")},
				{name: "IDLE.LOG", data: []byte(noCompletionLog)},
			},
			"DEMALU (ALU)": {
				{name: "CU4.LOG", data: []byte(goodLog)},
			},
		},
	}
	st := &mockStore{}
	s := newTestService(t, testConfig(nil), src, st)

	summary, err := s.RunOnce(context.Background())
	require.NoError(t, err)

	assert.NotEmpty(t, summary.RunID)
	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 2, summary.Errors)
	assert.False(t, summary.OK())
	assert.Equal(t, []DirectorySummary{
		{Name: "DEM12 (PVC)", MachineType: "PVC", Processed: 1, Errors: 2},
		{Name: "DEMALU (ALU)", MachineType: "ALU", Processed: 1, Errors: 0},
	}, summary.Directories)

	assert.Equal(t, []string{"PVC_CU1", "ALU_CU4"}, st.machines)
	assert.Equal(t, "DEM12 (PVC)/CU1.LOG", st.origins[0].Label())
	// Failed files stay on the source.
	assert.Equal(t, []string{"DEM12 (PVC)/CU1.LOG", "DEMALU (ALU)/CU4.LOG"}, src.deleted)
	assert.Equal(t, 1, src.closed)

	m := s.Metrics()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fileErrors.WithLabelValues("DEM12 (PVC)", string(StageParse))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fileErrors.WithLabelValues("DEM12 (PVC)", string(StageAnalyze))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.filesProcessed.WithLabelValues("DEMALU (ALU)")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.lastRunSuccess))

	last, ok := s.LastRun()
	require.True(t, ok)
	assert.Equal(t, summary.RunID, last.RunID)
}

func TestRunOnce_CleanRun(t *testing.T) {
	src := pvcSource(fakeFile{name: "CU1.LOG", data: []byte(goodLog)})
	s := newTestService(t, testConfig(nil), src, &mockStore{})

	summary, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, summary.OK())
	assert.Equal(t, 1, summary.Processed)
	assert.False(t, summary.Finished.Before(summary.Started))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.Metrics().lastRunSuccess))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.Metrics().runsTotal.WithLabelValues("ok")))
}

func TestRunOnce_PersistFailureKeepsFile(t *testing.T) {
	src := pvcSource(fakeFile{name: "CU1.LOG", data: []byte(goodLog)})
	st := &mockStore{syncErr: errors.New("deadlock detected")}
	s := newTestService(t, testConfig(nil), src, st)

	summary, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Processed)
	assert.Equal(t, 1, summary.Errors)
	assert.Empty(t, src.deleted)
	assert.Equal(t, 1.0, testutil.ToFloat64(s.Metrics().fileErrors.WithLabelValues("DEM12 (PVC)", string(StagePersist))))
}

func TestRunOnce_DeleteFailureCountsAsError(t *testing.T) {
	src := pvcSource(fakeFile{name: "CU1.LOG", data: []byte(goodLog)})
	src.deleteErr = errors.New("550 permission denied")
	st := &mockStore{}
	s := newTestService(t, testConfig(nil), src, st)

	summary, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, st.syncCount())
	assert.Equal(t, 0, summary.Processed)
	assert.Equal(t, 1, summary.Errors)
	assert.Equal(t, 1.0, testutil.ToFloat64(s.Metrics().fileErrors.WithLabelValues("DEM12 (PVC)", string(StageDelete))))
}

func TestRunOnce_RetainsFilesWhenDeleteDisabled(t *testing.T) {
	src := pvcSource(fakeFile{name: "CU1.LOG", data: []byte(goodLog)})
	cfg := testConfig(func(c *config.Config) { c.Ingest.DeleteAfterProcessing = false })
	st := &mockStore{}
	s := newTestService(t, cfg, src, st)

	for i := 0; i < 2; i++ {
		summary, err := s.RunOnce(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, summary.Processed)
	}
	assert.Empty(t, src.deleted)
	// Without dedupe every run re-syncs the file.
	assert.Equal(t, 2, st.syncCount())
}

func TestRunOnce_SkipsUnchangedFiles(t *testing.T) {
	src := pvcSource(fakeFile{name: "CU1.LOG", data: []byte(goodLog)})
	cfg := testConfig(func(c *config.Config) {
		c.Ingest.DeleteAfterProcessing = false
		c.Ingest.DedupeTTLMinutes = 60
	})
	st := &mockStore{}
	s := newTestService(t, cfg, src, st)
	ctx := context.Background()

	_, err := s.RunOnce(ctx)
	require.NoError(t, err)
	summary, err := s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, st.syncCount())

	// Changed content is synced again.
	src.files["DEM12 (PVC)"][0].data = []byte(goodLog + "20240315 09:00:00|@StukUitgevoerd: piece 3\n")
	_, err = s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.syncCount())
}

func TestRunOnce_ConnectionFailure(t *testing.T) {
	src := pvcSource(fakeFile{name: "CU1.LOG", data: []byte(goodLog)})
	src.connectErr = errors.New("dial tcp: connection refused")
	st := &mockStore{}
	s := newTestService(t, testConfig(nil), src, st)

	summary, err := s.RunOnce(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnection)
	assert.False(t, summary.OK())
	assert.Contains(t, summary.Failure, "connection refused")
	assert.Zero(t, st.syncCount())
	assert.Zero(t, src.closed)

	last, ok := s.LastRun()
	require.True(t, ok)
	assert.False(t, last.OK())
}

func TestRunOnce_DatabaseUnavailable(t *testing.T) {
	src := pvcSource(fakeFile{name: "CU1.LOG", data: []byte(goodLog)})
	s := newTestService(t, testConfig(nil), src, &mockStore{pingErr: errors.New("connection reset")})

	_, err := s.RunOnce(context.Background())
	assert.ErrorIs(t, err, ErrConnection)
	assert.Empty(t, src.deleted)
	assert.Equal(t, 1, src.closed)
}

func TestRunOnce_NoRecognisedDirectory(t *testing.T) {
	src := &fakeSource{}
	s := newTestService(t, testConfig(nil), src, &mockStore{})

	summary, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, summary.OK())
	assert.Equal(t, 1, summary.Errors)
	assert.Empty(t, summary.Directories)
}

func TestRunOnce_ParallelWorkers(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	var files []fakeFile
	for i := 0; i < 12; i++ {
		files = append(files, fakeFile{name: fmt.Sprintf("CU%d.LOG", i), data: []byte(goodLog)})
	}
	src := pvcSource(files...)
	st := &mockStore{}
	s := newTestService(t, testConfig(func(c *config.Config) { c.Ingest.Workers = 4 }), src, st)

	summary, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 12, summary.Processed)
	assert.Equal(t, 12, st.syncCount())
	assert.Len(t, src.deleted, 12)
}

func TestRunOnce_RejectsOverlappingRuns(t *testing.T) {
	src := pvcSource(fakeFile{name: "CU1.LOG", data: []byte(goodLog)})
	st := &mockStore{block: make(chan struct{}), entered: make(chan struct{}, 1)}
	s := newTestService(t, testConfig(nil), src, st)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = s.RunOnce(context.Background())
	}()
	<-st.entered

	assert.True(t, s.Running())
	_, err := s.RunOnce(context.Background())
	assert.ErrorIs(t, err, ErrRunInProgress)
	assert.ErrorIs(t, s.Trigger(), ErrRunInProgress)

	close(st.block)
	<-done
	assert.False(t, s.Running())
}

func TestRun_TriggerAndShutdown(t *testing.T) {
	src := pvcSource(fakeFile{name: "CU1.LOG", data: []byte(goodLog)})
	s := newTestService(t, testConfig(nil), src, &mockStore{})

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		s.Run(ctx)
	}()

	require.NoError(t, s.Trigger())
	require.Eventually(t, func() bool {
		_, ok := s.LastRun()
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestRun_RunsOnStart(t *testing.T) {
	src := pvcSource(fakeFile{name: "CU1.LOG", data: []byte(goodLog)})
	cfg := testConfig(func(c *config.Config) {
		runOnStart := true
		c.Schedule.RunOnStart = &runOnStart
	})
	st := &mockStore{}
	s := newTestService(t, cfg, src, st)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	require.Eventually(t, func() bool { return st.syncCount() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestFileError(t *testing.T) {
	err := error(&FileError{Stage: StageParse, Directory: "DEM12 (PVC)", File: "CU1.LOG", Err: parse.ErrNoEvents})
	assert.Equal(t, "parse DEM12 (PVC)/CU1.LOG: no events found", err.Error())
	assert.ErrorIs(t, err, parse.ErrNoEvents)

	var fe *FileError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, StageParse, fe.Stage)
}

func TestRunOnce_LogsCountsPerDirectory(t *testing.T) {
	src := &fakeSource{
		dirs: []config.Directory{
			{Name: "DEM12 (PVC)", MachineType: "PVC"},
			{Name: "DEMALU (ALU)", MachineType: "ALU"},
		},
		files: map[string][]fakeFile{
			"DEM12 (PVC)": {
				{name: "CU1.LOG", data: []byte(goodLog)},
				{name: "IDLE.LOG", data: []byte(noCompletionLog)},
			},
			"DEMALU (ALU)": {
				{name: "CU4.LOG", data: []byte(goodLog)},
			},
		},
	}
	var buf bytes.Buffer
	s, err := NewService(testConfig(nil), src, &mockStore{}, nil, logging.New(&buf, "info", "json"))
	require.NoError(t, err)

	_, err = s.RunOnce(context.Background())
	require.NoError(t, err)

	type line struct {
		Msg         string  `json:"msg"`
		Directory   string  `json:"directory"`
		Processed   float64 `json:"processed"`
		Errors      float64 `json:"errors"`
		Directories float64 `json:"directories"`
	}
	perDir := map[string]line{}
	var total *line
	sc := bufio.NewScanner(&buf)
	for sc.Scan() {
		var l line
		require.NoError(t, json.Unmarshal(sc.Bytes(), &l))
		switch l.Msg {
		case "directory finished":
			perDir[l.Directory] = l
		case "ingestion run finished":
			total = &l
		}
	}

	require.Len(t, perDir, 2)
	assert.Equal(t, 1.0, perDir["DEM12 (PVC)"].Processed)
	assert.Equal(t, 1.0, perDir["DEM12 (PVC)"].Errors)
	assert.Equal(t, 1.0, perDir["DEMALU (ALU)"].Processed)
	assert.Equal(t, 0.0, perDir["DEMALU (ALU)"].Errors)

	require.NotNil(t, total)
	assert.Equal(t, 2.0, total.Processed)
	assert.Equal(t, 1.0, total.Errors)
	assert.Equal(t, 2.0, total.Directories)
}
