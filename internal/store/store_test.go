package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/care/sentinel/internal/classifier"
	"github.com/care/sentinel/internal/pipeline"
	"github.com/care/sentinel/internal/source"
	"github.com/care/sentinel/internal/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "sentinel.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func frames(n int) []types.Frame {
	out := make([]types.Frame, n)
	for i := range out {
		out[i] = types.Frame{Seq: uint64(i), Width: 1, Height: 1, Format: types.FormatBGR24, Data: []byte{0, 0, 0}}
	}
	return out
}

func TestMigrations(t *testing.T) {
	s := openTestStore(t)

	version, dirty, err := s.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)

	// Up again is a no-op.
	require.NoError(t, s.MigrateUp())

	require.NoError(t, s.MigrateDown())
	version, _, err = s.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(0), version)
}

func TestRecordsStream(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p, err := pipeline.New(pipeline.DefaultConfig(),
		classifier.NewScripted(false, types.LabelNormal, types.LabelTheft, types.LabelTheft, types.LabelTheft, types.LabelNormal),
		nil, s)
	require.NoError(t, err)

	require.NoError(t, s.StartStream(ctx, "stream-a", "replay", time.Now()))
	res, runErr := p.RunStream(ctx, "stream-a", source.NewReplay("replay", frames(150)))
	require.NoError(t, runErr)
	require.NoError(t, s.FinishStream(ctx, res, OutcomeCompleted, nil))
	require.NoError(t, s.SetReportDir(ctx, "stream-a", "/tmp/reports/stream-a"))

	rec, err := s.Stream(ctx, "stream-a")
	require.NoError(t, err)
	assert.Equal(t, uint64(150), rec.Frames)
	assert.Equal(t, 5, rec.Windows)
	assert.Equal(t, 1, rec.AlarmEpisodes)
	assert.Equal(t, 30, rec.Flagged)
	assert.Equal(t, OutcomeCompleted, rec.Outcome)
	assert.Equal(t, "/tmp/reports/stream-a", rec.ReportDir)
	assert.Empty(t, rec.Error)

	windows, err := s.Windows(ctx, "stream-a")
	require.NoError(t, err)
	require.Len(t, windows, 5)
	assert.Equal(t, "Theft", windows[3].Label)
	assert.Equal(t, "alarmed", windows[3].State)
	assert.Equal(t, uint64(90), windows[3].FirstSeq)
	assert.Equal(t, uint64(119), windows[3].LastSeq)
	assert.InDelta(t, 0.9, windows[3].Theft, 1e-9)

	alarms, err := s.Alarms(ctx, "stream-a")
	require.NoError(t, err)
	require.Len(t, alarms, 1)
	assert.Equal(t, 3, alarms[0].RaisedWindow)
	assert.Equal(t, 4, alarms[0].ClearedWindow)
}

func TestFailedStreamClosesOpenAlarm(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p, err := pipeline.New(pipeline.DefaultConfig(), classifier.NewScripted(false, types.LabelTheft, types.LabelTheft, types.LabelTheft), nil, s)
	require.NoError(t, err)

	require.NoError(t, s.StartStream(ctx, "stream-b", "replay", time.Now()))
	res, runErr := p.RunStream(ctx, "stream-b", source.NewReplay("replay", frames(120)))
	var ie *classifier.InferenceError
	require.True(t, errors.As(runErr, &ie))
	require.NoError(t, s.FinishStream(ctx, res, OutcomeFailed, runErr))

	rec, err := s.Stream(ctx, "stream-b")
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, rec.Outcome)
	assert.Contains(t, rec.Error, "inference failed for window 3")

	alarms, err := s.Alarms(ctx, "stream-b")
	require.NoError(t, err)
	require.Len(t, alarms, 1)
	assert.Equal(t, -1, alarms[0].ClearedWindow)
	assert.False(t, alarms[0].ClearedAt.IsZero())
}

func TestStreamNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Stream(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecentStreams(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Now()

	for i, id := range []string{"one", "two", "three"} {
		require.NoError(t, s.StartStream(ctx, id, "synthetic", base.Add(time.Duration(i)*time.Second)))
	}

	ids, err := s.RecentStreams(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"three", "two"}, ids)
}
