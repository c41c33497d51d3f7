package export

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/g-uva/GreenDIGIT-CIM/pkg/metric"
	"github.com/g-uva/GreenDIGIT-CIM/pkg/sink"
	sourcemem "github.com/g-uva/GreenDIGIT-CIM/pkg/source/memory"
	watermarkmem "github.com/g-uva/GreenDIGIT-CIM/pkg/watermark/memory"
)

const (
	t1 = "2026-08-29T10:00:00+00:00"
	t2 = "2026-08-29T10:01:00+00:00"
	t3 = "2026-08-29T10:02:00+00:00"
)

type fixture struct {
	source   *sourcemem.Store
	marks    *watermarkmem.Store
	sink     *sink.DB
	db       *gorm.DB
	exporter *Exporter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "sink.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	f := &fixture{
		source: sourcemem.New(),
		marks:  watermarkmem.New(),
		sink:   sink.New(db),
		db:     db,
	}
	f.exporter = New(f.source, f.sink, f.marks, Options{Processor: "kv_exporter"})
	require.NoError(t, f.sink.EnsureSchema(context.Background()))
	t.Cleanup(func() { f.sink.Close() })
	return f
}

func (f *fixture) rowCount(t *testing.T) int64 {
	t.Helper()
	var count int64
	require.NoError(t, f.db.Model(&sink.Row{}).Count(&count).Error)
	return count
}

func TestIncrementalEndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.source.Insert(metric.Document{
		ID: "d1", Publisher: "a", Timestamp: t1,
		Body: map[string]any{"cpu_watts": 11.2},
	})

	res, err := f.exporter.Incremental(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Documents)
	assert.Equal(t, 1, res.RowsAttempted)
	assert.Equal(t, t1, res.Timestamp)
	assert.Equal(t, "d1", res.ID)

	var rows []sink.Row
	require.NoError(t, f.db.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, "d1", rows[0].SourceID)
	assert.Equal(t, "a", rows[0].Publisher)
	assert.Equal(t, "cpu_watts", rows[0].Key)
	require.NotNil(t, rows[0].ValueNumeric)
	assert.Equal(t, 11.2, *rows[0].ValueNumeric)
	assert.Nil(t, rows[0].ValueText)
	assert.Nil(t, rows[0].ValueJSON)

	wm, ok, err := f.marks.Load(ctx, "kv_exporter")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, t1, wm.Timestamp)
	assert.Equal(t, "d1", wm.ID)

	// A second run finds nothing new and leaves the watermark unchanged.
	res, err = f.exporter.Incremental(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Documents)
	assert.Equal(t, 0, res.RowsAttempted)
	assert.Equal(t, t1, res.Timestamp)
	assert.Equal(t, "d1", res.ID)
	assert.Equal(t, int64(1), f.rowCount(t))
}

func TestIncrementalTimestampTieBreak(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Two documents sharing a timestamp: both exported, higher id wins the
	// watermark tie, regardless of arrival order.
	f.source.Insert(metric.Document{ID: "d2", Publisher: "a", Timestamp: t1, Body: map[string]any{"v": 2.0}})
	f.source.Insert(metric.Document{ID: "d1", Publisher: "a", Timestamp: t1, Body: map[string]any{"v": 1.0}})

	res, err := f.exporter.Incremental(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Documents)

	wm, _, err := f.marks.Load(ctx, "kv_exporter")
	require.NoError(t, err)
	assert.Equal(t, t1, wm.Timestamp)
	assert.Equal(t, "d2", wm.ID)
}

func TestIncrementalMonotonicWatermark(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	positions := make([][2]string, 0, 3)
	for i, doc := range []metric.Document{
		{ID: "d1", Publisher: "a", Timestamp: t1, Body: map[string]any{"v": 1.0}},
		{ID: "d2", Publisher: "a", Timestamp: t2, Body: map[string]any{"v": 2.0}},
		{ID: "d3", Publisher: "a", Timestamp: t3, Body: map[string]any{"v": 3.0}},
	} {
		f.source.Insert(doc)
		_, err := f.exporter.Incremental(ctx, 0)
		require.NoError(t, err, "run %d", i)

		wm, ok, err := f.marks.Load(ctx, "kv_exporter")
		require.NoError(t, err)
		require.True(t, ok)
		positions = append(positions, [2]string{wm.Timestamp, wm.ID})
	}

	for i := 1; i < len(positions); i++ {
		prev, cur := positions[i-1], positions[i]
		nonDecreasing := cur[0] > prev[0] || (cur[0] == prev[0] && cur[1] >= prev[1])
		assert.True(t, nonDecreasing, "watermark moved backwards: %v -> %v", prev, cur)
	}
}

func TestIncrementalLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.source.Insert(metric.Document{ID: "d1", Publisher: "a", Timestamp: t1, Body: map[string]any{"v": 1.0}})
	f.source.Insert(metric.Document{ID: "d2", Publisher: "a", Timestamp: t2, Body: map[string]any{"v": 2.0}})

	res, err := f.exporter.Incremental(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Documents)
	assert.Equal(t, "d1", res.ID)

	res, err = f.exporter.Incremental(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Documents)
	assert.Equal(t, "d2", res.ID)

	assert.Equal(t, int64(2), f.rowCount(t))
}

func TestReplayAfterCrashBetweenCommitAndWatermark(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.source.Insert(metric.Document{ID: "d1", Publisher: "a", Timestamp: t1, Body: map[string]any{"v": 1.0, "w": 2.0}})

	_, err := f.exporter.Incremental(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, int64(2), f.rowCount(t))

	// Simulate a crash after commit but before the watermark save by rolling
	// the watermark back to "never exported".
	require.NoError(t, f.marks.Save(ctx, "kv_exporter", "", ""))

	res, err := f.exporter.Incremental(ctx, 0)
	require.NoError(t, err)
	// The batch is re-delivered (rows attempted again)...
	assert.Equal(t, 2, res.RowsAttempted)
	// ...but the replay adds zero net new rows, and the watermark advances.
	assert.Equal(t, int64(2), f.rowCount(t))

	wm, _, err := f.marks.Load(ctx, "kv_exporter")
	require.NoError(t, err)
	assert.Equal(t, "d1", wm.ID)
}

type failingSink struct{}

func (failingSink) EnsureSchema(ctx context.Context) error { return nil }

func (failingSink) WriteRows(ctx context.Context, _ []sink.Row) error {
	return errors.New("connection refused")
}

func (failingSink) Close() error { return nil }

func TestSinkFailureLeavesWatermarkUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.source.Insert(metric.Document{ID: "d1", Publisher: "a", Timestamp: t1, Body: map[string]any{"v": 1.0}})

	broken := New(f.source, failingSink{}, f.marks, Options{Processor: "kv_exporter"})
	_, err := broken.Incremental(ctx, 0)
	require.Error(t, err)

	_, ok, err := f.marks.Load(ctx, "kv_exporter")
	require.NoError(t, err)
	assert.False(t, ok, "watermark must not advance on a failed write")

	// The next attempt against a healthy sink picks up the same batch.
	res, err := f.exporter.Incremental(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Documents)
	assert.Equal(t, int64(1), f.rowCount(t))
}

func TestFullExportIgnoresWatermark(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.source.Insert(metric.Document{ID: "d1", Publisher: "a", Timestamp: t1, Body: map[string]any{"v": 1.0}})
	f.source.Insert(metric.Document{ID: "d2", Publisher: "b", Timestamp: t2, Body: map[string]any{"v": 2.0}})

	res, err := f.exporter.Full(ctx, FullOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Documents)
	assert.Equal(t, 2, res.RowsAttempted)

	_, ok, err := f.marks.Load(ctx, "kv_exporter")
	require.NoError(t, err)
	assert.False(t, ok, "full export must not create a watermark")

	// Incremental after a full export re-attempts everything; net new rows
	// stay zero thanks to the conflict-skip.
	_, err = f.exporter.Incremental(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), f.rowCount(t))
}

func TestFullExportPublisherFilter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.source.Insert(metric.Document{ID: "d1", Publisher: "a", Timestamp: t1, Body: map[string]any{"v": 1.0}})
	f.source.Insert(metric.Document{ID: "d2", Publisher: "b", Timestamp: t2, Body: map[string]any{"v": 2.0}})

	res, err := f.exporter.Full(ctx, FullOptions{Publisher: "b"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Documents)

	var rows []sink.Row
	require.NoError(t, f.db.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, "d2", rows[0].SourceID)
}

func TestFullExportThrottled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, id := range []string{"d1", "d2", "d3"} {
		f.source.Insert(metric.Document{ID: id, Publisher: "a", Timestamp: t1, Body: map[string]any{"v": 1.0}})
	}

	res, err := f.exporter.Full(ctx, FullOptions{BatchesPerSecond: 100})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Documents)
	assert.Equal(t, 3, res.RowsAttempted)
	assert.Equal(t, int64(3), f.rowCount(t))
}

func TestExportValueRouting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A struct leaf is neither scalar nor container; it must land in the
	// structured slot as JSON.
	type coord struct {
		Lat float64 `json:"lat"`
		Lon float64 `json:"lon"`
	}

	f.source.Insert(metric.Document{
		ID: "d1", Publisher: "a", Timestamp: t1,
		Body: map[string]any{
			"labels": map[string]any{"node": "n1"},
			"arr":    []any{10.0, 20.0},
			"up":     true,
			"note":   nil,
			"geo":    coord{Lat: 52.35, Lon: 4.95},
		},
	})

	_, err := f.exporter.Incremental(ctx, 0)
	require.NoError(t, err)

	byKey := make(map[string]sink.Row)
	var rows []sink.Row
	require.NoError(t, f.db.Find(&rows).Error)
	for _, r := range rows {
		byKey[r.Key] = r
	}
	require.Len(t, byKey, 6)

	assert.Equal(t, "n1", *byKey["labels.node"].ValueText)
	assert.Equal(t, 10.0, *byKey["arr.0"].ValueNumeric)
	assert.Equal(t, 20.0, *byKey["arr.1"].ValueNumeric)
	assert.Equal(t, "true", *byKey["up"].ValueText)
	assert.Equal(t, "None", *byKey["note"].ValueText)

	geo := byKey["geo"]
	assert.Nil(t, geo.ValueText)
	assert.Nil(t, geo.ValueNumeric)
	assert.JSONEq(t, `{"lat":52.35,"lon":4.95}`, string(geo.ValueJSON))
}

func TestDocumentWithoutBodyProducesNoRows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.source.Insert(metric.Document{ID: "d1", Publisher: "a", Timestamp: t1})

	res, err := f.exporter.Incremental(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Documents)
	assert.Equal(t, 0, res.RowsAttempted)

	// The watermark still advances past the empty document.
	wm, ok, err := f.marks.Load(ctx, "kv_exporter")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "d1", wm.ID)
}

func TestMalformedTimestampAbortsBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.source.Insert(metric.Document{ID: "d1", Publisher: "a", Timestamp: "yesterday-ish", Body: map[string]any{"v": 1.0}})

	_, err := f.exporter.Incremental(ctx, 0)
	require.Error(t, err)
	assert.Equal(t, int64(0), f.rowCount(t))

	_, ok, err := f.marks.Load(ctx, "kv_exporter")
	require.NoError(t, err)
	assert.False(t, ok)
}
