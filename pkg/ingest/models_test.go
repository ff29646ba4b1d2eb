package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddDataTypeTagRejectsInvalid(t *testing.T) {
	ing := &Ingest{}
	err := ing.AddDataTypeTag("bad-tag!")
	require.Error(t, err)
	assert.Empty(t, ing.DataType)
}

func TestAddDataTypeTagRoundTrip(t *testing.T) {
	ing := &Ingest{}
	require.NoError(t, ing.AddDataTypeTag("raster"))
	require.NoError(t, ing.AddDataTypeTag("elevation data"))

	tags := ing.DataTypeTags()
	assert.Len(t, tags, 2)
	_, ok := tags["raster"]
	assert.True(t, ok)
	_, ok = tags["elevation data"]
	assert.True(t, ok)
}

func TestAddDataTypeTagIsIdempotent(t *testing.T) {
	ing := &Ingest{}
	require.NoError(t, ing.AddDataTypeTag("raster"))
	require.NoError(t, ing.AddDataTypeTag("raster"))
	assert.Len(t, ing.DataTypeTags(), 1)
}

func TestDeduplicateBatchNoExisting(t *testing.T) {
	batch := []Ingest{{FileName: "test1"}, {FileName: "test2"}}
	got := DeduplicateBatch(batch, nil)
	assert.Len(t, got, 2)
}

func TestDeduplicateBatchDropsInBatchDuplicates(t *testing.T) {
	batch := []Ingest{{FileName: "test1"}, {FileName: "test1"}}
	got := DeduplicateBatch(batch, nil)
	require.Len(t, got, 1)
	assert.Equal(t, "test1", got[0].FileName)
}

func TestDeduplicateBatchDropsExisting(t *testing.T) {
	batch := []Ingest{{FileName: "test1"}, {FileName: "test2"}}
	existing := map[string]struct{}{"test1": {}}
	got := DeduplicateBatch(batch, existing)
	require.Len(t, got, 1)
	assert.Equal(t, "test2", got[0].FileName)
}

func TestDeduplicateBatchIsIdempotent(t *testing.T) {
	batch := []Ingest{{FileName: "test1"}, {FileName: "test2"}, {FileName: "test1"}}
	once := DeduplicateBatch(batch, nil)
	twice := DeduplicateBatch(once, nil)
	assert.Equal(t, once, twice)
}
