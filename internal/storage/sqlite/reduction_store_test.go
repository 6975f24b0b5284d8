package sqlite

import (
	"context"
	"encoding/json"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/domeseeing/internal/db"
)

func setupTestReductionStore(t *testing.T) *ReductionStore {
	t.Helper()
	database, err := db.NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return NewReductionStore(database.DB)
}

func ptr(v float64) *float64 { return &v }

func TestReductionStore_InsertAndGet(t *testing.T) {
	store := setupTestReductionStore(t)
	ctx := context.Background()

	r := &Reduction{
		CaseKey:           "optvol_case_01",
		WavelengthMicrons: 0.5,
		NPx:               421,
		PSSn:              ptr(0.9876),
		OPDRMS:            12e-9,
		OPDPV:             80e-9,
		OPDMin:            -30e-9,
		OPDMax:            50e-9,
		ValidRays:         140000,
		SampleCount:       2500000,
		OutputKey:         "reduced_optvol_case_01.npz",
		DurationMS:        4200,
		StageDurations:    map[string]float64{"grid": 1.5, "integrate": 2.5},
		ParamsJSON:        json.RawMessage(`{"steps":101}`),
	}
	require.NoError(t, store.Insert(ctx, r))
	assert.NotEmpty(t, r.ReductionID)
	assert.NotZero(t, r.CreatedAt)
	assert.Equal(t, StatusOK, r.Status)

	got, err := store.Get(ctx, r.ReductionID)
	require.NoError(t, err)
	assert.Equal(t, r.CaseKey, got.CaseKey)
	require.NotNil(t, got.PSSn)
	assert.InDelta(t, 0.9876, *got.PSSn, 1e-12)
	assert.InDelta(t, 12e-9, got.OPDRMS, 1e-18)
	assert.Equal(t, 140000, got.ValidRays)
	assert.Equal(t, r.OutputKey, got.OutputKey)
	assert.Equal(t, r.StageDurations, got.StageDurations)
	assert.JSONEq(t, `{"steps":101}`, string(got.ParamsJSON))
	assert.Empty(t, got.Error)
}

func TestReductionStore_NullableFields(t *testing.T) {
	store := setupTestReductionStore(t)
	ctx := context.Background()

	r := &Reduction{
		CaseKey:           "empty_case",
		WavelengthMicrons: 1.65,
		NPx:               8,
		OPDRMS:            math.NaN(),
		OPDPV:             math.NaN(),
		OPDMin:            math.NaN(),
		OPDMax:            math.NaN(),
		Status:            StatusFailed,
		Error:             "field: query outside lattice",
	}
	require.NoError(t, store.Insert(ctx, r))

	got, err := store.Get(ctx, r.ReductionID)
	require.NoError(t, err)
	assert.Nil(t, got.PSSn)
	assert.True(t, math.IsNaN(got.OPDRMS))
	assert.True(t, math.IsNaN(got.OPDMax))
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, r.Error, got.Error)
	assert.Nil(t, got.StageDurations)
	assert.Nil(t, got.ParamsJSON)
}

func TestReductionStore_ListByCase(t *testing.T) {
	store := setupTestReductionStore(t)
	ctx := context.Background()

	for i, c := range []string{"a", "b", "a", "a"} {
		require.NoError(t, store.Insert(ctx, &Reduction{
			CaseKey:           c,
			WavelengthMicrons: 0.5,
			NPx:               4,
			CreatedAt:         int64(100 + i),
		}))
	}

	all, err := store.ListByCase(ctx, "a", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, int64(103), all[0].CreatedAt, "newest first")
	assert.Equal(t, int64(100), all[2].CreatedAt)

	limited, err := store.ListByCase(ctx, "a", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	none, err := store.ListByCase(ctx, "missing", 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestReductionStore_GetAndDeleteMissing(t *testing.T) {
	store := setupTestReductionStore(t)
	ctx := context.Background()

	_, err := store.Get(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.Delete(ctx, "nope"), ErrNotFound)
}

func TestReductionStore_Delete(t *testing.T) {
	store := setupTestReductionStore(t)
	ctx := context.Background()

	r := &Reduction{CaseKey: "c", WavelengthMicrons: 0.5, NPx: 4}
	require.NoError(t, store.Insert(ctx, r))
	require.NoError(t, store.Delete(ctx, r.ReductionID))

	_, err := store.Get(ctx, r.ReductionID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReductionStore_InsertValidation(t *testing.T) {
	store := setupTestReductionStore(t)
	assert.Error(t, store.Insert(context.Background(), &Reduction{NPx: 4}))
}

func TestReductionStore_DuplicateID(t *testing.T) {
	store := setupTestReductionStore(t)
	ctx := context.Background()

	r := &Reduction{ReductionID: "fixed", CaseKey: "c", WavelengthMicrons: 0.5, NPx: 4}
	require.NoError(t, store.Insert(ctx, r))
	dup := *r
	assert.Error(t, store.Insert(ctx, &dup))
}
