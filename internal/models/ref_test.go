package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefUnmarshalRawID(t *testing.T) {
	var ref Ref[Voucher]
	require.NoError(t, json.Unmarshal([]byte(`42`), &ref))

	id, ok := ref.ID()
	assert.True(t, ok)
	assert.Equal(t, int64(42), id)

	_, expanded := ref.Expanded()
	assert.False(t, expanded)
}

func TestRefUnmarshalExpanded(t *testing.T) {
	var ref Ref[Voucher]
	require.NoError(t, json.Unmarshal([]byte(`{"id": 7, "code": "SPRING"}`), &ref))

	id, ok := ref.ID()
	assert.True(t, ok)
	assert.Equal(t, int64(7), id)

	v, expanded := ref.Expanded()
	require.True(t, expanded)
	assert.Equal(t, "SPRING", v.Code)
}

func TestRefUnmarshalNullAndString(t *testing.T) {
	var ref Ref[Order]
	require.NoError(t, json.Unmarshal([]byte(`null`), &ref))
	assert.True(t, ref.IsZero())

	require.NoError(t, json.Unmarshal([]byte(`"15"`), &ref))
	id, _ := ref.ID()
	assert.Equal(t, int64(15), id)
}

func TestRefMarshalWritesID(t *testing.T) {
	ref := RefTo(&Voucher{ID: 9, Code: "X"})
	data, err := json.Marshal(ref)
	require.NoError(t, err)
	assert.JSONEq(t, `9`, string(data))

	data, err = json.Marshal(Ref[Voucher]{})
	require.NoError(t, err)
	assert.Equal(t, "null", string(data))
}

func TestRefScanValue(t *testing.T) {
	var ref Ref[Voucher]
	require.NoError(t, ref.Scan(int64(3)))
	v, err := ref.Value()
	require.NoError(t, err)
	assert.Equal(t, int64(3), v)

	require.NoError(t, ref.Scan(nil))
	v, err = ref.Value()
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestLevelSettingsOrdering(t *testing.T) {
	settings := NewLevelSettings([]LevelSetting{
		{Level: "gold", MinSpending: 10000},
		{Level: "bronze", MinSpending: 0},
		{Level: "silver", MinSpending: 5000},
	})

	assert.Equal(t, "bronze", settings.Lowest())
	assert.Equal(t, 2, settings.Rank("gold"))
	assert.Equal(t, -1, settings.Rank("diamond"))

	row, ok := settings.Lookup("silver")
	require.True(t, ok)
	assert.Equal(t, int64(5000), row.MinSpending)
}
