package areas_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ogulcanaydogan/hotel-price-guardian/pkg/areas"
	"github.com/ogulcanaydogan/hotel-price-guardian/pkg/model"
)

func TestDefault(t *testing.T) {
	table := areas.Default()

	assert.Equal(t, "London", table.City())
	assert.Equal(t, "GBP", table.Currency())
	assert.Len(t, table.Keys(), 10)
	assert.Contains(t, table.Keys(), "camden")
	assert.Contains(t, table.Keys(), "covent garden")
}

func TestLookup(t *testing.T) {
	table := areas.Default()

	tests := []struct {
		in   string
		want string
	}{
		{"camden", "camden"},
		{"Camden", "camden"},
		{"  COVENT   garden ", "covent garden"},
		{"South Kensington", "kensington"},
		{"City of London", "city"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			a, err := table.Lookup(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, a.Key)
			assert.NotEmpty(t, a.LocationCode)
			assert.True(t, a.Base().IsPositive())
		})
	}
}

func TestLookup_Unsupported(t *testing.T) {
	_, err := areas.Default().Lookup("Brighton")
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrValidation)
	assert.Contains(t, err.Error(), "Brighton")
}

func TestAll_Sorted(t *testing.T) {
	all := areas.Default().All()
	require.NotEmpty(t, all)
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].Key, all[i].Key)
	}
}

func TestLoad_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "areas.yaml")
	data := []byte(`
city: London
areas:
  - key: Camden
    location_code: CAM1
    base_price: 99.5
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	table, err := areas.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "GBP", table.Currency())

	a, err := table.Lookup("camden")
	require.NoError(t, err)
	assert.Equal(t, "CAM1", a.LocationCode)
	assert.Equal(t, "99.5", a.Base().String())
}

func TestLoad_EmptyPathIsDefault(t *testing.T) {
	table, err := areas.Load("")
	require.NoError(t, err)
	assert.Len(t, table.Keys(), 10)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
		msg  string
	}{
		{"no areas", "city: London\n", "no areas"},
		{"missing code", "areas:\n  - key: soho\n    base_price: 100\n", "location_code"},
		{"zero price", "areas:\n  - key: soho\n    location_code: S\n", "base_price"},
		{"duplicate", "areas:\n  - key: soho\n    location_code: S\n    base_price: 1\n  - key: SOHO\n    location_code: S\n    base_price: 1\n", "twice"},
		{"bad yaml", "areas: [", "parse"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := areas.Parse([]byte(tt.data))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}
