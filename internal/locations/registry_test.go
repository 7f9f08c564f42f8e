package locations

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistryRejectsDuplicateRooms(t *testing.T) {
	_, err := NewRegistry([]Location{{
		ID:           "hospital",
		SubLocations: []SubLocation{{Name: "Sala 1"}, {Name: " Sala 1 "}},
	}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate sub-location")
}

func TestNewRegistryRejectsDuplicateLocations(t *testing.T) {
	_, err := NewRegistry([]Location{{ID: "a"}, {ID: "a"}})
	require.Error(t, err)
}

func TestNewRegistryDefaultsAccessAndCopies(t *testing.T) {
	input := []Location{{ID: "bakery", SubLocations: []SubLocation{{Name: "Balcão"}}}}
	r, err := NewRegistry(input)
	require.NoError(t, err)

	sub, err := r.SubLocation("bakery", "Balcão")
	require.NoError(t, err)
	assert.Equal(t, AccessOpen, sub.Access)
	assert.Equal(t, Access(""), input[0].SubLocations[0].Access, "input must not be mutated")
}

func TestRegistryLookups(t *testing.T) {
	r := Default()

	names, err := r.SubLocationNames("hospital")
	require.NoError(t, err)
	assert.Contains(t, names, "Sala 1")
	assert.Equal(t, "Recepção", names[0])

	main, err := r.SubLocation("hospital", "")
	require.NoError(t, err)
	assert.False(t, main.Restricted())

	_, err = r.SubLocation("hospital", "Cantina")
	assert.ErrorIs(t, err, ErrUnknownSubLocation)

	_, err = r.Get("moon")
	assert.ErrorIs(t, err, ErrUnknownLocation)

	assert.Len(t, r.All(), len(r.IDs()))
	assert.Equal(t, "bakery", r.IDs()[0])
}
