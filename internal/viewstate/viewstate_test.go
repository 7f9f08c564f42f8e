package viewstate

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOverlay(t *testing.T) {
	for i, name := range overlayNames {
		got, err := ParseOverlay(name)
		require.NoError(t, err)
		assert.Equal(t, Overlay(i), got)
	}
	got, err := ParseOverlay(" Treatment ")
	require.NoError(t, err)
	assert.Equal(t, Treatment, got)

	got, err = ParseOverlay("")
	require.NoError(t, err)
	assert.Equal(t, None, got)

	_, err = ParseOverlay("shop")
	assert.Error(t, err)
	assert.Equal(t, "overlay(42)", Overlay(42).String())
}

func TestOverlayJSON(t *testing.T) {
	var v struct {
		Overlay Overlay `json:"overlay"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"overlay":"members"}`), &v))
	assert.Equal(t, Members, v.Overlay)

	out, err := json.Marshal(v)
	require.NoError(t, err)
	assert.JSONEq(t, `{"overlay":"members"}`, string(out))
}

func TestRegionHoldsOneOverlay(t *testing.T) {
	var r Region
	assert.Equal(t, None, r.Active())

	c, ok := r.Open(Treatment)
	require.True(t, ok)
	assert.True(t, c.Opened(Treatment))

	c, ok = r.Open(Members)
	require.True(t, ok)
	assert.True(t, c.Closed(Treatment), "opening another overlay closes the previous one")
	assert.True(t, c.Opened(Members))
	assert.Equal(t, Members, r.Active())

	_, ok = r.Open(Members)
	assert.False(t, ok)

	c, ok = r.Close()
	require.True(t, ok)
	assert.True(t, c.Closed(Members))
	assert.Equal(t, None, r.Active())
}

func TestRegionToggle(t *testing.T) {
	var r Region
	c := r.Toggle(Menu)
	assert.True(t, c.Opened(Menu))
	c = r.Toggle(Menu)
	assert.True(t, c.Closed(Menu))
	assert.Equal(t, None, r.Active())
}
