package valuemap

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapSetGet(t *testing.T) {
	m := New()
	m.SetString(KeySanitized, "true")
	m.SetInt(KeyOriginalLength, 1024)
	m.SetBool(KeyUnparsed, true)
	m.Set(KeySanitizedAt, Time(time.Unix(0, 0).UTC()))

	v, ok := m.Get(KeySanitized)
	require.True(t, ok)
	s, ok := v.AsString()
	require.True(t, ok)
	assert.Equal(t, "true", s)

	iv, ok := m.Get(KeyOriginalLength)
	require.True(t, ok)
	i, ok := iv.AsInt()
	require.True(t, ok)
	assert.EqualValues(t, 1024, i)

	assert.Equal(t, 4, m.Len())
}

func TestMapGetMissing(t *testing.T) {
	m := New()
	_, ok := m.Get("nope")
	assert.False(t, ok)
}

func TestMapCloneIsIndependent(t *testing.T) {
	m := New()
	m.SetString("a", "1")

	clone := m.Clone()
	clone.SetString("a", "2")

	v, _ := m.Get("a")
	s, _ := v.AsString()
	assert.Equal(t, "1", s)

	cv, _ := clone.Get("a")
	cs, _ := cv.AsString()
	assert.Equal(t, "2", cs)
}

func TestMapDelete(t *testing.T) {
	m := New()
	m.SetString("a", "1")
	m.Delete("a")
	_, ok := m.Get("a")
	assert.False(t, ok)
}

func TestValueWrongKindAccessorsFail(t *testing.T) {
	v := String("hi")
	_, ok := v.AsInt()
	assert.False(t, ok)
	_, ok = v.AsBool()
	assert.False(t, ok)
}

func TestToStringMap(t *testing.T) {
	m := New()
	m.SetInt("n", 5)
	m.SetBool("b", true)

	flat := m.ToStringMap()
	assert.Equal(t, "5", flat["n"])
	assert.Equal(t, "true", flat["b"])
}
