package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVectorString(t *testing.T) {
	assert.Equal(t, "[0.5,-1,2.25]", Vector{0.5, -1, 2.25}.String())
	assert.Equal(t, "[]", Vector{}.String())
}

func TestVectorScan(t *testing.T) {
	var v Vector
	require.NoError(t, v.Scan("[0.5,-1,2.25]"))
	assert.Equal(t, Vector{0.5, -1, 2.25}, v)

	require.NoError(t, v.Scan([]byte("[1, 2, 3]")))
	assert.Equal(t, Vector{1, 2, 3}, v)

	require.NoError(t, v.Scan(nil))
	assert.Nil(t, v)

	require.NoError(t, v.Scan("[]"))
	assert.Equal(t, Vector{}, v)
}

func TestVectorScanErrors(t *testing.T) {
	var v Vector
	assert.Error(t, v.Scan("[1,oops]"))
	assert.Error(t, v.Scan(3.14))
}

func TestVectorValue(t *testing.T) {
	val, err := Vector{1, 2}.Value()
	require.NoError(t, err)
	assert.Equal(t, "[1,2]", val)

	val, err = Vector(nil).Value()
	require.NoError(t, err)
	assert.Nil(t, val)
}
