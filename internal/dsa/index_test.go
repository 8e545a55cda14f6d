package dsa

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubstringIndex_Lookup(t *testing.T) {
	x := NewSubstringIndex()
	x.Add("a", []string{"relay", "checkpoints"})
	x.Add("b", []string{"checkpoint", "store"})

	assert.Equal(t, []string{"a", "b"}, x.Lookup("checkpoint"))
	assert.Equal(t, []string{"a", "b"}, x.Lookup("point"))
	assert.Equal(t, []string{"a"}, x.Lookup("points"))
	assert.Equal(t, []string{"a"}, x.Lookup("lay"))
	assert.Empty(t, x.Lookup("missing"))
	assert.Nil(t, x.Lookup(""))
	assert.Equal(t, 2, x.Size())
}

func TestSubstringIndex_ReplaceAndRemove(t *testing.T) {
	x := NewSubstringIndex()
	x.Add("a", []string{"alpha"})
	x.Add("a", []string{"beta"})

	assert.Empty(t, x.Lookup("alp"))
	assert.Equal(t, []string{"a"}, x.Lookup("eta"))

	x.Remove("a")
	assert.Empty(t, x.Lookup("eta"))
	assert.Zero(t, x.Size())

	x.Remove("never-added")
}

func TestSubstringIndex_SharedSuffixes(t *testing.T) {
	x := NewSubstringIndex()
	x.Add("a", []string{"running"})
	x.Add("b", []string{"singing"})

	assert.Equal(t, []string{"a", "b"}, x.Lookup("ing"))
	x.Remove("a")
	assert.Equal(t, []string{"b"}, x.Lookup("ing"))
}

func TestSubstringIndex_Unicode(t *testing.T) {
	x := NewSubstringIndex()
	x.Add("a", []string{"café"})
	assert.Equal(t, []string{"a"}, x.Lookup("fé"))
}
