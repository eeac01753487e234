package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingProvider struct {
	Provider
}

func TestRegistry_GetInstantiatesOnFirstUse(t *testing.T) {
	reg := NewRegistry()

	built := 0
	reg.Register("counting", func() Provider {
		built++
		return &countingProvider{}
	})

	first, err := reg.Get("counting")
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, 1, built)

	second, err := reg.Get("counting")
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, built, "factory must run once")
}

func TestRegistry_GetUnknown(t *testing.T) {
	reg := NewRegistry()

	_, err := reg.Get("mystery")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown provider: mystery")
}

func TestRegistry_RegisterReplaces(t *testing.T) {
	reg := NewRegistry()
	reg.Register("p", func() Provider { return &countingProvider{} })

	replacement := &countingProvider{}
	reg.Register("p", func() Provider { return replacement })

	got, err := reg.Get("p")
	require.NoError(t, err)
	assert.Same(t, Provider(replacement), got)
}

func TestRegistry_Names(t *testing.T) {
	reg := NewRegistry()
	reg.Register("a", func() Provider { return &countingProvider{} })
	reg.Register("b", func() Provider { return &countingProvider{} })

	names := reg.Names()
	assert.ElementsMatch(t, []string{"a", "b"}, names)
}
