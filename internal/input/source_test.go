package input

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadReaderSkipsBlankAndComments(t *testing.T) {
	src, err := LoadReader(strings.NewReader("\n# comment\na.example\n\nb.example\n"))
	require.NoError(t, err)

	first, err := src.Next()
	require.NoError(t, err)
	assert.Equal(t, "a.example", first)

	second, err := src.Next()
	require.NoError(t, err)
	assert.Equal(t, "b.example", second)
}

func TestLoadReaderRejectsEmptyInput(t *testing.T) {
	_, err := LoadReader(strings.NewReader("\n# only comments\n"))
	assert.Error(t, err)
}

func TestNextWrapsAcrossPasses(t *testing.T) {
	src, err := LoadReader(strings.NewReader("a\nb\n"))
	require.NoError(t, err)
	src.SetMaxPasses(0) // unbounded

	for i := 0; i < 5; i++ {
		line, err := src.Next()
		require.NoError(t, err)
		if i%2 == 0 {
			assert.Equal(t, "a", line)
		} else {
			assert.Equal(t, "b", line)
		}
	}
}

func TestNextExhaustsAfterMaxPasses(t *testing.T) {
	src, err := LoadReader(strings.NewReader("a\nb\n"))
	require.NoError(t, err)
	src.SetMaxPasses(2)

	for i := 0; i < 4; i++ {
		_, err := src.Next()
		require.NoError(t, err)
	}
	_, err = src.Next()
	assert.ErrorIs(t, err, ErrExhausted)
}

func TestNextHonorsInterruptChannel(t *testing.T) {
	src, err := LoadReader(strings.NewReader("a\nb\n"))
	require.NoError(t, err)
	src.SetMaxPasses(0)

	interrupt := make(chan struct{})
	src.SetInterruptChan(interrupt)
	close(interrupt)

	_, err = src.Next()
	assert.ErrorIs(t, err, ErrExhausted)
}
