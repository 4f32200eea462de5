package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestQuestionIgnoresCaseAndPunctuation(t *testing.T) {
	t.Parallel()

	h := New()
	a, err := h.Question("What is the capital of France?")
	require.NoError(t, err)
	b, err := h.Question("  what is THE capital of france ")
	require.NoError(t, err)
	require.Equal(t, a, b)

	c, err := h.Question("What is the capital of Spain?")
	require.NoError(t, err)
	require.NotEqual(t, a, c)
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	require.Equal(t, "whats 2 2", Normalize("What's  2 + 2?"))
	require.Equal(t, "", Normalize("?!--"))
}

func TestTokens(t *testing.T) {
	t.Parallel()

	require.Equal(t, []string{"pick", "the", "odd", "one"}, Tokens("Pick the odd one!"))
	require.Nil(t, Tokens(""))
}
