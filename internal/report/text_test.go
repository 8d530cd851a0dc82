package report

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkTextShort(t *testing.T) {
	chunks := ChunkText("короткий текст", 100)
	require.Len(t, chunks, 1)
	assert.Equal(t, "короткий текст", chunks[0])
}

func TestChunkTextPrefersNewline(t *testing.T) {
	// Newline at position 90 falls inside the last fifth of a
	// 100-rune chunk, so the split happens there.
	text := strings.Repeat("a", 90) + "\n" + strings.Repeat("b", 60)

	chunks := ChunkText(text, 100)
	require.Len(t, chunks, 2)
	assert.Equal(t, strings.Repeat("a", 90), chunks[0])
	assert.Equal(t, strings.Repeat("b", 60), chunks[1])
}

func TestChunkTextRawCutWithoutNewline(t *testing.T) {
	text := strings.Repeat("a", 150)

	chunks := ChunkText(text, 100)
	require.Len(t, chunks, 2)
	assert.Equal(t, strings.Repeat("a", 100), chunks[0])
	assert.Equal(t, strings.Repeat("a", 50), chunks[1])
}

func TestChunkTextIgnoresEarlyNewline(t *testing.T) {
	// Newline at position 10 is outside the last fifth: raw cut wins.
	text := strings.Repeat("a", 10) + "\n" + strings.Repeat("b", 120)

	chunks := ChunkText(text, 100)
	require.Len(t, chunks, 2)
	assert.Len(t, []rune(chunks[0]), 100)
}

func TestBalanceMarkup(t *testing.T) {
	assert.Equal(t, "*жирный* текст", BalanceMarkup("*жирный* текст"))
	assert.Equal(t, `*жирный* и \*хвост`, BalanceMarkup("*жирный* и *хвост"))
	assert.Equal(t, `_курсив_ и \_хвост`, BalanceMarkup("_курсив_ и _хвост"))
}

func TestStripMarkup(t *testing.T) {
	assert.Equal(t, "жирный и курсив и код", StripMarkup("*жирный* и _курсив_ и `код`"))
}
