package repo

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTruncatePreview(t *testing.T) {
	short := "hello"
	assert.Equal(t, short, truncatePreview(short))

	exact := strings.Repeat("a", lastMessagePreviewLimit)
	assert.Equal(t, exact, truncatePreview(exact))

	long := strings.Repeat("a", lastMessagePreviewLimit+50)
	assert.Len(t, truncatePreview(long), lastMessagePreviewLimit)
}

func TestTruncatePreviewNeverSplitsRunes(t *testing.T) {
	long := strings.Repeat("é", lastMessagePreviewLimit+10)
	got := truncatePreview(long)
	assert.Equal(t, lastMessagePreviewLimit, len([]rune(got)))
	assert.True(t, strings.HasPrefix(long, got))
}

func TestContainsID(t *testing.T) {
	assert.True(t, containsID([]string{"a", "b"}, "b"))
	assert.False(t, containsID([]string{"a", "b"}, "c"))
	assert.False(t, containsID(nil, "a"))
}
