package sanitize

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClean(t *testing.T) {
	s := New([]string{"damn", "heck"})

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain word", "damn this riff", "**** this riff"},
		{"case insensitive", "DaMn", "****"},
		{"whole words only", "damnation and hecklers", "damnation and hecklers"},
		{"multiple matches", "heck, damn heck!", "****, **** ****!"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.Clean(tt.in))
		})
	}
}

func TestEmptyWordListIsPassThrough(t *testing.T) {
	s := New([]string{"", "  "})
	assert.Empty(t, s.Words())
	assert.Equal(t, "damn", s.Clean("damn"))
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "denylist.yaml")
	require.NoError(t, os.WriteFile(path, []byte("words:\n  - foo\n  - bar\n"), 0644))

	words, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"foo", "bar"}, words)

	require.NoError(t, os.WriteFile(path, []byte("words: [unterminated"), 0644))
	_, err = LoadFile(path)
	assert.Error(t, err)
}

func TestWatchReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "denylist.yaml")
	require.NoError(t, os.WriteFile(path, []byte("words: [foo]\n"), 0644))

	words, err := LoadFile(path)
	require.NoError(t, err)
	s := New(words)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Watch(ctx, path))

	require.NoError(t, os.WriteFile(path, []byte("words: [bar]\n"), 0644))

	assert.Eventually(t, func() bool {
		return s.Clean("bar foo") == "*** foo"
	}, 2*time.Second, 20*time.Millisecond)
}
