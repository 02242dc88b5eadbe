package extension

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetURL(t *testing.T) {
	ext, err := New("news@example.com", nil)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(ext.BaseURL, "moz-extension://"))
	assert.True(t, strings.HasSuffix(ext.BaseURL, "/"))

	u := ext.GetURL("foo.png")
	assert.Equal(t, ext.BaseURL+"foo.png", u)
	assert.Equal(t, u, ext.GetURL("/foo.png"))
	assert.True(t, ext.IsExtensionURL(u))
	assert.False(t, ext.IsExtensionURL("foo.png"))
	assert.False(t, ext.IsExtensionURL("https://example.com/foo.png"))
	assert.Equal(t, ext.BaseURL+"icons/news.svg", ext.GetURL("icons/news.svg"))
	assert.Equal(t, "https://example.com/foo.png", ext.GetURL("https://example.com/foo.png"))

	other, err := New("news@example.com", nil)
	require.NoError(t, err)
	assert.NotEqual(t, ext.BaseURL, other.BaseURL)
	assert.False(t, other.IsExtensionURL(u))
}

func TestNewRequiresID(t *testing.T) {
	_, err := New("", nil)
	assert.Error(t, err)
}

func TestParseManifestNullBecomesUnset(t *testing.T) {
	m, err := ParseManifest([]byte(`{
		"name": "Top Stories",
		"version": "1.0",
		"new_tab_section": {
			"title": "Top Stories",
			"maxRows": 0,
			"icon": null,
			"emptyState": {"message": "Nothing yet", "icon": "news"}
		}
	}`))
	require.NoError(t, err)

	assert.Equal(t, "Top Stories", m.Name)
	assert.Equal(t, "Top Stories", m.Section["title"])
	assert.EqualValues(t, 0, m.Section["maxRows"])
	assert.True(t, IsUnset(m.Section["icon"]))
	assert.False(t, IsUnset(m.Section["title"]))
	assert.IsType(t, map[string]any{}, m.Section["emptyState"])
}

func TestParseManifestWithoutSection(t *testing.T) {
	m, err := ParseManifest([]byte(`{"name": "x"}`))
	require.NoError(t, err)
	assert.NotNil(t, m.Section)
	assert.Empty(t, m.Section)

	_, err = ParseManifest([]byte(`{`))
	assert.Error(t, err)
}

func TestWatchReloadsManifest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"new_tab_section": {"title": "Old"}}`), 0644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan Overrides, 8)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, func(o Overrides) { got <- o })
	}()

	// Keep rewriting until the watcher is running and reports the change.
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case o := <-got:
			assert.Equal(t, "New", o["title"])
			cancel()
			require.NoError(t, <-done)
			return
		case <-tick.C:
			require.NoError(t, os.WriteFile(path, []byte(`{"new_tab_section": {"title": "New"}}`), 0644))
		case <-deadline:
			t.Fatal("manifest change not observed")
		}
	}
}
