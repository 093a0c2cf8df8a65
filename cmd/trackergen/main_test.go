package main

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/triage-ai/privacy-shield/internal/trackerlist"
)

func TestCollect(t *testing.T) {
	bodies := map[string]string{
		"https://lists.example/a.txt": "! comment\n||metrics.example^\n||pixel.example^$third-party\n@@||good.example^\n",
		"https://lists.example/b.txt": "||pixel.example^\n||beacon.example^\n",
	}
	fetch := func(_ context.Context, url string) ([]byte, error) {
		body, ok := bodies[url]
		if !ok {
			return nil, errors.New("404")
		}
		return []byte(body), nil
	}
	lists := []SourceList{
		{Name: "a", URL: "https://lists.example/a.txt", Enabled: true},
		{Name: "b", URL: "https://lists.example/b.txt", Enabled: true},
		{Name: "gone", URL: "https://lists.example/missing.txt", Enabled: true},
	}

	results := collect(context.Background(), fetch, lists, 2, 0)
	require.Len(t, results, 3)
	assert.Equal(t, "a", results[0].Name)
	assert.NoError(t, results[0].Err)
	assert.Error(t, results[2].Err)

	list := buildList(results, false)
	var domains []string
	for _, e := range list {
		domains = append(domains, e.Domain)
	}
	assert.Equal(t, []string{"beacon.example", "metrics.example", "pixel.example"}, domains)
}

func TestBuildList_IncludesDefault(t *testing.T) {
	results := []sourceResult{{Name: "x", Domains: []string{"doubleclick.net", "new-tracker.example"}}}
	list := buildList(results, true)

	def := trackerlist.Default()
	require.GreaterOrEqual(t, len(list), len(def))
	assert.Equal(t, def, list[:len(def)])
	assert.Equal(t, trackerlist.Entry{Domain: "new-tracker.example"}, list[len(list)-1])
}

func TestEnabledLists(t *testing.T) {
	c := Config{Lists: []SourceList{
		{Name: "on", Enabled: true},
		{Name: "off"},
	}}
	got := c.EnabledLists()
	require.Len(t, got, 1)
	assert.Equal(t, "on", got[0].Name)
}
