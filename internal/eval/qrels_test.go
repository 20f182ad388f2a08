package eval

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeQrels(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadQrels_JSONArray(t *testing.T) {
	path := writeQrels(t, "qrels.json", `[
		{"query": "parse text", "relevant": ["app.parser.parse", " app.parser "]},
		{"query": "no labels", "relevant": []},
		{"query": "mixed", "relevant": [{"fqname": "app.Codec", "kind": "class"}, "app.decode"]}
	]`)

	entries, err := LoadQrels(path)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, "parse text", entries[0].Query)
	assert.Equal(t, []string{"app.parser.parse", "app.parser"}, entries[0].Relevant)

	assert.Empty(t, entries[1].Relevant)

	assert.Equal(t, []string{"app.Codec", "app.decode"}, entries[2].Relevant)
	assert.Equal(t, map[string]string{"app.Codec": "class"}, entries[2].Kinds)
}

func TestLoadQrels_JSONL(t *testing.T) {
	path := writeQrels(t, "qrels.jsonl", `{"query": "first", "relevant": ["a.b"]}

{"query": "second", "relevant": ["c.d", "e.f"]}
`)

	entries, err := LoadQrels(path)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "first", entries[0].Query)
	assert.Equal(t, []string{"c.d", "e.f"}, entries[1].Relevant)
}

func TestLoadQrels_RelevantFQNamesAlias(t *testing.T) {
	path := writeQrels(t, "qrels.json", `[{"query": "q", "relevant_fqnames": ["a.b"]}]`)

	entries, err := LoadQrels(path)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, []string{"a.b"}, entries[0].Relevant)
}

func TestLoadQrels_BadJSONLLine(t *testing.T) {
	path := writeQrels(t, "qrels.jsonl", `{"query": "ok", "relevant": []}
{not json}
`)

	_, err := LoadQrels(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestLoadQrels_MissingQuery(t *testing.T) {
	path := writeQrels(t, "qrels.json", `[{"relevant": ["a.b"]}]`)

	_, err := LoadQrels(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "'query'")
}

func TestLoadQrels_MissingRelevant(t *testing.T) {
	path := writeQrels(t, "qrels.json", `[{"query": "q"}]`)

	_, err := LoadQrels(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "'relevant'")
}

func TestLoadQrels_ObjectEntryNeedsFQName(t *testing.T) {
	path := writeQrels(t, "qrels.json", `[{"query": "q", "relevant": [{"kind": "class"}]}]`)

	_, err := LoadQrels(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "'fqname'")
}

func TestLoadQrels_RejectsNonListPayload(t *testing.T) {
	path := writeQrels(t, "qrels.json", `{"query": "q", "relevant": []}`)

	_, err := LoadQrels(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list of objects")
}

func TestLoadQrels_EmptyFile(t *testing.T) {
	path := writeQrels(t, "qrels.json", `[]`)

	_, err := LoadQrels(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no qrels rows")
}

func TestLoadQrels_MissingFile(t *testing.T) {
	_, err := LoadQrels(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}
