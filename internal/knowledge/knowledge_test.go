package knowledge

import (
	"context"
	"hash/fnv"
	"math"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var kb = fstest.MapFS{
	"runbooks/postgres-failover.md": {Data: []byte("# Postgres failover\n\nPromote the replica with pg_ctl promote.\n\nThen repoint the payments service connection string.")},
	"runbooks/deploy.md":            {Data: []byte("# Deploying services\n\nUse the release pipeline. Rollback with helm rollback.")},
	"faq/vpn_access.txt":            {Data: []byte("Request VPN access through the IT portal.")},
	"images/diagram.png":            {Data: []byte{0x89, 0x50}},
}

func TestLoadCorpus(t *testing.T) {
	c, err := LoadCorpusFS(kb)
	require.NoError(t, err)
	require.Equal(t, 3, c.Len())

	titles := map[string]string{}
	for _, d := range c.Documents() {
		titles[d.Source] = d.Title
	}
	assert.Equal(t, map[string]string{
		"faq/vpn_access.txt":            "vpn access",
		"runbooks/deploy.md":            "Deploying services",
		"runbooks/postgres-failover.md": "Postgres failover",
	}, titles)
}

func TestLoadCorpusDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.md"), []byte("# A\n\nalpha"), 0o644))

	c, err := LoadCorpus(dir)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Len())

	_, err = LoadCorpus(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestKeywordSearch(t *testing.T) {
	c, err := LoadCorpusFS(kb)
	require.NoError(t, err)
	idx := NewKeywordIndex(c)

	hits, err := idx.Search(context.Background(), "How do I failover postgres?", 3)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "runbooks/postgres-failover.md", hits[0].Source)
	assert.Equal(t, "Postgres failover", hits[0].Title)

	hits, err = idx.Search(context.Background(), "kubernetes quota", 3)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestKeywordSearchEmptyCorpus(t *testing.T) {
	hits, err := NewKeywordIndex(NewCorpus()).Search(context.Background(), "anything", 3)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestFetch(t *testing.T) {
	c, err := LoadCorpusFS(kb)
	require.NoError(t, err)

	docs, err := c.Fetch(context.Background(), "helm release rollback", 2)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "runbooks/deploy.md", docs[0].Source)

	docs, err = c.Fetch(context.Background(), "", 2)
	require.NoError(t, err)
	assert.Len(t, docs, 2)
}

// bagOfWords is a deterministic embedding: hashed term counts, normalized.
func bagOfWords(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, 64)
	for _, term := range tokenize(text) {
		h := fnv.New32a()
		h.Write([]byte(term))
		vec[h.Sum32()%64]++
	}
	vec[0] += 0.01 // never all zero

	var norm float64
	for _, v := range vec {
		norm += float64(v * v)
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec, nil
}

func TestSemanticSearch(t *testing.T) {
	c, err := LoadCorpusFS(kb)
	require.NoError(t, err)

	idx, err := NewSemanticIndex(context.Background(), c, bagOfWords, 0.1)
	require.NoError(t, err)

	hits, err := idx.Search(context.Background(), "postgres replica promote", 10)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "runbooks/postgres-failover.md", hits[0].Source)

	sources := map[string]bool{}
	for _, h := range hits {
		assert.False(t, sources[h.Source], "one hit per document")
		sources[h.Source] = true
	}
}

func TestSemanticSearchEmptyCorpus(t *testing.T) {
	idx, err := NewSemanticIndex(context.Background(), NewCorpus(), bagOfWords, 0)
	require.NoError(t, err)

	hits, err := idx.Search(context.Background(), "anything", 3)
	require.NoError(t, err)
	assert.Empty(t, hits)
}
