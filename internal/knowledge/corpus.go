// Package knowledge loads the knowledge base and serves search and document
// fetches over it.
package knowledge

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/capitalize-ai/oncall-dispatch/internal/model"
)

// Corpus is the set of knowledge base documents.
type Corpus struct {
	docs   []model.Document
	chunks []chunk
}

type chunk struct {
	doc   int
	index int
	text  string
}

// LoadCorpus reads every .md and .txt file under dir.
func LoadCorpus(dir string) (*Corpus, error) {
	return LoadCorpusFS(os.DirFS(dir))
}

// LoadCorpusFS reads every .md and .txt file in fsys.
func LoadCorpusFS(fsys fs.FS) (*Corpus, error) {
	c := &Corpus{}
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(path.Ext(p))
		if ext != ".md" && ext != ".txt" {
			return nil
		}

		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", p, err)
		}
		c.add(model.Document{
			Title:   title(p, string(data)),
			Source:  p,
			Content: strings.TrimSpace(string(data)),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load knowledge base: %w", err)
	}
	return c, nil
}

// NewCorpus builds a corpus from documents already in memory.
func NewCorpus(docs ...model.Document) *Corpus {
	c := &Corpus{}
	for _, d := range docs {
		c.add(d)
	}
	return c
}

func (c *Corpus) add(d model.Document) {
	i := len(c.docs)
	c.docs = append(c.docs, d)
	for j, p := range paragraphs(d.Content) {
		c.chunks = append(c.chunks, chunk{doc: i, index: j, text: p})
	}
}

// Len returns the number of documents.
func (c *Corpus) Len() int {
	return len(c.docs)
}

// Documents returns every document in load order.
func (c *Corpus) Documents() []model.Document {
	return c.docs
}

// Fetch returns up to limit documents most relevant to topic.
func (c *Corpus) Fetch(_ context.Context, topic string, limit int) ([]model.Document, error) {
	if limit <= 0 {
		limit = 3
	}

	terms := tokenize(topic)
	type scored struct {
		doc   int
		score float64
	}
	var ranked []scored
	for i, d := range c.docs {
		s := score(terms, d.Title+" "+d.Content)
		if len(terms) == 0 || s > 0 {
			ranked = append(ranked, scored{doc: i, score: s})
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	out := make([]model.Document, 0, limit)
	for _, r := range ranked {
		if len(out) == limit {
			break
		}
		out = append(out, c.docs[r.doc])
	}
	return out, nil
}

func title(p, content string) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "# "))
		}
		if line != "" {
			break
		}
	}
	base := path.Base(p)
	base = strings.TrimSuffix(base, path.Ext(base))
	return strings.NewReplacer("-", " ", "_", " ").Replace(base)
}

func paragraphs(content string) []string {
	var out []string
	for _, p := range strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n\n") {
		p = strings.TrimSpace(p)
		if p == "" || strings.HasPrefix(p, "# ") && !strings.Contains(p, "\n") {
			continue
		}
		out = append(out, p)
	}
	return out
}
