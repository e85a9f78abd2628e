package knowledge

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"github.com/capitalize-ai/oncall-dispatch/internal/model"
)

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "can": true, "do": true, "does": true,
	"for": true, "how": true, "i": true, "in": true, "is": true, "it": true, "my": true,
	"of": true, "on": true, "or": true, "the": true, "to": true, "we": true, "what": true,
	"where": true, "with": true, "you": true,
}

// KeywordIndex searches the corpus by term overlap. It is the search
// backend used when no embedding provider is configured.
type KeywordIndex struct {
	corpus *Corpus
}

// NewKeywordIndex creates a keyword index over c.
func NewKeywordIndex(c *Corpus) *KeywordIndex {
	return &KeywordIndex{corpus: c}
}

// Search returns up to maxResults hits, one per document, best first.
// No matching documents is not an error.
func (k *KeywordIndex) Search(ctx context.Context, query string, maxResults int) ([]model.SearchHit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	terms := tokenize(query)
	if len(terms) == 0 {
		return nil, nil
	}

	best := make(map[int]model.SearchHit)
	for _, ch := range k.corpus.chunks {
		doc := k.corpus.docs[ch.doc]
		s := score(terms, doc.Title+" "+ch.text)
		if s == 0 {
			continue
		}
		if prev, ok := best[ch.doc]; ok && prev.Score >= s {
			continue
		}
		best[ch.doc] = model.SearchHit{Title: doc.Title, Excerpt: excerpt(ch.text), Source: doc.Source, Score: s}
	}

	hits := make([]model.SearchHit, 0, len(best))
	for _, h := range best {
		hits = append(hits, h)
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Source < hits[j].Source
	})
	if maxResults > 0 && len(hits) > maxResults {
		hits = hits[:maxResults]
	}
	return hits, nil
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) > 1 && !stopwords[f] {
			out = append(out, f)
		}
	}
	return out
}

// score is the fraction of query terms present in text.
func score(terms []string, text string) float64 {
	if len(terms) == 0 {
		return 0
	}
	present := make(map[string]bool)
	for _, t := range tokenize(text) {
		present[t] = true
	}
	hits := 0
	for _, t := range terms {
		if present[t] {
			hits++
		}
	}
	return float64(hits) / float64(len(terms))
}

func excerpt(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if r := []rune(text); len(r) > 280 {
		return string(r[:277]) + "..."
	}
	return text
}
