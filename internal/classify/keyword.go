package classify

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/capitalize-ai/oncall-dispatch/internal/model"
)

type rule struct {
	typ      model.ClassificationType
	keywords []string
}

// Rules are checked in order; the type with the most keyword hits wins and
// earlier rules win ties.
var rules = []rule{
	{model.TypeIncident, []string{"outage", "down", "incident", "500", "error rate", "crash", "failing", "unreachable", "degraded", "sev1", "sev2", "pager", "broken"}},
	{model.TypeDeploymentHelp, []string{"deploy", "deployment", "release", "rollback", "roll back", "pipeline", "helm", "rollout", "ci/cd"}},
	{model.TypeKnowledgeQuery, []string{"how do", "how to", "what is", "where is", "documentation", "docs", "guide", "runbook", "explain"}},
	{model.TypeSupportRequest, []string{"help", "access", "permission", "request", "can't", "cannot", "unable", "issue", "password", "account"}},
}

var severityWords = []struct {
	sev   model.Severity
	words []string
}{
	{model.SeverityCritical, []string{"critical", "sev1", "production down", "prod down", "all users", "data loss", "outage"}},
	{model.SeverityHigh, []string{"urgent", "asap", "high", "sev2", "customers", "production", "prod"}},
	{model.SeverityMedium, []string{"soon", "medium", "degraded", "slow"}},
}

var entityPattern = regexp.MustCompile(`(?i)\b(?:[a-z][a-z0-9]*[-_][a-z0-9_-]+|[a-z]+-\d+)\b`)

// KeywordClassifier is the rule-based classifier used when no model is configured.
type KeywordClassifier struct {
	// Entities are known service or component names to extract verbatim.
	Entities []string
}

// NewKeywordClassifier creates a keyword classifier that also extracts the given entity names.
func NewKeywordClassifier(entities ...string) *KeywordClassifier {
	return &KeywordClassifier{Entities: entities}
}

// Classify scores the text against the keyword rules. It never fails.
func (k *KeywordClassifier) Classify(_ context.Context, text string, _ []model.MessageContext) (model.Classification, error) {
	lower := strings.ToLower(text)

	best, bestHits := model.TypeGeneral, 0
	for _, r := range rules {
		hits := 0
		for _, kw := range r.keywords {
			if containsWord(lower, kw) {
				hits++
			}
		}
		if hits > bestHits {
			best, bestHits = r.typ, hits
		}
	}

	severity := model.SeverityLow
	for _, s := range severityWords {
		if containsAny(lower, s.words) {
			severity = s.sev
			break
		}
	}

	confidence := 0.3
	if bestHits > 0 {
		confidence = min(0.5+0.1*float64(bestHits), 0.9)
	}

	return model.NormalizeClassification(string(best), string(severity), confidence, k.entities(text, lower)), nil
}

func (k *KeywordClassifier) entities(text, lower string) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(e string) {
		if e != "" && !seen[e] {
			seen[e] = true
			out = append(out, e)
		}
	}
	for _, e := range k.Entities {
		if containsWord(lower, strings.ToLower(e)) {
			add(e)
		}
	}
	for _, m := range entityPattern.FindAllString(text, -1) {
		add(strings.ToLower(m))
	}
	sort.Strings(out)
	return out
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if containsWord(s, w) {
			return true
		}
	}
	return false
}

// containsWord reports whether w occurs in s on word boundaries.
func containsWord(s, w string) bool {
	for i := 0; ; {
		j := strings.Index(s[i:], w)
		if j < 0 {
			return false
		}
		start, end := i+j, i+j+len(w)
		if (start == 0 || !isWordByte(s[start-1])) && (end == len(s) || !isWordByte(s[end])) {
			return true
		}
		i = start + 1
	}
}

func isWordByte(b byte) bool {
	return b == '_' || b >= '0' && b <= '9' || b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z'
}
