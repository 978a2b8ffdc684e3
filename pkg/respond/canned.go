package respond

import (
	"sort"

	"github.com/harunnryd/dineline/pkg/textnorm"
	lru "github.com/hashicorp/golang-lru/v2"
)

type cannedHit struct {
	answer string
	ok     bool
}

// cannedTable matches whole-word topics against an utterance. Longer
// topics win; equal lengths fall back to alphabetical order.
type cannedTable struct {
	keys    []string
	answers map[string]string
	memo    *lru.Cache[string, cannedHit]
}

func newCannedTable(answers map[string]string, memoSize int) (*cannedTable, error) {
	memo, err := lru.New[string, cannedHit](memoSize)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(answers))
	normalized := make(map[string]string, len(answers))
	for k, v := range answers {
		nk := textnorm.Normalize(k)
		if nk == "" {
			continue
		}
		keys = append(keys, nk)
		normalized[nk] = v
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	return &cannedTable{keys: keys, answers: normalized, memo: memo}, nil
}

func (c *cannedTable) match(utterance string) (string, bool) {
	if hit, ok := c.memo.Get(utterance); ok {
		return hit.answer, hit.ok
	}
	hit := cannedHit{}
	if key, ok := textnorm.MatchAny(utterance, c.keys); ok {
		hit = cannedHit{answer: c.answers[key], ok: true}
	}
	c.memo.Add(utterance, hit)
	return hit.answer, hit.ok
}
