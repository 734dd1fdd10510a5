package keyword

import (
	"fmt"
	"strings"

	"github.com/pauljones0/holemonitor/internal/models"
)

// Pool is the set of post ids already reported.
type Pool map[int64]struct{}

func (p Pool) Has(pid int64) bool {
	_, ok := p[pid]
	return ok
}

func (p Pool) Add(pid int64) {
	p[pid] = struct{}{}
}

// Match evaluates posts against rule and returns the matches not yet in pool,
// adding them to pool. Input order is preserved.
//
// For AllOf rules the candidates are narrowed term by term and the search
// stops as soon as no candidate is left.
func Match(posts []models.Post, rule Rule, pool Pool) ([]models.Post, error) {
	var matched []models.Post
	switch r := rule.(type) {
	case AllOf:
		matched = posts
		for _, term := range r.Terms {
			var next []models.Post
			for _, p := range matched {
				if strings.Contains(p.Text, term) {
					next = append(next, p)
				}
			}
			if len(next) == 0 {
				return nil, nil
			}
			matched = next
		}
	default:
		for _, p := range posts {
			ok, err := rule.Match(p.Text)
			if err != nil {
				return nil, fmt.Errorf("match post %d: %w", p.PID, err)
			}
			if ok {
				matched = append(matched, p)
			}
		}
	}

	var fresh []models.Post
	for _, p := range matched {
		if pool.Has(p.PID) {
			continue
		}
		pool.Add(p.PID)
		fresh = append(fresh, p)
	}
	return fresh, nil
}

// Matcher binds a rule to its dedup pool for the lifetime of a loop.
type Matcher struct {
	rule Rule
	pool Pool
}

func NewMatcher(rule Rule) *Matcher {
	return &Matcher{rule: rule, pool: make(Pool)}
}

// Match returns the posts that newly match the rule.
func (m *Matcher) Match(posts []models.Post) ([]models.Post, error) {
	return Match(posts, m.rule, m.pool)
}

func (m *Matcher) Rule() Rule {
	return m.rule
}

// Reported reports whether pid has already been returned by Match.
func (m *Matcher) Reported(pid int64) bool {
	return m.pool.Has(pid)
}

// LiveMatcher evaluates a finished thread (post text plus its comments).
// Any negative term suppresses the thread regardless of the positive rule.
type LiveMatcher struct {
	rule      Rule
	negatives []string
	pool      Pool
}

func NewLiveMatcher(rule Rule, negatives []string) *LiveMatcher {
	return &LiveMatcher{rule: rule, negatives: negatives, pool: make(Pool)}
}

// Evaluate reports whether the thread should be reported now. A reported
// thread is remembered and never reported again.
func (m *LiveMatcher) Evaluate(post models.Post, comments []models.Comment) (bool, error) {
	if m.pool.Has(post.PID) {
		return false, nil
	}

	var b strings.Builder
	b.WriteString(post.Text)
	for _, c := range comments {
		b.WriteByte('\n')
		b.WriteString(c.Text)
	}
	combined := b.String()

	for _, neg := range m.negatives {
		if neg != "" && strings.Contains(combined, neg) {
			return false, nil
		}
	}

	ok, err := m.rule.Match(combined)
	if err != nil {
		return false, fmt.Errorf("live match post %d: %w", post.PID, err)
	}
	if ok {
		m.pool.Add(post.PID)
	}
	return ok, nil
}
