package rulestore

import "github.com/plexsphere/myfw/internal/rule"

// Lookup walks the rules head to tail and returns the position and verdict of
// the first rule matching d. When nothing matches it returns -1, the default
// verdict and false.
func (s *Store) Lookup(d rule.Rule) (int, rule.Verdict, bool) {
	pos := 0
	for idx := s.head; idx != nilIndex; idx = s.nodes[idx].next {
		n := &s.nodes[idx]
		if rule.Matches(n.rule, d) {
			return pos, n.rule.Verdict, true
		}
		pos++
	}
	return -1, s.defaultVerdict, false
}

// Evaluate returns the verdict for descriptor d: the verdict of the first
// matching rule, or the store default. It never fails.
func Evaluate(d rule.Rule, s *Store) rule.Verdict {
	_, v, _ := s.Lookup(d)
	return v
}
