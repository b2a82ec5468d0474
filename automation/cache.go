package automation

import "sync"

// orderedRulesCache holds the evaluation-ordered active rule slice so
// ProcessMessage does not re-filter and re-sort the rule map on every
// message. Invalidated whenever the rule set mutates.
type orderedRulesCache struct {
	mu    sync.RWMutex
	rules []*Rule
	valid bool
}

// get returns the cached slice, or nil on a miss. The slice itself is
// copied; the rule pointers are engine-owned and shared.
func (c *orderedRulesCache) get() []*Rule {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.valid {
		return nil
	}
	out := make([]*Rule, len(c.rules))
	copy(out, c.rules)
	return out
}

func (c *orderedRulesCache) set(rules []*Rule) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rules = make([]*Rule, len(rules))
	copy(c.rules, rules)
	c.valid = true
}

func (c *orderedRulesCache) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.valid = false
	c.rules = nil
}
