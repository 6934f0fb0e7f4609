package rbac

// PendingChangeSet buffers an administrator's uncommitted matrix edits for a
// single role. It never mutates the baseline; the UI reads the effective
// view through Resolve and can discard the whole set at no cost.
type PendingChangeSet struct {
	changes map[Key]bool
}

// NewPendingChangeSet returns an empty buffer.
func NewPendingChangeSet() *PendingChangeSet {
	return &PendingChangeSet{changes: make(map[Key]bool)}
}

// Set records the desired value for a key. Last write per key wins.
func (p *PendingChangeSet) Set(key Key, canAccess bool) {
	p.changes[key] = canAccess
}

// Unset drops a single pending edit.
func (p *PendingChangeSet) Unset(key Key) {
	delete(p.changes, key)
}

// Value returns the pending value for a key and whether one exists.
func (p *PendingChangeSet) Value(key Key) (bool, bool) {
	v, ok := p.changes[key]
	return v, ok
}

// Len reports the number of pending edits.
func (p *PendingChangeSet) Len() int {
	return len(p.changes)
}

// Clear drops every pending edit.
func (p *PendingChangeSet) Clear() {
	p.changes = make(map[Key]bool)
}

// Effective resolves the displayed state of one key: pending overrides
// baseline, baseline overrides the implicit not-granted default.
func (p *PendingChangeSet) Effective(key Key, baseline map[Key]bool) bool {
	if v, ok := p.changes[key]; ok {
		return v
	}
	return baseline[key]
}

// Resolve produces the full effective view over a baseline.
func (p *PendingChangeSet) Resolve(baseline map[Key]bool) map[Key]bool {
	out := make(map[Key]bool, len(baseline)+len(p.changes))
	for k, v := range baseline {
		out[k] = v
	}
	for k, v := range p.changes {
		out[k] = v
	}
	return out
}

// CommitBatch builds the complete update list for the store: every baseline
// row with its pending value if overridden (else unchanged), plus every
// pending-only key validated against the catalog. Sending the whole picture
// instead of a sparse patch keeps concurrent editing races bounded to
// last-full-commit-wins.
func (p *PendingChangeSet) CommitBatch(baseline map[Key]bool, catalog *Catalog) ([]GrantUpdate, error) {
	keys := make([]Key, 0, len(baseline)+len(p.changes))
	seen := make(map[Key]struct{}, len(baseline)+len(p.changes))
	for k := range baseline {
		keys = append(keys, k)
		seen[k] = struct{}{}
	}
	for k := range p.changes {
		if _, ok := seen[k]; ok {
			continue
		}
		if _, err := catalog.Resolve(k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	SortKeys(keys)

	batch := make([]GrantUpdate, 0, len(keys))
	for _, k := range keys {
		batch = append(batch, GrantUpdate{Key: k, CanAccess: p.Effective(k, baseline)})
	}
	return batch, nil
}
