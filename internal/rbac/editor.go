package rbac

import (
	"context"
	"fmt"

	"github.com/tallyard/tallyard/internal/shared"
)

// EditorSession owns one administrator's matrix editing session for a single
// role: the baseline loaded from the store, the pending-change buffer, and
// the commit/discard lifecycle. It exists between "select role to edit" and
// commit or cancel, and nothing reaches the store until Commit.
type EditorSession struct {
	service *Service
	actorID int64
	role    Role

	baseline map[Key]bool
	pending  *PendingChangeSet
	loaded   bool
}

// NewEditorSession opens an editing session for the given role.
func NewEditorSession(service *Service, actorID int64, role Role) *EditorSession {
	return &EditorSession{
		service: service,
		actorID: actorID,
		role:    role,
		pending: NewPendingChangeSet(),
	}
}

// Role returns the role under edit.
func (s *EditorSession) Role() Role {
	return s.role
}

// Load fetches the current grants as the session baseline. For the
// Administrator role every ungranted catalog permission is pre-staged as a
// pending grant, so the always-allow semantics show up as explicit, editable
// rows instead of a hidden bypass.
func (s *EditorSession) Load(ctx context.Context) error {
	baseline, err := s.service.BaselineFor(ctx, s.role.ID)
	if err != nil {
		return err
	}
	s.baseline = baseline
	s.loaded = true

	if s.role.Kind() == KindSystemAdmin {
		for _, key := range s.service.Catalog().Keys() {
			if !s.baseline[key] {
				s.pending.Set(key, true)
			}
		}
	}
	return nil
}

// Toggle stages a new desired value for one permission. The baseline is
// never touched; repeated toggles on the same key keep only the last value.
func (s *EditorSession) Toggle(key Key, canAccess bool) error {
	if !s.loaded {
		return fmt.Errorf("rbac: editor session not loaded")
	}
	if _, err := s.service.Catalog().Resolve(key); err != nil {
		return err
	}
	// Toggling back to the baseline value removes the pending entry so the
	// change counter stays truthful.
	if current, ok := s.baseline[key]; ok && current == canAccess {
		s.pending.Unset(key)
		return nil
	}
	if !s.hasBaseline(key) && !canAccess {
		s.pending.Unset(key)
		return nil
	}
	s.pending.Set(key, canAccess)
	return nil
}

// Effective resolves the displayed state of one checkbox.
func (s *EditorSession) Effective(key Key) bool {
	return s.pending.Effective(key, s.baseline)
}

// PendingCount reports how many edits are staged.
func (s *EditorSession) PendingCount() int {
	return s.pending.Len()
}

// Commit sends the complete resolved grant list to the store. On success the
// buffer is cleared and the baseline re-fetched from the store, which stays
// the source of truth. On failure the buffer is kept so the administrator
// can retry without re-entering edits.
func (s *EditorSession) Commit(ctx context.Context) error {
	if !s.loaded {
		return fmt.Errorf("rbac: editor session not loaded")
	}
	if s.pending.Len() == 0 {
		return nil
	}
	batch, err := s.pending.CommitBatch(s.baseline, s.service.Catalog())
	if err != nil {
		return err
	}
	if err := s.service.CommitGrants(ctx, s.actorID, s.role.ID, batch); err != nil {
		return fmt.Errorf("commit grants for role %d: %w", s.role.ID, err)
	}
	s.pending.Clear()

	baseline, err := s.service.BaselineFor(ctx, s.role.ID)
	if err != nil {
		// The commit itself succeeded; surface the refresh failure so the
		// caller re-opens the session rather than trusting local state.
		return fmt.Errorf("%w: reload baseline: %v", shared.ErrStoreUnavailable, err)
	}
	s.baseline = baseline
	return nil
}

// Discard drops every staged edit. Nothing was sent to the store, so no
// compensating action is needed.
func (s *EditorSession) Discard() {
	s.pending.Clear()
}

func (s *EditorSession) hasBaseline(key Key) bool {
	_, ok := s.baseline[key]
	return ok
}
