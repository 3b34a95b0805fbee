// Package appeal handles ban appeals: one per identity per window, reviewed
// and removed through the admin surface.
package appeal

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harborlab/tidegate/internal/storage"
)

// ErrEmptyText rejects appeals with no content.
var ErrEmptyText = errors.New("appeal text can't be empty")

// CooldownError reports that the identity already appealed within the window.
type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("one appeal per week allowed; try again in %d hours",
		int(e.Remaining.Hours()))
}

// Service enforces the appeal cadence and stores submissions.
type Service struct {
	store  storage.Store
	window time.Duration
}

// NewService creates a Service. window is the minimum gap between appeals
// from the same identity.
func NewService(store storage.Store, window time.Duration) *Service {
	return &Service{store: store, window: window}
}

// Submit stores an appeal for id, replacing any previous one outside the
// window. Returns ErrEmptyText or *CooldownError on rejection.
func (s *Service) Submit(id, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyText
	}

	prev, err := s.store.GetAppeal(id)
	if err != nil {
		return fmt.Errorf("load previous appeal: %w", err)
	}
	now := time.Now()
	if prev != nil {
		elapsed := now.Sub(prev.SubmittedAt)
		if elapsed < s.window {
			return &CooldownError{Remaining: s.window - elapsed}
		}
	}

	return s.store.PutAppeal(storage.Appeal{
		Identity:    id,
		Text:        text,
		SubmittedAt: now,
	})
}

// List returns all stored appeals, oldest first.
func (s *Service) List() ([]storage.Appeal, error) {
	return s.store.ListAppeals()
}

// Delete removes id's appeal, if any.
func (s *Service) Delete(id string) error {
	return s.store.DeleteAppeal(id)
}
