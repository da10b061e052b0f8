package mirror

import (
	"errors"
	"fmt"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// Watermark tags share the ordinary tag namespace; the reserved prefix keeps
// them clear of user-created tags.
const watermarkPrefix = "_SCANNED_"

// Fixed authorship for watermark tags.
const (
	tagAuthorName  = "Config Scanner"
	tagAuthorEmail = "configscanner@repomirror.invalid"
)

// WatermarkTag returns the watermark tag name for one tracked branch.
func WatermarkTag(branch string) string { return watermarkPrefix + branch }

// CreateTag deletes any existing tag of that name and creates an annotated
// tag at the current head. Net effect: the tag points at head regardless of
// prior state. Delete-then-recreate avoids a dangling prior target during
// the move.
func (m *Mirror) CreateTag(name, message string) error {
	if m.state != StateOpen {
		return ErrNotOpen
	}
	if err := m.DeleteTag(name); err != nil {
		return err
	}
	head, err := m.repo.Head()
	if err != nil {
		return fmt.Errorf("resolve head: %w", err)
	}
	_, err = m.repo.CreateTag(name, head.Hash(), &git.CreateTagOptions{
		Tagger: &object.Signature{
			Name:  tagAuthorName,
			Email: tagAuthorEmail,
			When:  time.Now(),
		},
		Message: message,
	})
	if err != nil {
		return fmt.Errorf("create tag %s: %w", name, err)
	}
	return nil
}

// DeleteTag removes the named tag. Absence is not an error.
func (m *Mirror) DeleteTag(name string) error {
	if m.state != StateOpen {
		return ErrNotOpen
	}
	err := m.repo.DeleteTag(name)
	if err != nil && !errors.Is(err, git.ErrTagNotFound) {
		return fmt.Errorf("delete tag %s: %w", name, err)
	}
	return nil
}

// HasRef reports whether a full ref name (e.g. "refs/tags/x" or
// "refs/heads/main") exists in the mirror.
func (m *Mirror) HasRef(ref string) bool {
	if m.state != StateOpen {
		return false
	}
	_, err := m.repo.Reference(plumbing.ReferenceName(ref), false)
	return err == nil
}
