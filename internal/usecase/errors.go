package usecase

import (
	"errors"
	"fmt"

	"torrentsqlite/internal/domain"
)

// wrapResolve keeps session failures distinguishable and classifies every
// other attach failure as unresolvable content.
func wrapResolve(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrCannotResolveContent) || errors.Is(err, domain.ErrSession) {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrCannotResolveContent, err)
}
