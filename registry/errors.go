package registry

import (
	"fmt"

	"github.com/c360/controlbus/errors"
)

var (
	// ErrObjectNotFound indicates no object is registered under a name
	ErrObjectNotFound = fmt.Errorf("object not found: %w", errors.ErrUnsupportedFeature)

	// ErrDuplicateObject indicates a name is already taken
	ErrDuplicateObject = fmt.Errorf("object already registered: %w", errors.ErrParameters)

	// ErrUnknownClass indicates a configuration section names an unregistered class
	ErrUnknownClass = fmt.Errorf("unknown class: %w", errors.ErrParameters)
)
