package library

import (
	"fmt"

	"rollcall/internal/services"
)

// DimensionError reports a vector whose length does not match the backend's
// registered feature dimension. It unwraps to services.ErrDataIntegrity so
// the scheduler treats it as terminal.
type DimensionError struct {
	BackendID string
	Got       int
	Want      int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("vector dimension %d does not match backend %s dimension %d", e.Got, e.BackendID, e.Want)
}

func (e *DimensionError) Unwrap() error {
	return services.ErrDataIntegrity
}
