//go:build !linux

package hook

import "context"

// Install returns ErrUnsupported on non-Linux systems.
func (c *NftablesController) Install() error {
	return ErrUnsupported
}

// Remove is a no-op on non-Linux systems.
func (c *NftablesController) Remove() error {
	return nil
}

// Verify returns ErrUnsupported on non-Linux systems.
func (c *NftablesController) Verify() (bool, error) {
	return false, ErrUnsupported
}

// Run returns ErrUnsupported on non-Linux systems.
func (q *Queue) Run(ctx context.Context) error {
	return ErrUnsupported
}
