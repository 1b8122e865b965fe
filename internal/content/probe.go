package content

import "errors"

// ReadyErr reports whether the server has docs to serve. It feeds the
// readiness probe so the instance stays out of rotation until the seed
// or a downloaded bundle is active.
func (m *Manager) ReadyErr() error {
	if _, ok := m.Get(); !ok {
		return errors.New("content: no active snapshot")
	}
	return nil
}
