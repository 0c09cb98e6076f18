package browser

import "fmt"

// AuthError indicates the portal login did not succeed: the post-submit
// navigation never left the login URL within the bounded wait window.
type AuthError struct {
	URL string
	Err error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("portal authentication failed for %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("portal authentication failed for %s: URL did not change after submit", e.URL)
}

func (e *AuthError) Unwrap() error { return e.Err }

// LaunchError indicates the headless browser process could not be started or
// connected to.
type LaunchError struct {
	Err error
}

func (e *LaunchError) Error() string { return fmt.Sprintf("browser launch failed: %v", e.Err) }
func (e *LaunchError) Unwrap() error { return e.Err }
