package manager

// alreadyRunningError is returned by Run when another Run is active.
type alreadyRunningError struct{}

func (alreadyRunningError) Error() string { return "manager already running" }

// IsAlreadyRunning reports whether err came from a second concurrent Run.
func IsAlreadyRunning(err error) bool {
	_, ok := err.(alreadyRunningError)
	return ok
}

// configError signals an unusable ManagerConfig.
type configError struct{ msg string }

func (e configError) Error() string { return "manager config: " + e.msg }

// IsConfigError reports whether err was caused by an invalid ManagerConfig.
func IsConfigError(err error) bool {
	_, ok := err.(configError)
	return ok
}
