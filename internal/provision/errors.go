package provision

import "fmt"

// PackageInstallError names the pinned package the installer rejected.
type PackageInstallError struct {
	Name    string
	Version string
	Cause   error
}

func (e *PackageInstallError) Error() string {
	return fmt.Sprintf("install %s==%s: %v", e.Name, e.Version, e.Cause)
}

func (e *PackageInstallError) Unwrap() error { return e.Cause }

// StepError wraps the failure of a named step; the run stopped there.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }
