package fetch

import "fmt"

// ExhaustedError reports a fetch that failed every allowed attempt.
// LastStatus is zero when the final failure was a network error.
type ExhaustedError struct {
	URL        string
	LastStatus int
	Attempts   int
}

func (e *ExhaustedError) Error() string {
	if e.LastStatus == 0 {
		return fmt.Sprintf("fetch exhausted after %d attempts: %s", e.Attempts, e.URL)
	}
	return fmt.Sprintf("fetch exhausted after %d attempts (last status %d): %s", e.Attempts, e.LastStatus, e.URL)
}

// PermanentError reports a response that is pointless to retry, such as 404.
// The caller decides whether it is an end-of-pagination signal or a failure.
type PermanentError struct {
	URL    string
	Status int
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent fetch failure (status %d): %s", e.Status, e.URL)
}
