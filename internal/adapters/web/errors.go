package web

import "fmt"

// statusError describes a non-OK HTTP response.
type statusError struct {
	StatusCode int
	URL        string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("web: %s returned status %d", e.URL, e.StatusCode)
}

type ClientError struct {
	Message string
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("web client: %s", e.Message)
}
