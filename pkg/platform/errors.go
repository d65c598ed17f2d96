package platform

import (
	"fmt"
	"strings"
)

// RemoteFetchError is returned when a listing endpoint does not answer 200.
type RemoteFetchError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *RemoteFetchError) Error() string {
	return fmt.Sprintf("failed to retrieve %s: %d: %s", strings.TrimPrefix(e.Endpoint, "/"), e.StatusCode, strings.TrimSpace(e.Body))
}

// PublishError is returned when artifact creation answers outside [200,300).
type PublishError struct {
	StatusCode int
	Body       string
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("failed to publish: %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

// ExecutionError is returned when a pipeline execution request answers outside [200,300).
type ExecutionError struct {
	Pipeline   string
	StatusCode int
	Body       string
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("failed to execute pipeline %q: %d: %s", e.Pipeline, e.StatusCode, strings.TrimSpace(e.Body))
}
