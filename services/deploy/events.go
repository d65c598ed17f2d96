package deploy

import "time"

// ArtifactEvent is published on SubjectArtifactPublished after the platform
// accepts an artifact.
type ArtifactEvent struct {
	RunID           string    `json:"runId"`
	ProjectID       string    `json:"projectId"`
	EnvironmentName string    `json:"environmentName"`
	VersionName     string    `json:"versionName"`
	CommitHash      string    `json:"commitHash,omitempty"`
	Branch          string    `json:"branch,omitempty"`
	StatusCode      int       `json:"statusCode"`
	Keys            []string  `json:"keys"`
	ArchiveSHA256   string    `json:"archiveSha256,omitempty"`
	ArchiveLocation string    `json:"archiveLocation,omitempty"`
	PublishedAt     time.Time `json:"publishedAt"`
}

// ExecutionEvent is published on SubjectPipelinesExecuted after a batch of
// executions, including a batch cut short by an error.
type ExecutionEvent struct {
	RunID           string             `json:"runId"`
	ProjectID       string             `json:"projectId"`
	EnvironmentName string             `json:"environmentName"`
	Requested       int                `json:"requested"`
	Executions      []ExecutedPipeline `json:"executions"`
	Error           string             `json:"error,omitempty"`
}

type ExecutedPipeline struct {
	PipelineName string `json:"pipelineName"`
	ExecutionID  string `json:"pipelineExecutionId"`
	StatusCode   int    `json:"statusCode"`
}
