package publisher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/rs/zerolog"

	"dpcdeploy/pkg/platform"
)

// Outcome tells a caller how a run ended when it did not fail.
type Outcome int

const (
	OutcomePublished Outcome = iota
	OutcomeDryRun
	// OutcomeNothingToDo is a benign early exit: there was no input to act on.
	OutcomeNothingToDo
)

func (o Outcome) String() string {
	switch o {
	case OutcomePublished:
		return "published"
	case OutcomeDryRun:
		return "dry-run"
	case OutcomeNothingToDo:
		return "nothing-to-do"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// ArtifactClient is the subset of the platform API used to publish.
type ArtifactClient interface {
	ConnectorLister
	CreateArtifact(ctx context.Context, req platform.ArtifactRequest) (*platform.ArtifactResponse, error)
}

// Metadata identifies the artifact version being published.
type Metadata struct {
	ProjectID       string
	VersionName     string
	EnvironmentName string
	CommitHash      string
	Branch          string
}

// PublishConfig configures a single publication.
type PublishConfig struct {
	ProjectPath string
	Metadata    Metadata
	DryRun      bool
	// Client may be nil for dry runs.
	Client  ArtifactClient
	Collect CollectOptions
	Archive *ArchiveConfig
	Logger  zerolog.Logger
	Now     func() time.Time
	Stdout  io.Writer
}

// Result summarises a publication.
type Result struct {
	Outcome    Outcome
	Files      int
	Connectors int
	// Keys lists the submitted identities, or the would-be identities on a dry run.
	Keys     []string
	Response *platform.ArtifactResponse
	Archive  *ArchiveResult
}

// Publish collects the project's resources and submits them as one artifact.
func Publish(ctx context.Context, cfg PublishConfig) (*Result, error) {
	if cfg.Metadata.VersionName == "" {
		return nil, errors.New("version name is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}
	if cfg.ProjectPath == "" {
		cfg.ProjectPath = "."
	}
	log := cfg.Logger

	log.Info().Str("path", cfg.ProjectPath).Msg("publishing from project")
	log.Info().
		Str("version", cfg.Metadata.VersionName).
		Str("commit", cfg.Metadata.CommitHash).
		Str("project", cfg.Metadata.ProjectID).
		Str("environment", cfg.Metadata.EnvironmentName).
		Str("branch", cfg.Metadata.Branch).
		Msg("artifact metadata")

	files, err := Collect(ctx, cfg.ProjectPath, cfg.Collect)
	if err != nil {
		return nil, fmt.Errorf("collect resources: %w", err)
	}
	for _, f := range files {
		log.Debug().Str("name", f.Name).Str("path", f.Path).Msg("identified resource")
	}
	if len(files) == 0 {
		fmt.Fprintf(cfg.Stdout, "No assets found in provided path: %s. Exiting.\n", cfg.ProjectPath)
		return &Result{Outcome: OutcomeNothingToDo}, nil
	}

	if cfg.DryRun {
		return dryRun(cfg.Stdout, files), nil
	}
	if cfg.Client == nil {
		return nil, errors.New("artifact client is required")
	}

	resources := make([]Resource, 0, len(files))
	for _, f := range files {
		resources = append(resources, f)
	}
	connectors, err := FetchConnectors(ctx, cfg.Client, ConnectorKinds()...)
	if err != nil {
		return nil, err
	}
	resources = append(resources, connectors...)

	form, err := buildForm(resources, log)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Outcome:    OutcomePublished,
		Files:      len(files),
		Connectors: len(connectors),
	}
	for _, e := range form.Entries() {
		result.Keys = append(result.Keys, e.Key)
	}

	var body bytes.Buffer
	contentType, err := form.Encode(&body)
	if err != nil {
		return nil, fmt.Errorf("encode artifact: %w", err)
	}

	var manifest *Manifest
	if cfg.Archive != nil {
		manifest = NewManifest(cfg.Metadata, form.Entries(), cfg.Now())
		archived, err := WriteArchive(ctx, *cfg.Archive, manifest, form.Entries())
		if err != nil {
			return nil, fmt.Errorf("archive artifact: %w", err)
		}
		result.Archive = archived
	}

	resp, err := cfg.Client.CreateArtifact(ctx, platform.ArtifactRequest{
		Metadata: platform.ArtifactMetadata{
			VersionName:     cfg.Metadata.VersionName,
			EnvironmentName: cfg.Metadata.EnvironmentName,
			CommitHash:      cfg.Metadata.CommitHash,
			Branch:          cfg.Metadata.Branch,
		},
		ContentType: contentType,
		Body:        &body,
	})
	if err != nil {
		// The archive only records accepted artifacts.
		if result.Archive != nil {
			if rmErr := os.Remove(result.Archive.Path); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
				log.Warn().Err(rmErr).Str("path", result.Archive.Path).Msg("remove archive of rejected artifact")
			}
		}
		return nil, err
	}
	result.Response = resp
	fmt.Fprintf(cfg.Stdout, "Artifact Response: %d\n", resp.StatusCode)
	fmt.Fprintf(cfg.Stdout, "%s\n", bytes.TrimSpace(resp.Body))

	if result.Archive != nil {
		if err := UploadArchive(ctx, *cfg.Archive, manifest, result.Archive); err != nil {
			return result, fmt.Errorf("artifact %s published but archive not mirrored: %w", cfg.Metadata.VersionName, err)
		}
		log.Info().Str("path", result.Archive.Path).Str("sha256", result.Archive.SHA256).Str("location", result.Archive.Location).Msg("wrote artifact archive")
	}

	return result, nil
}

// buildForm resolves every resource before anything is sent, so a malformed
// connector aborts the publication.
func buildForm(resources []Resource, log zerolog.Logger) (*Form, error) {
	form := &Form{}
	for _, r := range resources {
		entry, err := NewEntry(r)
		if err != nil {
			return nil, err
		}
		kind, source := describe(r)
		log.Debug().Str("kind", kind).Str("source", source).Str("id", entry.Key).Msg("identified upload entry")
		if form.Add(entry) {
			log.Debug().Str("id", entry.Key).Msg("duplicate identity replaced earlier entry")
		}
	}
	return form, nil
}

func dryRun(w io.Writer, files []*FileResource) *Result {
	fmt.Fprintln(w, "Dry run mode enabled. No request will be made to create artifact.")
	fmt.Fprintln(w, "The following assets would have been included in the artifact (excluding connector profiles).")
	result := &Result{Outcome: OutcomeDryRun, Files: len(files)}
	for _, f := range files {
		fmt.Fprintf(w, "Asset Name: %s\n", f.Name)
		result.Keys = append(result.Keys, f.Name)
	}
	return result
}
