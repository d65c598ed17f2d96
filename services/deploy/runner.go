// Package deploy orchestrates token acquisition, artifact publication and
// pipeline execution for a single dpcctl run.
package deploy

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"dpcdeploy/pkg/auth"
	"dpcdeploy/pkg/config"
	"dpcdeploy/pkg/metrics"
	"dpcdeploy/pkg/platform"
	"dpcdeploy/services/executor"
	"dpcdeploy/services/publisher"
)

const (
	SubjectArtifactPublished = "dpc.artifacts.published"
	SubjectPipelinesExecuted = "dpc.pipelines.executed"

	versionLayout = "2006-01-02_15-04-05"
)

var tracer = otel.Tracer("dpcdeploy/services/deploy")

// Client is the platform API surface a run needs.
type Client interface {
	publisher.ArtifactClient
	executor.PipelineRunner
}

// ClientFactory builds a Client bound to a bearer token.
type ClientFactory func(token string) (Client, error)

// Notifier publishes run events. *bus.Bus satisfies it.
type Notifier interface {
	Publish(ctx context.Context, subj string, v any) error
}

// Runner executes dpcctl operations against one project and environment.
type Runner struct {
	Config config.Config
	// Tokens is built from Config on first use when nil.
	Tokens auth.TokenSource
	// NewClient defaults to the platform HTTP client.
	NewClient  ClientFactory
	HTTPClient *http.Client
	Notifier   Notifier
	Metrics    *metrics.Recorder
	Logger     zerolog.Logger
	Stdout     io.Writer
	Now        func() time.Time
	RunID      string
}

// NewRunner returns a Runner with a fresh run id and a metrics recorder.
func NewRunner(cfg config.Config, logger zerolog.Logger) *Runner {
	runID := uuid.New().String()
	return &Runner{
		Config:  cfg,
		Metrics: metrics.NewRecorder(),
		Logger:  logger.With().Str("run_id", runID).Logger(),
		Stdout:  os.Stdout,
		Now:     time.Now,
		RunID:   runID,
	}
}

// NewTokenSource picks AUTH_TOKEN when set and the client credentials
// exchange otherwise.
func NewTokenSource(cfg config.Config, hc *http.Client) (auth.TokenSource, error) {
	if err := cfg.ValidateCredentials(); err != nil {
		return nil, err
	}
	if token := strings.TrimSpace(cfg.AuthToken); token != "" {
		return auth.StaticToken(token), nil
	}
	return auth.New(auth.Options{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Audience:     cfg.TokenAudience,
		HTTPClient:   hc,
	})
}

// PlatformClients returns a ClientFactory backed by platform.Client.
func PlatformClients(cfg config.Config, hc *http.Client) ClientFactory {
	return func(token string) (Client, error) {
		c, err := platform.New(platform.Options{
			BaseURL:    cfg.APIBaseURL,
			ProjectID:  cfg.ProjectID,
			Token:      token,
			HTTPClient: hc,
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// Token acquires a single bearer token.
func (r *Runner) Token(ctx context.Context) (string, error) {
	ctx, span := tracer.Start(ctx, "dpcctl.token")
	defer span.End()

	token, err := r.token(ctx)
	if err != nil {
		return "", spanError(span, err)
	}
	return token, nil
}

// PublishOptions configures Runner.Publish.
type PublishOptions struct {
	ProjectPath string
	VersionName string
	CommitHash  string
	Branch      string
	DryRun      bool
	Collect     publisher.CollectOptions
	Archive     *publisher.ArchiveConfig
}

// Publish builds and submits one artifact. Dry runs never request a token
// and push no metrics.
func (r *Runner) Publish(ctx context.Context, opts PublishOptions) (*publisher.Result, error) {
	ctx, span := r.start(ctx, "dpcctl.publish", attribute.Bool("dpc.dry_run", opts.DryRun))
	defer span.End()
	defer r.finish(ctx, "publish", r.now(), !opts.DryRun)

	var client publisher.ArtifactClient
	if !opts.DryRun {
		if err := r.Config.ValidateTarget(); err != nil {
			return nil, spanError(span, err)
		}
		c, err := r.client(ctx)
		if err != nil {
			return nil, spanError(span, err)
		}
		client = c
	}

	res, err := r.publish(ctx, client, opts)
	if err != nil {
		return nil, spanError(span, err)
	}
	return res, nil
}

// ExecuteOptions configures Runner.Execute. Explicit Pipelines take
// precedence over the change list.
type ExecuteOptions struct {
	ChangesFile string
	Pipelines   []string
}

// ExecuteResult reports the executions a run requested. Outcome is
// OutcomePublished once executions were requested.
type ExecuteResult struct {
	Outcome    publisher.Outcome
	Executions []*platform.Execution
}

// Execute starts every named or changed pipeline.
func (r *Runner) Execute(ctx context.Context, opts ExecuteOptions) (*ExecuteResult, error) {
	ctx, span := r.start(ctx, "dpcctl.execute")
	defer span.End()
	defer r.finish(ctx, "execute", r.now(), true)

	pipelines := opts.Pipelines
	if len(pipelines) == 0 {
		var err error
		pipelines, err = executor.ReadChangedPipelines(changesFile(opts.ChangesFile))
		if err != nil {
			return nil, spanError(span, err)
		}
	}
	if len(pipelines) == 0 {
		fmt.Fprintln(r.stdout(), "No pipeline changes detected. Skipping execution.")
		return &ExecuteResult{Outcome: publisher.OutcomeNothingToDo}, nil
	}
	if err := r.Config.ValidateTarget(); err != nil {
		return nil, spanError(span, err)
	}

	client, err := r.client(ctx)
	if err != nil {
		return nil, spanError(span, err)
	}
	executions, err := r.execute(ctx, client, pipelines)
	if err != nil {
		return &ExecuteResult{Executions: executions}, spanError(span, err)
	}
	return &ExecuteResult{Outcome: publisher.OutcomePublished, Executions: executions}, nil
}

// DeployOptions configures Runner.Deploy.
type DeployOptions struct {
	ProjectPath string
	// VersionName defaults to v_<local timestamp>.
	VersionName string
	CommitHash  string
	Branch      string
	ChangesFile string
	Collect     publisher.CollectOptions
	Archive     *publisher.ArchiveConfig
}

// DeployResult reports a full deployment.
type DeployResult struct {
	Outcome    publisher.Outcome
	Artifact   *publisher.Result
	Executions []*platform.Execution
}

// Deploy publishes a new artifact and executes the changed pipelines, using a
// single token for both steps. Without changes nothing is sent.
func (r *Runner) Deploy(ctx context.Context, opts DeployOptions) (*DeployResult, error) {
	ctx, span := r.start(ctx, "dpcctl.deploy")
	defer span.End()
	defer r.finish(ctx, "deploy", r.now(), true)

	pipelines, err := executor.ReadChangedPipelines(changesFile(opts.ChangesFile))
	if err != nil {
		return nil, spanError(span, err)
	}
	if len(pipelines) == 0 {
		fmt.Fprintln(r.stdout(), "No pipeline changes detected. Skipping artifact creation and execution.")
		r.Metrics.Artifact(publisher.OutcomeNothingToDo.String())
		return &DeployResult{Outcome: publisher.OutcomeNothingToDo}, nil
	}
	span.SetAttributes(attribute.Int("dpc.pipelines", len(pipelines)))
	if err := r.Config.ValidateTarget(); err != nil {
		return nil, spanError(span, err)
	}

	client, err := r.client(ctx)
	if err != nil {
		return nil, spanError(span, err)
	}

	version := opts.VersionName
	if version == "" {
		version = "v_" + r.now().Format(versionLayout)
	}
	artifact, err := r.publish(ctx, client, PublishOptions{
		ProjectPath: opts.ProjectPath,
		VersionName: version,
		CommitHash:  opts.CommitHash,
		Branch:      opts.Branch,
		Collect:     opts.Collect,
		Archive:     opts.Archive,
	})
	if err != nil {
		return nil, spanError(span, err)
	}
	result := &DeployResult{Outcome: artifact.Outcome, Artifact: artifact}
	if artifact.Outcome == publisher.OutcomeNothingToDo {
		return result, nil
	}

	result.Executions, err = r.execute(ctx, client, pipelines)
	if err != nil {
		return result, spanError(span, err)
	}
	return result, nil
}

func (r *Runner) publish(ctx context.Context, client publisher.ArtifactClient, opts PublishOptions) (*publisher.Result, error) {
	res, err := publisher.Publish(ctx, publisher.PublishConfig{
		ProjectPath: opts.ProjectPath,
		Metadata: publisher.Metadata{
			ProjectID:       r.Config.ProjectID,
			VersionName:     opts.VersionName,
			EnvironmentName: r.Config.EnvironmentName,
			CommitHash:      opts.CommitHash,
			Branch:          opts.Branch,
		},
		DryRun:  opts.DryRun,
		Client:  client,
		Collect: opts.Collect,
		Archive: opts.Archive,
		Logger:  r.Logger,
		Now:     r.now,
		Stdout:  r.stdout(),
	})
	if err != nil {
		r.Metrics.Artifact("failed")
		return nil, err
	}

	r.Metrics.Artifact(res.Outcome.String())
	r.Metrics.Resources("file", res.Files)
	r.Metrics.Resources("connector-profile", res.Connectors)
	if res.Outcome != publisher.OutcomePublished {
		return res, nil
	}

	event := ArtifactEvent{
		RunID:           r.RunID,
		ProjectID:       r.Config.ProjectID,
		EnvironmentName: r.Config.EnvironmentName,
		VersionName:     opts.VersionName,
		CommitHash:      opts.CommitHash,
		Branch:          opts.Branch,
		Keys:            res.Keys,
		PublishedAt:     r.now().UTC(),
	}
	if res.Response != nil {
		event.StatusCode = res.Response.StatusCode
	}
	if res.Archive != nil {
		event.ArchiveSHA256 = res.Archive.SHA256
		event.ArchiveLocation = res.Archive.Location
	}
	r.notify(ctx, SubjectArtifactPublished, event)
	return res, nil
}

func (r *Runner) execute(ctx context.Context, runner executor.PipelineRunner, pipelines []string) ([]*platform.Execution, error) {
	executions, err := executor.Execute(ctx, executor.ExecuteConfig{
		Pipelines:       pipelines,
		EnvironmentName: r.Config.EnvironmentName,
		Runner:          runner,
		Logger:          r.Logger,
		Stdout:          r.stdout(),
	})
	for range executions {
		r.Metrics.Execution(true)
	}
	if err != nil {
		r.Metrics.Execution(false)
	}

	event := ExecutionEvent{
		RunID:           r.RunID,
		ProjectID:       r.Config.ProjectID,
		EnvironmentName: r.Config.EnvironmentName,
		Requested:       len(pipelines),
	}
	for _, e := range executions {
		event.Executions = append(event.Executions, ExecutedPipeline{
			PipelineName: e.PipelineName,
			ExecutionID:  e.ID,
			StatusCode:   e.StatusCode,
		})
	}
	if err != nil {
		event.Error = err.Error()
	}
	if len(event.Executions) > 0 || err != nil {
		r.notify(ctx, SubjectPipelinesExecuted, event)
	}
	return executions, err
}

func (r *Runner) token(ctx context.Context) (string, error) {
	if r.Tokens == nil {
		ts, err := NewTokenSource(r.Config, r.HTTPClient)
		if err != nil {
			return "", err
		}
		r.Tokens = ts
	}
	return r.Tokens.Token(ctx)
}

// client acquires one token and binds a platform client to it.
func (r *Runner) client(ctx context.Context) (Client, error) {
	token, err := r.token(ctx)
	if err != nil {
		return nil, err
	}
	factory := r.NewClient
	if factory == nil {
		factory = PlatformClients(r.Config, r.HTTPClient)
	}
	return factory(token)
}

func (r *Runner) notify(ctx context.Context, subj string, v any) {
	if r.Notifier == nil {
		return
	}
	if err := r.Notifier.Publish(ctx, subj, v); err != nil {
		r.Logger.Warn().Err(err).Str("subject", subj).Msg("event publish failed")
	}
}

func (r *Runner) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs,
		attribute.String("dpc.run_id", r.RunID),
		attribute.String("dpc.project_id", r.Config.ProjectID),
		attribute.String("dpc.environment", r.Config.EnvironmentName),
	)
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// finish records how long operation ran and, when push is set, pushes the
// run's metrics.
func (r *Runner) finish(ctx context.Context, operation string, started time.Time, push bool) {
	r.Metrics.Duration(operation, r.now().Sub(started).Seconds())
	if !push || r.Metrics == nil || r.Config.PushgatewayURL == "" {
		return
	}
	if err := r.Metrics.Push(ctx, r.Config.PushgatewayURL, r.Config.ProjectID, r.RunID); err != nil {
		r.Logger.Warn().Err(err).Msg("metrics push failed")
	}
}

func (r *Runner) now() time.Time {
	if r.Now == nil {
		return time.Now()
	}
	return r.Now()
}

func (r *Runner) stdout() io.Writer {
	if r.Stdout == nil {
		return os.Stdout
	}
	return r.Stdout
}

func changesFile(name string) string {
	if name == "" {
		return executor.DefaultChangesFile
	}
	return name
}

func spanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
