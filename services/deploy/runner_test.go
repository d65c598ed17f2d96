package deploy

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dpcdeploy/pkg/auth"
	"dpcdeploy/pkg/config"
	"dpcdeploy/pkg/metrics"
	"dpcdeploy/pkg/platform"
	"dpcdeploy/services/publisher"
)

type fakeTokens struct {
	token string
	err   error
	calls int
}

func (f *fakeTokens) Token(context.Context) (string, error) {
	f.calls++
	return f.token, f.err
}

type fakeClient struct {
	token     string
	artifacts []platform.ArtifactRequest
	executed  []string
	failOn    string
}

func (f *fakeClient) ListConnectors(context.Context, string) ([]map[string]any, error) {
	return nil, nil
}

func (f *fakeClient) CreateArtifact(_ context.Context, req platform.ArtifactRequest) (*platform.ArtifactResponse, error) {
	if _, err := io.Copy(io.Discard, req.Body); err != nil {
		return nil, err
	}
	f.artifacts = append(f.artifacts, req)
	return &platform.ArtifactResponse{StatusCode: 201, Body: []byte(`{}`)}, nil
}

func (f *fakeClient) ExecutePipeline(_ context.Context, name, _ string) (*platform.Execution, error) {
	if name == f.failOn {
		return nil, &platform.ExecutionError{Pipeline: name, StatusCode: 500, Body: "boom"}
	}
	f.executed = append(f.executed, name)
	return &platform.Execution{PipelineName: name, ID: "exec-" + name, StatusCode: 200}, nil
}

type event struct {
	subject string
	payload any
}

type fakeNotifier struct {
	events []event
	err    error
}

func (f *fakeNotifier) Publish(_ context.Context, subj string, v any) error {
	f.events = append(f.events, event{subject: subj, payload: v})
	return f.err
}

func (f *fakeNotifier) subjects() []string {
	var out []string
	for _, e := range f.events {
		out = append(out, e.subject)
	}
	return out
}

type harness struct {
	runner   *Runner
	tokens   *fakeTokens
	client   *fakeClient
	notifier *fakeNotifier
	stdout   *bytes.Buffer
	dir      string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		tokens:   &fakeTokens{token: "tok"},
		client:   &fakeClient{},
		notifier: &fakeNotifier{},
		stdout:   &bytes.Buffer{},
		dir:      t.TempDir(),
	}
	h.runner = &Runner{
		Config: config.Config{
			ProjectID:       "proj",
			EnvironmentName: "dev",
			APIBaseURL:      "https://api.example",
		},
		Tokens: h.tokens,
		NewClient: func(token string) (Client, error) {
			h.client.token = token
			return h.client, nil
		},
		Notifier: h.notifier,
		Metrics:  metrics.NewRecorder(),
		Logger:   zerolog.Nop(),
		Stdout:   h.stdout,
		Now:      func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.Local) },
		RunID:    "run-1",
	}
	return h
}

func (h *harness) write(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(h.dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestDeployWithoutChangesSendsNothing(t *testing.T) {
	h := newHarness(t)

	res, err := h.runner.Deploy(context.Background(), DeployOptions{
		ProjectPath: h.dir,
		ChangesFile: filepath.Join(h.dir, "missing.txt"),
	})
	require.NoError(t, err)
	assert.Equal(t, publisher.OutcomeNothingToDo, res.Outcome)
	assert.Equal(t, 0, h.tokens.calls)
	assert.Empty(t, h.client.artifacts)
	assert.Empty(t, h.notifier.events)
	assert.Equal(t, "No pipeline changes detected. Skipping artifact creation and execution.\n", h.stdout.String())
}

func TestDeployPublishesThenExecutes(t *testing.T) {
	h := newHarness(t)
	project := filepath.Join(h.dir, "project")
	h.write(t, "project/a.orch.yaml", "orch")
	h.write(t, "project/b/c.tran.yaml", "tran")
	changes := h.write(t, "changed.txt", "a.orch.yaml\nb/c.tran.yaml\n")

	res, err := h.runner.Deploy(context.Background(), DeployOptions{
		ProjectPath: project,
		ChangesFile: changes,
		CommitHash:  "abc",
	})
	require.NoError(t, err)
	assert.Equal(t, publisher.OutcomePublished, res.Outcome)
	assert.Equal(t, 1, h.tokens.calls)
	assert.Equal(t, "tok", h.client.token)

	require.Len(t, h.client.artifacts, 1)
	assert.Equal(t, "v_2024-01-02_03-04-05", h.client.artifacts[0].Metadata.VersionName)
	assert.Equal(t, "dev", h.client.artifacts[0].Metadata.EnvironmentName)
	assert.Equal(t, "abc", h.client.artifacts[0].Metadata.CommitHash)
	assert.Equal(t, []string{"a", "c"}, h.client.executed)
	require.Len(t, res.Executions, 2)

	assert.Equal(t, []string{SubjectArtifactPublished, SubjectPipelinesExecuted}, h.notifier.subjects())
	published := h.notifier.events[0].payload.(ArtifactEvent)
	assert.Equal(t, "run-1", published.RunID)
	assert.Equal(t, 201, published.StatusCode)
	assert.ElementsMatch(t, []string{"a.orch.yaml", "b/c.tran.yaml"}, published.Keys)
	executed := h.notifier.events[1].payload.(ExecutionEvent)
	assert.Equal(t, 2, executed.Requested)
	assert.Len(t, executed.Executions, 2)
	assert.Empty(t, executed.Error)

	count, err := testutil.GatherAndCount(h.runner.Metrics.Registry(), "dpcctl_pipeline_executions_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestDeployStopsWhenProjectIsEmpty(t *testing.T) {
	h := newHarness(t)
	changes := h.write(t, "changed.txt", "a.orch.yaml\n")
	empty := filepath.Join(h.dir, "empty")
	require.NoError(t, os.Mkdir(empty, 0o755))

	res, err := h.runner.Deploy(context.Background(), DeployOptions{ProjectPath: empty, ChangesFile: changes})
	require.NoError(t, err)
	assert.Equal(t, publisher.OutcomeNothingToDo, res.Outcome)
	assert.Empty(t, h.client.executed)
	assert.Empty(t, h.notifier.events)
}

func TestPublishDryRunNeedsNoToken(t *testing.T) {
	h := newHarness(t)
	h.tokens.err = errors.New("no credentials")
	h.write(t, "a.orch.yaml", "orch")

	res, err := h.runner.Publish(context.Background(), PublishOptions{
		ProjectPath: h.dir,
		VersionName: "v1",
		DryRun:      true,
	})
	require.NoError(t, err)
	assert.Equal(t, publisher.OutcomeDryRun, res.Outcome)
	assert.Equal(t, 0, h.tokens.calls)
	assert.Empty(t, h.notifier.events)
	assert.Contains(t, h.stdout.String(), "Asset Name: a.orch.yaml")
}

func TestPublishTokenFailure(t *testing.T) {
	h := newHarness(t)
	h.tokens.err = &auth.Error{Err: errors.New("denied")}
	h.write(t, "a.orch.yaml", "orch")

	_, err := h.runner.Publish(context.Background(), PublishOptions{ProjectPath: h.dir, VersionName: "v1"})
	var authErr *auth.Error
	require.ErrorAs(t, err, &authErr)
	assert.Empty(t, h.client.artifacts)
}

func TestExecuteStopsOnFirstError(t *testing.T) {
	h := newHarness(t)
	h.client.failOn = "b"

	res, err := h.runner.Execute(context.Background(), ExecuteOptions{Pipelines: []string{"a", "b", "c"}})
	var execErr *platform.ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, "b", execErr.Pipeline)
	require.NotNil(t, res)
	assert.Len(t, res.Executions, 1)
	assert.Equal(t, []string{"a"}, h.client.executed)

	require.Len(t, h.notifier.events, 1)
	executed := h.notifier.events[0].payload.(ExecutionEvent)
	assert.Equal(t, 3, executed.Requested)
	assert.NotEmpty(t, executed.Error)
}

func TestExecuteReadsChangeList(t *testing.T) {
	h := newHarness(t)
	changes := h.write(t, "changed.txt", "x/one.orch.yaml\nx/one.orch.yaml\ntwo.tran.yaml\n")

	res, err := h.runner.Execute(context.Background(), ExecuteOptions{ChangesFile: changes})
	require.NoError(t, err)
	assert.Equal(t, publisher.OutcomePublished, res.Outcome)
	assert.Equal(t, []string{"one", "two"}, h.client.executed)
}

func TestExecuteWithoutChanges(t *testing.T) {
	h := newHarness(t)

	res, err := h.runner.Execute(context.Background(), ExecuteOptions{ChangesFile: filepath.Join(h.dir, "none.txt")})
	require.NoError(t, err)
	assert.Equal(t, publisher.OutcomeNothingToDo, res.Outcome)
	assert.Equal(t, 0, h.tokens.calls)
}

func TestExecuteRequiresTarget(t *testing.T) {
	h := newHarness(t)
	h.runner.Config.EnvironmentName = ""

	_, err := h.runner.Execute(context.Background(), ExecuteOptions{Pipelines: []string{"a"}})
	require.Error(t, err)
	assert.Equal(t, 0, h.tokens.calls)
}

func TestNotifyFailureIsNotFatal(t *testing.T) {
	h := newHarness(t)
	h.notifier.err = errors.New("nats down")

	_, err := h.runner.Execute(context.Background(), ExecuteOptions{Pipelines: []string{"a"}})
	require.NoError(t, err)
	assert.Len(t, h.notifier.events, 1)
}

func TestToken(t *testing.T) {
	h := newHarness(t)

	token, err := h.runner.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok", token)
	assert.Equal(t, 1, h.tokens.calls)
}

func TestNewTokenSource(t *testing.T) {
	ts, err := NewTokenSource(config.Config{AuthToken: "pre-issued"}, nil)
	require.NoError(t, err)
	assert.Equal(t, auth.StaticToken("pre-issued"), ts)

	ts, err = NewTokenSource(config.Config{ClientID: "id", ClientSecret: "secret"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &auth.Authenticator{}, ts)

	_, err = NewTokenSource(config.Config{ClientID: "id"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CLIENT_SECRET")
}

func TestNewRunner(t *testing.T) {
	r := NewRunner(config.Config{}, zerolog.Nop())
	assert.NotEmpty(t, r.RunID)
	assert.NotNil(t, r.Metrics)
	assert.NotEqual(t, r.RunID, NewRunner(config.Config{}, zerolog.Nop()).RunID)
}

func TestDryRunPushesNoMetrics(t *testing.T) {
	var pushes int
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		pushes++
		w.WriteHeader(http.StatusOK)
	}))
	defer gateway.Close()

	h := newHarness(t)
	h.runner.Config.PushgatewayURL = gateway.URL
	h.write(t, "a.orch.yaml", "orch")

	_, err := h.runner.Publish(context.Background(), PublishOptions{ProjectPath: h.dir, VersionName: "v1", DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, 0, pushes)

	_, err = h.runner.Execute(context.Background(), ExecuteOptions{Pipelines: []string{"a"}})
	require.NoError(t, err)
	assert.Equal(t, 1, pushes)
}
