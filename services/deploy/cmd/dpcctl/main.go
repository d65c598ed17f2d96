package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"dpcdeploy/pkg/bus"
	"dpcdeploy/pkg/config"
	gos3 "dpcdeploy/pkg/s3"
	"dpcdeploy/pkg/telemetry"
	"dpcdeploy/services/deploy"
	"dpcdeploy/services/publisher"
)

const serviceName = "dpcctl"

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "error: load .env: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type rootOptions struct {
	logLevel string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           serviceName,
		Short:         "Publish artifacts and run pipelines in the Data Productivity Cloud",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "WARN", "Log level (DEBUG, INFO, WARNING, ERROR, CRITICAL)")

	cmd.AddCommand(newTokenCommand(opts))
	cmd.AddCommand(newPublishCommand(opts))
	cmd.AddCommand(newExecuteCommand(opts))
	cmd.AddCommand(newDeployCommand(opts))
	cmd.AddCommand(newVerifyArchiveCommand(opts))
	return cmd
}

func newTokenCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Print a bearer token for the configured client credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			s, err := openSession(ctx, root, target{}, false)
			if err != nil {
				return err
			}
			defer s.Close()

			token, err := s.runner.Token(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
}

func newPublishCommand(root *rootOptions) *cobra.Command {
	var (
		t        target
		opts     deploy.PublishOptions
		archive  string
		noIgnore bool
	)

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Create an artifact from a project directory and its connector profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			s, err := openSession(ctx, root, t, opts.DryRun)
			if err != nil {
				return err
			}
			defer s.Close()

			opts.Collect.DisableIgnoreFile = noIgnore
			if !opts.DryRun {
				if opts.Archive, err = archiveConfig(ctx, archive, s.runner.Config); err != nil {
					return err
				}
			}
			_, err = s.runner.Publish(ctx, opts)
			return err
		},
	}

	cmd.Flags().StringVarP(&opts.ProjectPath, "path-to-project", "p", ".", "Path to the project root")
	cmd.Flags().StringVarP(&opts.VersionName, "version-name", "V", "", "Artifact version name")
	cmd.Flags().StringVarP(&opts.CommitHash, "commit-hash", "c", "", "Commit the artifact was built from")
	cmd.Flags().StringVarP(&t.projectID, "project-id", "P", "", "Project id")
	cmd.Flags().StringVarP(&t.environmentName, "environment-name", "E", "", "Environment name")
	cmd.Flags().StringVarP(&opts.Branch, "branch-name", "b", "", "Branch the artifact was built from")
	cmd.Flags().BoolVarP(&opts.DryRun, "dry-run", "d", false, "List the assets without creating an artifact")
	cmd.Flags().StringVar(&archive, "archive", "", "Also write the artifact to this tar.zst file")
	cmd.Flags().BoolVar(&noIgnore, "no-ignore-file", false, "Do not apply "+publisher.IgnoreFileName)
	_ = cmd.MarkFlagRequired("version-name")
	_ = cmd.MarkFlagRequired("project-id")
	_ = cmd.MarkFlagRequired("environment-name")
	return cmd
}

func newExecuteCommand(root *rootOptions) *cobra.Command {
	var (
		t    target
		opts deploy.ExecuteOptions
	)

	cmd := &cobra.Command{
		Use:   "execute [pipeline...]",
		Short: "Execute the named pipelines, or those in the change list",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			s, err := openSession(ctx, root, t, false)
			if err != nil {
				return err
			}
			defer s.Close()

			opts.Pipelines = args
			_, err = s.runner.Execute(ctx, opts)
			return err
		},
	}

	cmd.Flags().StringVarP(&t.projectID, "project-id", "P", "", "Project id (default $PROJECT_ID)")
	cmd.Flags().StringVarP(&t.environmentName, "environment-name", "E", "", "Environment name (default $ENV_NAME)")
	cmd.Flags().StringVar(&opts.ChangesFile, "changes-file", "", "Change list to read when no pipelines are given (default changed_pipelines.txt)")
	return cmd
}

func newDeployCommand(root *rootOptions) *cobra.Command {
	var (
		t        target
		opts     deploy.DeployOptions
		archive  string
		noIgnore bool
	)

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Publish an artifact and execute every changed pipeline",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			s, err := openSession(ctx, root, t, false)
			if err != nil {
				return err
			}
			defer s.Close()

			opts.Collect.DisableIgnoreFile = noIgnore
			if opts.Archive, err = archiveConfig(ctx, archive, s.runner.Config); err != nil {
				return err
			}
			_, err = s.runner.Deploy(ctx, opts)
			return err
		},
	}

	cmd.Flags().StringVarP(&opts.ProjectPath, "path-to-project", "p", ".", "Path to the project root")
	cmd.Flags().StringVarP(&opts.VersionName, "version-name", "V", "", "Artifact version name (default v_<timestamp>)")
	cmd.Flags().StringVarP(&opts.CommitHash, "commit-hash", "c", "", "Commit the artifact was built from")
	cmd.Flags().StringVarP(&t.projectID, "project-id", "P", "", "Project id (default $PROJECT_ID)")
	cmd.Flags().StringVarP(&t.environmentName, "environment-name", "E", "", "Environment name (default $ENV_NAME)")
	cmd.Flags().StringVarP(&opts.Branch, "branch-name", "b", "", "Branch the artifact was built from")
	cmd.Flags().StringVar(&opts.ChangesFile, "changes-file", "", "Change list (default changed_pipelines.txt)")
	cmd.Flags().StringVar(&archive, "archive", "", "Also write the artifact to this tar.zst file")
	cmd.Flags().BoolVar(&noIgnore, "no-ignore-file", false, "Do not apply "+publisher.IgnoreFileName)
	return cmd
}

func newVerifyArchiveCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify-archive FILE",
		Short: "Check an artifact archive's manifest signature and entry digests",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := loadManifestKey()
			if err != nil {
				return err
			}
			m, err := publisher.VerifyArchive(commandContext(cmd), args[0], key)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Archive verified: %s (version %s, %d entries)\n", args[0], m.VersionName, len(m.Entries))
			return nil
		},
	}
}

// target overrides the project and environment from the environment.
type target struct {
	projectID       string
	environmentName string
}

type session struct {
	runner   *deploy.Runner
	bus      *bus.Bus
	shutdown func(context.Context) error
	logger   zerolog.Logger
}

// resolveConfig loads the environment and applies t. An offline run keeps
// no event bus, Pushgateway or trace exporter.
func resolveConfig(ctx context.Context, t target, offline bool) (config.Config, error) {
	cfg, err := config.Load(ctx)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	if t.projectID != "" {
		cfg.ProjectID = t.projectID
	}
	if t.environmentName != "" {
		cfg.EnvironmentName = t.environmentName
	}
	if offline {
		cfg.NATSURL = ""
		cfg.PushgatewayURL = ""
		cfg.OTLPEndpoint = ""
	}
	return cfg, nil
}

func openSession(ctx context.Context, root *rootOptions, t target, offline bool) (*session, error) {
	logger, err := telemetry.NewLogger(os.Stderr, root.logLevel)
	if err != nil {
		return nil, err
	}
	cfg, err := resolveConfig(ctx, t, offline)
	if err != nil {
		return nil, err
	}

	shutdown, err := telemetry.Init(ctx, serviceName, cfg.OTLPEndpoint)
	if err != nil {
		return nil, err
	}

	runner := deploy.NewRunner(cfg, logger)
	runner.HTTPClient = telemetry.NewHTTPClient(cfg.HTTPTimeout)
	s := &session{runner: runner, shutdown: shutdown, logger: runner.Logger}

	if cfg.NATSURL != "" {
		b, err := bus.New(cfg.NATSURL)
		if err != nil {
			s.logger.Warn().Err(err).Str("url", cfg.NATSURL).Msg("event bus unavailable")
		} else {
			s.bus = b
			runner.Notifier = b
		}
	}
	return s, nil
}

func (s *session) Close() {
	s.bus.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.shutdown(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("telemetry shutdown failed")
	}
}

// archiveConfig returns nil when no archive path was requested.
func archiveConfig(ctx context.Context, path string, cfg config.Config) (*publisher.ArchiveConfig, error) {
	if path == "" {
		return nil, nil
	}
	key, err := loadManifestKey()
	if err != nil {
		return nil, err
	}
	archive := &publisher.ArchiveConfig{Path: path, Key: key}
	if cfg.ArchiveBucket != "" {
		client, err := gos3.NewClientFromEnv(ctx)
		if err != nil {
			return nil, fmt.Errorf("archive storage: %w", err)
		}
		archive.Uploader = client
		archive.Bucket = cfg.ArchiveBucket
	}
	return archive, nil
}

// loadManifestKey returns nil when no AGE_* key is configured.
func loadManifestKey() (*publisher.ManifestKey, error) {
	key, err := publisher.LoadManifestKey(os.Getenv)
	if errors.Is(err, publisher.ErrNoSigningKey) {
		return nil, nil
	}
	return key, err
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
