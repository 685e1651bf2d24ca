package main

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"github.com/kusitorrent/kusitorrent/internal/config"
	"github.com/kusitorrent/kusitorrent/internal/downloader"
	"github.com/kusitorrent/kusitorrent/internal/environment"
	"github.com/kusitorrent/kusitorrent/internal/logging"
	"github.com/kusitorrent/kusitorrent/internal/progress"
	"github.com/kusitorrent/kusitorrent/internal/session"
	"github.com/kusitorrent/kusitorrent/internal/utils"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

// engineFactory builds the engine a session drives.
type engineFactory func(opts downloader.Options) session.Engine

func newTorrentEngine(opts downloader.Options) session.Engine {
	return downloader.NewTorrentEngine(opts)
}

type rootOptions struct {
	dir         string
	port        string
	quiet       bool
	inspect     bool
	json        bool
	limit       string
	uploadLimit string
	sequential  bool

	settings *config.Settings
}

// run executes the command line and returns the process exit code.
func run(args []string, stdout, stderr io.Writer, factory engineFactory) int {
	cmd := newRootCmd(factory)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		printError(stderr, err)
		return 1
	}

	return 0
}

func newRootCmd(factory engineFactory) *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "kusitorrent [flags] <file>...",
		Short: "Download the content of a torrent file",
		Long: `KusiTorrent downloads the content described by a .torrent file into a
directory, drawing a progress bar until the transfer completes or is
interrupted. Only the first file is used.`,
		Version:       version,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		// Not reached for --help and --version.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			settings, err := config.Load()
			if err != nil {
				return err
			}
			opts.settings = settings

			logger := logging.New(cmd.ErrOrStderr(), settings.SlogLevel(), settings.LogFormat)
			cmd.SetContext(logging.WithLogger(cmd.Context(), logger))

			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.inspect {
				return runInspect(cmd.OutOrStdout(), args, opts.json)
			}
			return runDownload(cmd, factory, opts, args)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.dir, "dir", "d", "", "Download directory (default: current directory)")
	f.StringVarP(&opts.port, "port", "p", "0", "Listen port, 0 picks one automatically")
	f.BoolVarP(&opts.quiet, "quiet", "q", false, "Suppress progress output")
	f.BoolVarP(&opts.inspect, "inspect", "i", false, "Print the torrent contents and exit")
	f.BoolVar(&opts.json, "json", false, "Print inspect output as JSON")
	f.StringVar(&opts.limit, "limit", "", "Download rate limit, e.g. 2MiB (default $KUSI_DOWNLOAD_LIMIT)")
	f.StringVar(&opts.uploadLimit, "upload-limit", "", "Upload rate limit, e.g. 500KB (default $KUSI_UPLOAD_LIMIT)")
	f.BoolVar(&opts.sequential, "sequential", false, "Download files sequentially")

	return cmd
}

func runDownload(cmd *cobra.Command, factory engineFactory, opts *rootOptions, args []string) error {
	ctx := cmd.Context()
	logger := logging.FromContext(ctx)
	settings := opts.settings

	resolver := environment.NewResolver(environment.PortRange{Min: settings.PortMin, Max: settings.PortMax})
	cfg, err := resolver.Resolve(environment.Input{
		Port:  opts.port,
		Dir:   opts.dir,
		Quiet: opts.quiet,
		Files: args,
	})
	if err != nil {
		return err
	}

	limit, uploadLimit := settings.DownloadLimit, settings.UploadLimit
	if cmd.Flags().Changed("limit") {
		limit = opts.limit
	}
	if cmd.Flags().Changed("upload-limit") {
		uploadLimit = opts.uploadLimit
	}

	downloadRate, err := environment.Rate("--limit", limit)
	if err != nil {
		return err
	}
	uploadRate, err := environment.Rate("--upload-limit", uploadLimit)
	if err != nil {
		return err
	}

	if len(args) > 1 {
		logger.Warn("only the first file is downloaded", "ignored", len(args)-1)
	}
	if !utils.IsTorrentFile(cfg.InputFile) {
		logger.Warn("file does not have a .torrent extension", "file", cfg.InputFile)
	}

	engine := factory(downloader.Options{
		StagingDir:    cfg.StagingDir,
		DownloadLimit: downloadRate,
		UploadLimit:   uploadRate,
		Sequential:    opts.sequential,
		NoDHT:         settings.NoDHT,
		Logger:        logger,
	})

	sessionOpts := []session.Option{
		session.WithLogger(logger),
		session.WithPollInterval(settings.PollInterval),
		session.WithRenderInterval(settings.RenderInterval),
		session.WithShutdownBudget(settings.Budget()),
	}
	if !cfg.Quiet {
		out := cmd.OutOrStdout()
		sessionOpts = append(sessionOpts, session.WithRenderer(progress.NewBar(out, progress.TerminalWidth(out))))
	}

	ctrl := session.New(engine, sessionOpts...)

	stop := notifyInterrupt(ctrl)
	defer stop()

	if _, err := ctrl.Run(ctx, cfg); err != nil {
		return err
	}

	return nil
}
