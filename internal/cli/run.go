package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"

	"github.com/otcheredev/ris-dicom-relay/internal/app"
	"github.com/otcheredev/ris-dicom-relay/internal/config"
	"github.com/otcheredev/ris-dicom-relay/internal/models"
	"github.com/otcheredev/ris-dicom-relay/internal/session"
	"github.com/spf13/cobra"
)

type runOptions struct {
	policyFile string
	outDir     string
	send       bool
	persist    bool
	collect    bool
	server     serverFlags
}

func newRunCommand(global *globalOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run <path>...",
		Short: "Anonymize DICOM files and ZIP archives, optionally sending the result",
		Long: `run ingests every DICOM file and ZIP archive under the given paths,
anonymizes each study it finds, and writes or sends the anonymized files.

A run stops at the first failing file unless --collect is given.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, global, opts, args)
		},
	}

	cmd.Flags().StringVar(&opts.policyFile, "policy", "", "JSON anonymization policy (default policy when empty)")
	cmd.Flags().StringVarP(&opts.outDir, "out", "o", "", "Write anonymized files under this directory")
	cmd.Flags().BoolVar(&opts.send, "send", false, "Send anonymized studies to --server-url")
	cmd.Flags().BoolVar(&opts.persist, "persist", false, "Use the configured stores instead of memory")
	cmd.Flags().BoolVar(&opts.collect, "collect", false, "Continue past failing files and report them at the end")
	opts.server.register(cmd)
	return cmd
}

func runRun(cmd *cobra.Command, global *globalOptions, opts *runOptions, paths []string) error {
	cfg, err := global.load()
	if err != nil {
		return err
	}
	if !opts.persist {
		cfg.Storage.Binary = config.BackendMemory
		cfg.Storage.Metadata = config.BackendMemory
		cfg.Database.Audit = false
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	policy, err := loadPolicy(opts.policyFile)
	if err != nil {
		return err
	}
	if err := policy.Validate(); err != nil {
		return err
	}

	var server models.ServerConfig
	if opts.send {
		if server, err = opts.server.config(); err != nil {
			return err
		}
	}

	uploads, err := collectUploads(paths)
	if err != nil {
		return err
	}
	if len(uploads) == 0 {
		return fmt.Errorf("no files found under %s", strings.Join(paths, ", "))
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	mode := models.FailFast
	if opts.collect {
		mode = models.CollectAndContinue
	}
	relay, err := app.New(ctx, cfg, app.Options{
		Mode:    mode,
		OnEvent: progressPrinter(cmd),
	})
	if err != nil {
		return err
	}
	defer relay.Close()

	files, err := relay.Session.Ingest(ctx, uploads)
	if err != nil {
		printf(cmd, "warning: %s\n", describe(err))
	}

	studies := relay.Session.Studies()
	printf(cmd, "Ingested %d files in %d studies\n", len(files), len(studies))
	if len(studies) == 0 {
		return errors.New("no DICOM studies found")
	}

	uids := make([]string, 0, len(studies))
	for _, s := range studies {
		uids = append(uids, s.StudyInstanceUID)
	}

	reports, runErr := relay.Session.AnonymizeSelected(ctx, uids, policy)
	var anonymized []string
	for _, r := range reports {
		printf(cmd, "anonymize %s -> %s: %d/%d %s\n", shortUID(r.StudyUID), shortUID(r.NewStudyUID), r.Succeeded, r.Attempted, r.Status)
		if r.NewStudyUID != "" {
			anonymized = append(anonymized, r.NewStudyUID)
		}
	}
	if runErr != nil && mode == models.FailFast {
		return runErr
	}

	if opts.outDir != "" {
		written, err := exportFiles(ctx, relay.Session, opts.outDir)
		if err != nil {
			return err
		}
		printf(cmd, "Wrote %d files to %s\n", written, opts.outDir)
	}

	if opts.send && len(anonymized) > 0 {
		reports, err := relay.Session.SendSelected(ctx, anonymized, server)
		for _, r := range reports {
			printf(cmd, "send %s: %d/%d %s\n", shortUID(r.StudyUID), r.Succeeded, r.Attempted, r.Status)
		}
		if err != nil {
			return err
		}
	}
	return runErr
}

func loadPolicy(path string) (models.AnonymizationPolicy, error) {
	if path == "" {
		return models.DefaultPolicy(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return models.AnonymizationPolicy{}, fmt.Errorf("failed to read policy: %w", err)
	}
	policy := models.DefaultPolicy()
	if err := json.Unmarshal(raw, &policy); err != nil {
		return models.AnonymizationPolicy{}, models.ConfigError("policy %s is not valid JSON: %v", path, err)
	}
	return policy, nil
}

// collectUploads reads every regular file under paths, skipping hidden
// files and directories
func collectUploads(paths []string) ([]session.Upload, error) {
	var uploads []session.Upload
	for _, root := range paths {
		err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if p != root && strings.HasPrefix(d.Name(), ".") {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if !d.Type().IsRegular() {
				return nil
			}
			data, err := os.ReadFile(p)
			if err != nil {
				return err
			}
			uploads = append(uploads, session.Upload{Name: d.Name(), Data: data})
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", root, err)
		}
	}
	return uploads, nil
}

// exportFiles writes each anonymized file as <out>/<study uid>/<file name>
func exportFiles(ctx context.Context, coordinator *session.Coordinator, outDir string) (int, error) {
	written := 0
	for _, f := range coordinator.Files() {
		if !f.Anonymized {
			continue
		}
		data, _, err := coordinator.LoadBytes(ctx, f.ID)
		if err != nil {
			return written, err
		}
		dir := filepath.Join(outDir, f.StudyUID())
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return written, fmt.Errorf("failed to create %s: %w", dir, err)
		}
		if err := os.WriteFile(filepath.Join(dir, filepath.Base(f.FileName)), data, 0o644); err != nil {
			return written, fmt.Errorf("failed to write %s: %w", f.FileName, err)
		}
		written++
	}
	return written, nil
}

func progressPrinter(cmd *cobra.Command) func(session.Event) {
	var mu sync.Mutex
	return func(e session.Event) {
		mu.Lock()
		defer mu.Unlock()
		switch e.Type {
		case session.EventSkip:
			fmt.Fprintf(cmd.ErrOrStderr(), "skipped %s: %s\n", e.FileName, e.Message)
		case session.EventProgress:
			if e.Progress != nil && e.Progress.Completed == e.Progress.Total {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s %s: %d%%\n", e.Action, shortUID(e.StudyUID), e.Progress.Percentage)
			}
		}
	}
}
