package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"lvm-go/internal/app"
	"lvm-go/internal/config"
	"lvm-go/internal/lvm"
	"lvm-go/internal/project"
	"lvm-go/internal/watch"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		if errors.Is(err, lvm.ErrVerificationMismatch) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

var (
	projectFlag string
	verboseFlag bool
)

func loadConfig() (*config.Config, map[string]string, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, nil, fmt.Errorf("getting defaults: %w", err)
	}
	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, nil, fmt.Errorf("reading config (run 'lvm config init' first): %w", err)
	}
	return cfg, defaults, nil
}

func projectPath(defaults map[string]string) string {
	if projectFlag != "" {
		return projectFlag
	}
	return defaults["project"]
}

// newApp reads the config and creates an LVMApp. withProject loads the
// project named by --project, LVM_PROJECT or the working directory.
// The caller must call finish when done.
func newApp(cmd *cobra.Command, args []string, withProject bool) (*app.LVMApp, error) {
	cfg, defaults, err := loadConfig()
	if err != nil {
		return nil, err
	}

	opts := app.Options{Command: cmd.Name(), Args: args}
	if withProject {
		opts.ProjectPath = projectPath(defaults)
	}
	if verboseFlag {
		opts.Stderr = os.Stderr
	}

	a, err := app.NewLVMApp(cmd.Context(), cfg, opts)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// finish records a command failure and closes the app. A close error is
// reported when the command itself succeeded.
func finish(a *app.LVMApp, err *error) {
	if *err != nil {
		a.Fail(*err)
	}
	if cerr := a.Close(); cerr != nil && *err == nil {
		*err = cerr
	}
}

var rootCmd = &cobra.Command{
	Use:          "lvm",
	Short:        "Latest version manager for render and media outputs",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults["base_dir"])
		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Base Dir: %s\n", cfg.BaseDir)
		fmt.Println("Run 'lvm ledger keys' before enabling an archive.")
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, defaults, err := loadConfig()
		if err != nil {
			return err
		}

		archive := cfg.Archive.Type
		switch cfg.Archive.Type {
		case "":
			archive = "disabled"
		case "s3":
			archive = fmt.Sprintf("s3://%s/%s", cfg.Archive.S3Bucket, cfg.Archive.S3Prefix)
		case "filesystem":
			archive = cfg.Archive.FSRoot
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Base Dir:   %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:    %s\n", cfg.Log.Dir)
		fmt.Printf("Ledger:     %s %s\n", cfg.Ledger.Type, cfg.Ledger.DataDir)
		fmt.Printf("Archive:    %s\n", archive)
		fmt.Printf("Encryption: %s\n", cfg.Encryption.Type)
		fmt.Printf("Watch:      %s (poll %s, debounce %s)\n", cfg.Watch.Backend, cfg.Watch.PollInterval, cfg.Watch.Debounce)
		fmt.Printf("Workers:    %d\n", cfg.Promote.Workers)
		fmt.Printf("Project:    %s\n", projectPath(defaults))
		return nil
	},
}

// project command
var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage the project file",
}

var projectInitCmd = &cobra.Command{
	Use:   "init [DIR]",
	Short: "Create a project file, optionally from discovered sources",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		name, _ := cmd.Flags().GetString("name")
		from, _ := cmd.Flags().GetString("from")
		target, _ := cmd.Flags().GetString("target")

		dir := "."
		if len(args) > 0 {
			dir = args[0]
		}
		dir, err = filepath.Abs(dir)
		if err != nil {
			return fmt.Errorf("resolving path: %w", err)
		}
		path := filepath.Join(dir, project.DefaultFileName)
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("project file already exists at %s", path)
		}
		if name == "" {
			name = filepath.Base(dir)
		}

		p := project.New(path, name)
		p.TargetTemplate = target

		if from != "" {
			var a *app.LVMApp
			if a, err = newApp(cmd, args, false); err != nil {
				return err
			}
			defer finish(a, &err)

			results, err := a.Discover(cmd.Context(), from, lvm.DiscoverOptions{})
			if err != nil {
				return fmt.Errorf("discovering sources: %w", err)
			}
			if err := addDiscovered(p, dir, results); err != nil {
				return err
			}
		}

		if err := p.Save(); err != nil {
			return fmt.Errorf("saving project: %w", err)
		}
		fmt.Printf("Project %q created at %s with %d source(s)\n", p.Name, path, len(p.Sources))
		return nil
	},
}

// addDiscovered appends one source per discovery result, with roots relative
// to the project directory where possible.
func addDiscovered(p *project.Project, dir string, results []*lvm.DiscoveryResult) error {
	for _, r := range results {
		root := r.Path
		if rel, err := filepath.Rel(dir, r.Path); err == nil && !filepath.IsAbs(rel) {
			root = rel
		}
		sc := project.SourceConfig{Name: r.Name, Root: root}
		if r.SuggestedPrefix != "" && r.SuggestedPrefix != "v" {
			sc.VersionPrefix = r.SuggestedPrefix
		}
		if _, exists := p.Source(sc.SourceID()); exists {
			sc.ID = fmt.Sprintf("%s-%d", sc.Name, len(p.Sources)+1)
		}
		p.Sources = append(p.Sources, sc)
	}
	if len(p.Sources) > 0 && p.TargetTemplate == "" {
		return fmt.Errorf("discovered sources need a target: pass --target, e.g. --target 'latest/{source_name}'")
	}
	return nil
}

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List the project's sources",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		a, err := newApp(cmd, args, true)
		if err != nil {
			return err
		}
		defer finish(a, &err)

		fmt.Println(renderSources(a.Sources()))
		return nil
	},
}

// discover command
var discoverCmd = &cobra.Command{
	Use:   "discover ROOT",
	Short: "Find directories that look like versioned sources",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		depth, _ := cmd.Flags().GetInt("depth")
		include, _ := cmd.Flags().GetStringSlice("include")
		exclude, _ := cmd.Flags().GetStringSlice("exclude")

		a, err := newApp(cmd, args, false)
		if err != nil {
			return err
		}
		defer finish(a, &err)

		results, err := a.Discover(cmd.Context(), args[0], lvm.DiscoverOptions{
			Depth:   depth,
			Include: include,
			Exclude: exclude,
		})
		if err != nil {
			return err
		}
		if len(results) == 0 {
			fmt.Println("No versioned sources found.")
			return nil
		}
		fmt.Println(renderDiscovery(results))
		return nil
	},
}

// scan command
var scanCmd = &cobra.Command{
	Use:   "scan [SOURCE]",
	Short: "Scan sources for versions",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		a, err := newApp(cmd, args, true)
		if err != nil {
			return err
		}
		defer finish(a, &err)

		sourceID := ""
		if len(args) > 0 {
			sourceID = args[0]
		}
		results, err := a.Scan(cmd.Context(), sourceID)
		for _, r := range results {
			fmt.Printf("%-20s +%d -%d ~%d =%d\n", r.SourceID, len(r.Added), len(r.Removed), len(r.Updated), len(r.Unchanged))
		}
		return err
	},
}

// status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show latest and promoted versions per source",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		a, err := newApp(cmd, args, true)
		if err != nil {
			return err
		}
		defer finish(a, &err)

		statuses, err := a.Status(cmd.Context())
		if err != nil {
			return err
		}
		if len(statuses) == 0 {
			fmt.Println("No sources configured.")
			return nil
		}
		fmt.Println(renderStatus(statuses))
		return nil
	},
}

// promote command
var promoteCmd = &cobra.Command{
	Use:   "promote SOURCE VERSION",
	Short: "Promote a version of a source to its target",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		opts, err := promoteOptions(cmd)
		if err != nil {
			return err
		}

		a, err := newApp(cmd, args, true)
		if err != nil {
			return err
		}
		defer finish(a, &err)

		res, err := a.Promote(cmd.Context(), args[0], args[1], opts)
		if res != nil {
			printWarnings(res.Warnings)
		}
		if report, _ := cmd.Flags().GetString("report"); report != "" {
			if werr := a.WritePromotionReport(report, args[0], res, err); werr != nil {
				return errors.Join(err, werr)
			}
			fmt.Printf("Report written to %s\n", report)
		}
		if err != nil {
			return err
		}
		if res.DryRun {
			fmt.Printf("Would promote %s %s with %s:\n", args[0], res.Version.Token, res.LinkMode)
			fmt.Println(renderPlan(res.Plan))
			return nil
		}
		fmt.Printf("Promoted %s %s to %s (%s, %d file(s))\n",
			res.Record.SourceID, res.Record.VersionToken, res.Record.TargetPath, res.LinkMode, len(res.Record.Manifest))
		return nil
	},
}

var promoteAllCmd = &cobra.Command{
	Use:   "promote-all",
	Short: "Promote the latest version of every source",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		yes, _ := cmd.Flags().GetBool("yes")
		opts, err := promoteOptions(cmd)
		if err != nil {
			return err
		}

		a, err := newApp(cmd, args, true)
		if err != nil {
			return err
		}
		defer finish(a, &err)

		if !yes && !opts.DryRun && isInteractive() {
			ok, err := confirm(fmt.Sprintf("Promote the latest version of %d source(s)?", len(a.Sources())))
			if err != nil {
				return err
			}
			if !ok {
				fmt.Println("Aborted.")
				return nil
			}
		}

		batch := a.PromoteAll(cmd.Context(), opts)
		for _, o := range batch.Outcomes {
			if o.Result != nil {
				printWarnings(o.Result.Warnings)
			}
		}
		fmt.Println(renderBatch(batch))
		if report, _ := cmd.Flags().GetString("report"); report != "" {
			if err := a.WriteBatchReport(report, batch); err != nil {
				return err
			}
			fmt.Printf("Report written to %s\n", report)
		}
		if n := batch.Failed(); n > 0 {
			return fmt.Errorf("%d source(s) failed", n)
		}
		return nil
	},
}

func promoteOptions(cmd *cobra.Command) (lvm.PromoteOptions, error) {
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	linkMode, _ := cmd.Flags().GetString("link-mode")
	allowDivergence, _ := cmd.Flags().GetBool("allow-divergence")
	actor, _ := cmd.Flags().GetString("actor")

	opts := lvm.PromoteOptions{DryRun: dryRun, AllowDivergence: allowDivergence, Actor: actor}
	if linkMode != "" {
		mode, err := lvm.ParseLinkMode(linkMode)
		if err != nil {
			return opts, err
		}
		opts.LinkMode = mode
	}
	return opts, nil
}

func printWarnings(warnings []lvm.DivergenceWarning) {
	for _, w := range warnings {
		fmt.Fprintf(os.Stderr, "warning: %s changed from %s to %s\n", w.Field, w.Previous, w.Current)
	}
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history SOURCE",
	Short: "View the promotion history of a source",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd, args, true)
		if err != nil {
			return err
		}
		defer finish(a, &err)

		records, err := a.History(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		var rows []*lvm.PromotionRecord
		for r, err := range records {
			if err != nil {
				return err
			}
			rows = append(rows, r)
		}
		if len(rows) == 0 {
			fmt.Println("No promotions recorded.")
			return nil
		}
		if limit > 0 && len(rows) > limit {
			rows = rows[len(rows)-limit:]
		}
		fmt.Println(renderHistory(rows))
		return nil
	},
}

// verify command
var verifyCmd = &cobra.Command{
	Use:   "verify [SOURCE]",
	Short: "Check promoted targets against the ledger",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		a, err := newApp(cmd, args, true)
		if err != nil {
			return err
		}
		defer finish(a, &err)

		sourceID := ""
		if len(args) > 0 {
			sourceID = args[0]
		}
		reports, err := a.Verify(cmd.Context(), sourceID)
		if len(reports) > 0 {
			fmt.Println(renderVerify(reports))
		}
		return err
	},
}

// watch command
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Rescan sources as they change on disk",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		a, err := newApp(cmd, args, true)
		if err != nil {
			return err
		}
		defer finish(a, &err)

		fmt.Printf("Watching %d source(s). Press Ctrl-C to stop.\n", len(a.Sources()))
		return a.Watch(cmd.Context(), func(ev watch.ChangeEvent) {
			fmt.Printf("%s  %-20s +%d -%d ~%d\n",
				ev.At.Local().Format("15:04:05"), ev.SourceID, len(ev.Added), len(ev.Removed), len(ev.Updated))
		})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&projectFlag, "project", "p", "", "Project file or directory (default: $LVM_PROJECT or the working directory)")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Copy log output to stderr")

	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// project subcommands
	projectCmd.AddCommand(projectInitCmd)
	projectInitCmd.Flags().String("name", "", "Project name (default: the directory name)")
	projectInitCmd.Flags().String("from", "", "Add a source for every versioned directory found below this root")
	projectInitCmd.Flags().String("target", "", "Target template, e.g. 'latest/{source_name}'")

	// ledger subcommands
	ledgerCmd.AddCommand(ledgerKeysCmd)
	ledgerCmd.AddCommand(ledgerRestoreCmd)
	ledgerRestoreCmd.Flags().Bool("force", false, "Replace a local ledger that holds more records than the archive")
	ledgerCmd.AddCommand(ledgerStatusCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(projectCmd)
	rootCmd.AddCommand(ledgerCmd)
	rootCmd.AddCommand(sourcesCmd)
	rootCmd.AddCommand(discoverCmd)
	discoverCmd.Flags().IntP("depth", "d", lvm.DefaultDiscoverDepth, "Maximum directory depth")
	discoverCmd.Flags().StringSlice("include", nil, "Only consider files matching these globs")
	discoverCmd.Flags().StringSlice("exclude", nil, "Skip files matching these globs")
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(statusCmd)
	for _, c := range []*cobra.Command{promoteCmd, promoteAllCmd} {
		c.Flags().Bool("dry-run", false, "Show the plan without changing anything")
		c.Flags().String("link-mode", "", "copy, hardlink or symlink (default: the source's mode)")
		c.Flags().Bool("allow-divergence", false, "Promote even when a strict source diverged from the previous version")
		c.Flags().String("actor", "", "Name recorded in the ledger (default: config actor or login name)")
		c.Flags().String("report", "", "Write a JSON promotion report to this file")
		rootCmd.AddCommand(c)
	}
	promoteAllCmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 0, "Show only the most recent records")
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(watchCmd)
}
