package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/PatchLens/go-page-wrap/wrap"
)

type cli struct {
	newLogger  func(debug bool) (*zap.Logger, error)
	configFile string
	flags      flagValues

	config *wrap.Config
	logger *zap.Logger
}

// NewRootCommand builds the pagewrap command line.
func NewRootCommand() *cobra.Command {
	return newRootCommand(NewLogger)
}

func newRootCommand(newLogger func(debug bool) (*zap.Logger, error)) *cobra.Command {
	c := &cli{newLogger: newLogger}
	root := &cobra.Command{
		Use:   "pagewrap",
		Short: "Wrap the data fetching functions of page modules",
		Long: `pagewrap renames the getServerSideProps, getStaticProps and getStaticPaths functions of every
page module and appends wrappers exporting them under their original names.

Pages are written to a mirrored output directory (--out) or rewritten in place (--in-place).`,
		SilenceUsage:      true,
		PersistentPreRunE: c.setup,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.logger != nil {
				_ = c.logger.Sync()
			}
		},
		RunE: c.run,
	}
	root.PersistentFlags().StringVar(&c.configFile, "config", "", "YAML config file, flags override its values")
	c.flags.bind(root.PersistentFlags())

	root.AddCommand(&cobra.Command{
		Use:   "watch",
		Short: "Wrap all pages, then rewrite pages as they change",
		RunE:  c.watch,
	})
	rewriteCmd := &cobra.Command{
		Use:   "rewrite [file]",
		Short: "Print the wrapped form of a single module",
		Args:  cobra.ExactArgs(1),
		RunE:  c.rewrite,
	}
	rewriteCmd.Flags().String("route", "", "Route handed to the wrappers")
	root.AddCommand(rewriteCmd)
	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Render the overview chart of an earlier run from its JSON report",
		RunE:  c.report,
	}
	reportCmd.Flags().String("chart-out", "pagewrap.png", "File to write the chart image to")
	root.AddCommand(reportCmd)
	root.AddCommand(&cobra.Command{
		Use:   "template",
		Short: "Print the wrapper template in use",
		RunE:  c.template,
	})
	return root
}

func (c *cli) setup(cmd *cobra.Command, args []string) error {
	config := &wrap.Config{}
	if c.configFile != "" {
		loaded, err := LoadConfig(c.configFile)
		if err != nil {
			return err
		}
		config = loaded
	}
	c.flags.apply(cmd.Flags(), config)
	c.config = config

	logger, err := c.newLogger(config.Debug)
	if err != nil {
		return err
	}
	c.logger = logger
	return nil
}

func (c *cli) run(cmd *cobra.Command, args []string) error {
	engine := wrap.NewEngine(c.config, c.logger)
	engine.DiffOutput = cmd.OutOrStdout()
	_, err := engine.Run(cmd.Context())
	return err
}

func (c *cli) watch(cmd *cobra.Command, args []string) error {
	if err := c.run(cmd, args); err != nil {
		return err
	}
	engine := wrap.NewEngine(c.config, c.logger)
	engine.DiffOutput = cmd.OutOrStdout()
	watcher, err := wrap.NewWatcher(engine)
	if err != nil {
		return err
	}
	return watcher.Run(cmd.Context())
}

func (c *cli) rewrite(cmd *cobra.Command, args []string) error {
	path := args[0]
	dialect, err := wrap.DialectForPath(path)
	if err != nil {
		return err
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	rewriter, err := c.rewriter()
	if err != nil {
		return err
	}
	route, _ := cmd.Flags().GetString("route")
	result, err := rewriter.Rewrite(src, wrap.RewriteOptions{Path: path, Dialect: dialect, Route: route})
	if err != nil {
		return err
	}
	c.logger.Debug("rewrite complete", zap.String("path", path), zap.Stringer("status", result.Status))
	_, err = cmd.OutOrStdout().Write(result.Output)
	return err
}

func (c *cli) report(cmd *cobra.Command, args []string) error {
	if c.config.ReportJsonFile == "" {
		return errors.New("--json is required to name the run report")
	}
	data, err := os.ReadFile(c.config.ReportJsonFile)
	if err != nil {
		return fmt.Errorf("read run report: %w", err)
	}
	var metrics wrap.ReportMetrics
	if err := json.Unmarshal(data, &metrics); err != nil {
		return fmt.Errorf("unmarshal run report: %w", err)
	}
	chart, err := wrap.RenderReportChartsFromJson(metrics)
	if err != nil {
		return fmt.Errorf("render charts: %w", err)
	}
	out, _ := cmd.Flags().GetString("chart-out")
	if err := os.WriteFile(out, chart, 0644); err != nil {
		return fmt.Errorf("write chart file: %w", err)
	}
	c.logger.Info("report chart written", zap.String("path", out))
	return nil
}

func (c *cli) template(cmd *cobra.Command, args []string) error {
	rewriter, err := c.rewriter()
	if err != nil {
		return err
	}
	t := rewriter.Template()
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "// %s (%s)\n%s", t.Path, t.Version, t.Source)
	return err
}

func (c *cli) rewriter() (*wrap.Rewriter, error) {
	opts := []wrap.RewriterOption{wrap.WithLogger(c.logger)}
	if c.config.TemplateFile != "" {
		src, err := os.ReadFile(c.config.TemplateFile)
		if err != nil {
			return nil, fmt.Errorf("read template: %w", err)
		}
		t, err := wrap.NewTemplate(c.config.TemplateFile, src)
		if err != nil {
			return nil, err
		}
		opts = append(opts, wrap.WithTemplate(t))
	}
	return wrap.NewRewriter(opts...)
}
