package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/triage-ai/privacy-shield/internal/trackerlist"
	"golang.org/x/sync/errgroup"
)

var (
	cfgFile string
	cfg     Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "trackergen",
	Short: "Build the tracker domain list from filter lists",
	Long: `Downloads EasyPrivacy-style filter lists, extracts their plain
"||domain^" network rules, and writes the JSON tracker list the shield
server loads at startup.`,
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Fetch the configured lists and write the tracker list",
	RunE:  runGenerate,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured source lists",
	RunE:  runList,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	RunE:  runInit,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default: ./configs/trackergen.toml)")

	generateCmd.Flags().StringP("output", "o", "", "output file (overrides output.path)")
	generateCmd.Flags().Bool("dry-run", false, "fetch and parse without writing the list")
	generateCmd.Flags().Bool("verbose", false, "verbose output")

	rootCmd.AddCommand(generateCmd, listCmd, initCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("trackergen")
		viper.SetConfigType("toml")
		viper.AddConfigPath("./configs")
		viper.AddConfigPath(".")
	}

	viper.SetDefault("http.timeout", "30s")
	viper.SetDefault("http.retries", 3)
	viper.SetDefault("http.parallel", 4)
	viper.SetDefault("output.path", "./trackers.json")
	viper.SetDefault("output.include_default", true)

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "Error reading config: %v\n", err)
		}
	}

	if err := viper.Unmarshal(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing config: %v\n", err)
	}
}

// fetchFunc downloads one source list.
type fetchFunc func(ctx context.Context, url string) ([]byte, error)

// sourceResult is what one source list contributed.
type sourceResult struct {
	Name    string
	Domains []string
	Stats   trackerlist.FilterStats
	Bytes   int
	Err     error
}

// collect fetches and parses every list concurrently, at most parallel at
// a time. A failing list is reported in its result and does not stop the
// others.
func collect(ctx context.Context, fetch fetchFunc, lists []SourceList, parallel, maxDomains int) []sourceResult {
	results := make([]sourceResult, len(lists))
	g, ctx := errgroup.WithContext(ctx)
	if parallel > 0 {
		g.SetLimit(parallel)
	}
	for i, list := range lists {
		g.Go(func() error {
			res := sourceResult{Name: list.Name}
			data, err := fetch(ctx, list.URL)
			if err != nil {
				res.Err = err
				results[i] = res
				return nil
			}
			res.Bytes = len(data)
			res.Domains, res.Stats, res.Err = trackerlist.ParseFilterList(bytes.NewReader(data), maxDomains)
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// buildList merges the parsed domains, optionally after the built-in list.
func buildList(results []sourceResult, includeDefault bool) trackerlist.List {
	var domains []string
	for _, r := range results {
		if r.Err == nil {
			domains = append(domains, r.Domains...)
		}
	}
	generated := trackerlist.FromDomains(domains)
	if includeDefault {
		return trackerlist.Merge(trackerlist.Default(), generated)
	}
	return generated
}

func runGenerate(cmd *cobra.Command, args []string) error {
	output, _ := cmd.Flags().GetString("output")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	verbose, _ := cmd.Flags().GetBool("verbose")
	if output == "" {
		output = cfg.Output.Path
	}

	enabledLists := cfg.EnabledLists()
	if len(enabledLists) == 0 {
		return fmt.Errorf("no enabled source lists found in config")
	}

	fmt.Printf("Fetching %d source lists...\n", len(enabledLists))
	if dryRun {
		fmt.Println("[DRY RUN] No files will be written")
	}

	f := trackerlist.NewFetcher(cfg.HTTP.Timeout, cfg.HTTP.Retries)
	results := collect(cmd.Context(), f.Fetch, enabledLists, cfg.HTTP.Parallel, cfg.Output.MaxDomains)

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			fmt.Printf("  %s: ERROR: %v\n", r.Name, r.Err)
			continue
		}
		fmt.Printf("  %s: %d domains from %d bytes\n", r.Name, len(r.Domains), r.Bytes)
		if verbose {
			fmt.Printf("    lines: %d, duplicates: %d, skipped: %d\n",
				r.Stats.Lines, r.Stats.Duplicates, r.Stats.Skipped)
		}
	}
	if failed == len(results) {
		return fmt.Errorf("all %d source lists failed", failed)
	}

	list := buildList(results, cfg.Output.IncludeDefault)
	fmt.Printf("\nTracker list: %d entries\n", len(list))
	if dryRun {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
		return err
	}
	file, err := os.Create(output)
	if err != nil {
		return err
	}
	defer file.Close()
	if err := list.Write(file); err != nil {
		return fmt.Errorf("write %s: %w", output, err)
	}
	fmt.Printf("Wrote %s\n", output)
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	fmt.Println("Configured source lists:")
	for _, list := range cfg.Lists {
		status := "enabled"
		if !list.Enabled {
			status = "disabled"
		}
		fmt.Printf("  [%s] %s\n", status, list.Name)
		fmt.Printf("         %s\n", list.URL)
	}
	return nil
}

func runInit(cmd *cobra.Command, args []string) error {
	configPath := "./configs/trackergen.toml"
	if cfgFile != "" {
		configPath = cfgFile
	}

	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config file already exists: %s", configPath)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return err
	}
	if err := os.WriteFile(configPath, []byte(defaultConfig), 0644); err != nil {
		return err
	}

	fmt.Printf("Created config file: %s\n", configPath)
	return nil
}
