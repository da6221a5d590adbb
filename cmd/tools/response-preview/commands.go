// cmd/tools/response-preview/commands.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"nlg-workers/internal/common/config"
	"nlg-workers/internal/common/database"
	"nlg-workers/internal/common/logger"
	"nlg-workers/internal/nlg"
	"nlg-workers/internal/nlg/store"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const (
	formatJSON = "json"
	formatYAML = "yaml"
)

type globalOptions struct {
	configPath string
	format     string
	timeout    time.Duration
	verbose    bool
}

type resolveOptions struct {
	project  string
	template string
	language string
	channel  string
	slots    []string
	runtime  bool
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:           "response-preview",
		Short:         "Resolve bot response templates against the configured store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (defaults to configs/config.yaml discovery)")
	root.PersistentFlags().StringVarP(&opts.format, "format", "o", formatJSON, "output format: json or yaml")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "overall timeout")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(newResolveCmd(opts))
	root.AddCommand(newLanguagesCmd(opts))
	root.AddCommand(newInvalidateCmd(opts))
	return root
}

func newResolveCmd(global *globalOptions) *cobra.Command {
	opts := &resolveOptions{}

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve a template the way the NLG endpoint would",
		Example: `  response-preview resolve --project bf --template utter_greet --language en
  response-preview resolve --project bf --template utter_greet --channel webchat --slot name=Ana --runtime`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			slots, err := parseSlots(opts.slots)
			if err != nil {
				return err
			}

			return withEnvironment(cmd.Context(), global, func(ctx context.Context, env *environment) error {
				typed, report, err := env.resolver.Respond(ctx, opts.request(slots))
				if err != nil {
					return err
				}
				if report.DroppedButtons > 0 {
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: %d unresolvable button(s) omitted\n", report.DroppedButtons)
				}
				return render(cmd.OutOrStdout(), global.format, typed)
			})
		},
	}

	cmd.Flags().StringVarP(&opts.project, "project", "p", "", "project id")
	cmd.Flags().StringVarP(&opts.template, "template", "t", "", "template name, e.g. utter_greet")
	cmd.Flags().StringVarP(&opts.language, "language", "l", "", "requested language")
	cmd.Flags().StringVar(&opts.channel, "channel", "", "channel name")
	cmd.Flags().StringArrayVar(&opts.slots, "slot", nil, "slot value as name=value (repeatable)")
	cmd.Flags().BoolVar(&opts.runtime, "runtime", false, "sample variants like a live conversation instead of previewing the first")
	_ = cmd.MarkFlagRequired("project")
	_ = cmd.MarkFlagRequired("template")
	return cmd
}

func newLanguagesCmd(global *globalOptions) *cobra.Command {
	var project string

	cmd := &cobra.Command{
		Use:   "languages",
		Short: "Show the languages configured for a project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnvironment(cmd.Context(), global, func(ctx context.Context, env *environment) error {
				languages, err := env.languages.LanguagesOf(ctx, project)
				if err != nil {
					return err
				}
				defaultLanguage, err := env.languages.DefaultLanguage(ctx, project)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), global.format, map[string]interface{}{
					"projectId":       project,
					"languages":       languages,
					"defaultLanguage": defaultLanguage,
				})
			})
		},
	}
	cmd.Flags().StringVarP(&project, "project", "p", "", "project id")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func newInvalidateCmd(global *globalOptions) *cobra.Command {
	var project string

	cmd := &cobra.Command{
		Use:   "invalidate",
		Short: "Drop the cached language settings of a project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnvironment(cmd.Context(), global, func(ctx context.Context, env *environment) error {
				if err := env.languages.Invalidate(ctx, project); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "invalidated language cache for %s\n", project)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&project, "project", "p", "", "project id")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func (o *resolveOptions) request(slots nlg.SlotMap) nlg.Request {
	call := nlg.CallPreview
	if o.runtime {
		call = nlg.CallRuntime
	}
	return nlg.Request{
		Template:  o.template,
		ProjectID: o.project,
		Language:  o.language,
		Slots:     slots,
		Channel:   o.channel,
		Call:      call,
	}
}

// parseSlots reads name=value pairs. Values stay strings; the interpolator formats anything else
// the same way anyway.
func parseSlots(pairs []string) (nlg.SlotMap, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	slots := make(nlg.SlotMap, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid slot %q, expected name=value", pair)
		}
		slots[name] = value
	}
	return slots, nil
}

func render(w io.Writer, format string, v interface{}) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case formatYAML:
		// Round trip through JSON so the output keeps the json field names.
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		var doc interface{}
		if err := json.Unmarshal(data, &doc); err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(doc)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

type environment struct {
	resolver  *nlg.Resolver
	languages *store.ProjectLanguages
}

// withEnvironment connects to the configured store, runs fn and tears everything down.
func withEnvironment(parent context.Context, opts *globalOptions, fn func(ctx context.Context, env *environment) error) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, opts.timeout)
	defer cancel()

	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}

	level := "warn"
	if opts.verbose {
		level = "debug"
	}
	log := logger.NewStructured(level, "console")

	pg, err := database.NewPostgres(cfg.Database.Postgres)
	if err != nil {
		return err
	}
	defer pg.Close()
	if err := pg.Ping(ctx); err != nil {
		return err
	}

	rdb := database.NewRedis(cfg.Database.Redis)
	defer rdb.Close()
	if err := rdb.Ping(ctx); err != nil {
		return err
	}

	var es *elasticsearch.Client
	if cfg.NLG.StoreBackend == config.StoreBackendElasticsearch {
		esClient, err := database.NewElasticsearch(cfg.Database.Elasticsearch)
		if err != nil {
			return err
		}
		es = esClient.Client
	}

	languages := store.NewProjectLanguages(pg.DB, rdb.Client, cfg.NLG.CacheTTL(), log)
	responses, err := store.New(cfg.NLG, pg.DB, es, languages, log)
	if err != nil {
		return err
	}

	return fn(ctx, &environment{
		resolver:  nlg.NewResolver(responses, languages, log),
		languages: languages,
	})
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}
