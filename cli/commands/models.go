package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/erikhoward/kirogw/oai"
	"github.com/erikhoward/kirogw/providers/kiro"
)

var modelsOutput string

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the model names the gateway accepts",
	Long: `List the public model names and the backend model each one maps to.

Examples:
  kirogw models
  kirogw models --output json`,
	Args: cobra.NoArgs,
	RunE: runModels,
}

func init() {
	rootCmd.AddCommand(modelsCmd)
	modelsCmd.Flags().StringVar(&modelsOutput, "output", "yaml", "Output format: yaml, json")
}

type modelEntry struct {
	Name    string `yaml:"name"`
	Backend string `yaml:"backend"`
}

func runModels(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	resolver := kiro.NewStaticResolver(cfg.Models, cfg.ProfileARN)
	models := resolver.List()

	out := cmd.OutOrStdout()
	switch modelsOutput {
	case "json":
		return printJSON(out, oai.RenderModels(models, time.Now().Unix()))
	case "yaml":
		entries := make([]modelEntry, 0, len(models))
		for _, m := range models {
			res, err := resolver.Resolve(m.ID)
			if err != nil {
				return err
			}
			entries = append(entries, modelEntry{Name: string(m.ID), Backend: res.ModelID})
		}
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(map[string]any{"models": entries}); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported output: %s (use 'yaml' or 'json')", modelsOutput)
	}
}
