package cli

import (
	"os"
	"runtime"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"pixelmind/internal/edit"
)

// Version is stamped at build time with -ldflags.
var Version = "0.1.0-dev"

func newConfigCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Display the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.configShow()
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "presets",
		Short: "List the built-in filter presets",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			for _, p := range edit.Presets {
				root.printf("%-10s %s\n", p.ID, p.Description)
			}
		},
	})
	return cmd
}

func (r *Root) configShow() error {
	cfgPath := os.Getenv("PIXELMIND_CONFIG")
	if cfgPath == "" {
		cfgPath = "(default) ~/.config/pixelmind/config.json"
	}
	r.printf("# config file: %s\n", cfgPath)

	shown := *r.cfg
	if shown.AI.APIKey != "" {
		shown.AI.APIKey = "********"
	}
	out, err := yaml.Marshal(&shown)
	if err != nil {
		return err
	}
	_, err = r.out.Write(out)
	return err
}

func newVersionCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			root.printf("pixelmind %s\n", Version)
			root.printf("Built with Go %s\n", runtime.Version())
			if root.cfg.AI.APIKey == "" {
				root.printf("AI: disabled (no API key)\n")
			} else {
				root.printf("AI: %s / %s\n", root.cfg.AI.ImageModel, root.cfg.AI.TextModel)
			}
		},
	}
}
