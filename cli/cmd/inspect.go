package cmd

import (
	"fmt"
	"strings"

	"github.com/BDNK1/gimo/runtime"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var (
	pointID string
	where   string
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	idStyle    = lipgloss.NewStyle().Bold(true)
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)

var inspectCmd = &cobra.Command{
	Use:   "inspect [files...]",
	Short: "List plugins, extension points and extensions without starting them",
	Long: `Inspect loads plugin archives and prints what they declare.

With --point only the extensions of that extension point are listed,
filtered by the --where expression when given.

Example:
  gimo-launch inspect ./plugins
  gimo-launch inspect ./plugins --point org.example.web.routes --where 'config.port > 8000'
`,
	RunE: runInspect,
}

func init() {
	inspectCmd.Flags().StringVar(&pointID, "point", "", "Extension point id to list extensions for")
	inspectCmd.Flags().StringVar(&where, "where", "", "Filter expression over extensions (requires --point)")
}

func runInspect(cmd *cobra.Command, args []string) error {
	if where != "" && pointID == "" {
		return fmt.Errorf("--where requires --point")
	}

	ctx := cmd.Context()
	l, err := newLauncher(ctx, cmd)
	if err != nil {
		return err
	}
	defer l.context.Destroy(ctx)

	l.load(ctx, args)
	out := cmd.OutOrStdout()

	if pointID != "" {
		exts, err := l.context.SelectExtensions(pointID, where)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, titleStyle.Render(fmt.Sprintf("%s (%d extensions)", pointID, len(exts))))
		for _, ext := range exts {
			printExtension(cmd, ext, "  ")
		}
		return nil
	}

	if err := l.context.CheckDependencies(); err != nil {
		fmt.Fprintln(out, warnStyle.Render(err.Error()))
	}

	for _, p := range l.context.QueryPlugins() {
		printPlugin(cmd, p)
	}
	return nil
}

func printPlugin(cmd *cobra.Command, p *runtime.Plugin) {
	out := cmd.OutOrStdout()

	header := idStyle.Render(p.ID())
	if p.Version() != "" {
		header += " " + dimStyle.Render(p.Version())
	}
	fmt.Fprintln(out, header)

	if p.Name() != "" {
		fmt.Fprintf(out, "  name:     %s\n", p.Name())
	}
	if p.ModuleName() != "" {
		fmt.Fprintf(out, "  module:   %s %s\n", p.ModuleName(), dimStyle.Render(p.Symbol()))
	}
	for _, r := range p.Requires() {
		opt := ""
		if r.Optional {
			opt = dimStyle.Render(" (optional)")
		}
		fmt.Fprintf(out, "  requires: %s%s\n", r.PluginID, opt)
	}
	for _, ep := range p.ExtPoints() {
		fmt.Fprintf(out, "  extpoint: %s %s\n", ep.ID(), dimStyle.Render(ep.Name))
	}
	for _, ext := range p.Extensions() {
		printExtension(cmd, ext, "  ")
	}
}

func printExtension(cmd *cobra.Command, ext *runtime.Extension, indent string) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%sextension: %s -> %s\n", indent, ext.ID(), ext.ExtPointID)
	printConfigs(cmd, ext.Configs, indent+"  ")
}

func printConfigs(cmd *cobra.Command, configs []*runtime.ExtConfig, indent string) {
	out := cmd.OutOrStdout()
	for _, c := range configs {
		if len(c.Configs) > 0 {
			fmt.Fprintf(out, "%s%s:\n", indent, c.Name)
			printConfigs(cmd, c.Configs, indent+"  ")
			continue
		}
		fmt.Fprintf(out, "%s%s = %s\n", indent, c.Name, strings.TrimSpace(c.Value))
	}
}

func stateStyle(s runtime.State) lipgloss.Style {
	switch s {
	case runtime.StateActive:
		return okStyle
	case runtime.StateResolved, runtime.StateInstalled:
		return warnStyle
	default:
		return dimStyle
	}
}
