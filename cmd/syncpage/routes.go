package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vango-dev/syncpage/internal/config"
	"github.com/vango-dev/syncpage/pkg/filter"
	"github.com/vango-dev/syncpage/pkg/router"
)

func routesCmd() *cobra.Command {
	var (
		appsFile string
		match    string
	)

	cmd := &cobra.Command{
		Use:   "routes",
		Short: "Print the apps table",
		Long: `Print every app and route in match order.

With --match, print how a single path would be handled instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if appsFile == "" {
				e, err := config.LoadEnv()
				if err != nil {
					return err
				}
				appsFile = e.AppsFile
			}
			apps, err := config.LoadApps(appsFile, filter.NewRegistry())
			if err != nil {
				return err
			}
			if match != "" {
				return printMatch(cmd.OutOrStdout(), apps.Table.Match(match))
			}
			return printRoutes(cmd.OutOrStdout(), apps.Table)
		},
	}

	cmd.Flags().StringVarP(&appsFile, "apps", "a", "", "Apps file (default: $APPS_FILE)")
	cmd.Flags().StringVarP(&match, "match", "m", "", "Show how PATH is handled")

	return cmd
}

func printRoutes(out io.Writer, t *router.Table) error {
	routes := t.Routes()
	if len(routes) == 0 {
		_, err := fmt.Fprintf(out, "no routes: every path renders %q\n", router.DefaultApp)
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "APP\tPATTERN\tFILTERS\tREDIRECT")
	for _, r := range routes {
		pattern := strings.Repeat("  ", r.Depth) + r.Pattern
		if r.Placeholder {
			pattern += " (group)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", r.App, pattern, r.Filters, r.Redirect)
	}
	return tw.Flush()
}

func printMatch(out io.Writer, res router.MatchResult) error {
	switch res.Kind {
	case router.KindNoMatch:
		_, err := fmt.Fprintln(out, "no match: 404")
		return err
	case router.KindRedirect:
		_, err := fmt.Fprintf(out, "redirect: %s (app %s, pattern %s)\n", res.Target, res.App, res.Pattern)
		return err
	}

	if _, err := fmt.Fprintf(out, "render: app %s, pattern %s, %d filter(s)\n", res.App, res.Pattern, len(res.Filters)); err != nil {
		return err
	}
	names := make([]string, 0, len(res.Params))
	for name := range res.Params {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, err := fmt.Fprintf(out, "  %s = %s\n", name, res.Params[name]); err != nil {
			return err
		}
	}
	return nil
}
