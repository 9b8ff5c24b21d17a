package integrations

import (
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/zverozabr/zeroclaw/internal/zeroclaw/config"
)

// RunCLI dispatches the "integrations" subcommand (list, search, info)
// against the live config, writing human-readable output to out. It uses a
// flag.NewFlagSet per subcommand rather than pulling in a CLI framework
// neither the runtime nor any of its adapters otherwise need.
func RunCLI(args []string, cfg *config.Config, out io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("integrations: expected a subcommand (list, search, info)")
	}

	switch args[0] {
	case "list":
		fs := flag.NewFlagSet("integrations list", flag.ContinueOnError)
		category := fs.String("category", "", "filter by category")
		status := fs.String("status", "", "filter by status")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		return List(cfg, *category, *status, out)
	case "search":
		if len(args) < 2 {
			return fmt.Errorf("integrations search: expected a query")
		}
		return Search(cfg, strings.Join(args[1:], " "), out)
	case "info":
		if len(args) < 2 {
			return fmt.Errorf("integrations info: expected an integration name")
		}
		return Info(cfg, strings.Join(args[1:], " "), out)
	default:
		return fmt.Errorf("integrations: unknown subcommand %q (want list, search, or info)", args[0])
	}
}

// List prints every catalog entry, grouped by category in declaration
// order, optionally narrowed to one category and/or one status.
func List(cfg *config.Config, categoryFilter, statusFilter string, out io.Writer) error {
	var catFilter *Category
	if categoryFilter != "" {
		c, ok := ParseCategory(categoryFilter)
		if !ok {
			return fmt.Errorf("unknown category: %q (valid: chat, ai, productivity, music, smart-home, tools, media, social, platform)", categoryFilter)
		}
		catFilter = &c
	}

	var statFilter *Status
	if statusFilter != "" {
		s, ok := ParseStatus(statusFilter)
		if !ok {
			return fmt.Errorf("unknown status: %q (valid: active, available, coming-soon)", statusFilter)
		}
		statFilter = &s
	}

	entries := AllIntegrations()
	count := 0
	for _, cat := range AllCategories() {
		if catFilter != nil && *catFilter != cat {
			continue
		}

		var rows []Entry
		for _, e := range entries {
			if e.Category != cat {
				continue
			}
			if statFilter != nil && e.Status(cfg) != *statFilter {
				continue
			}
			rows = append(rows, e)
		}
		if len(rows) == 0 {
			continue
		}

		fmt.Fprintln(out)
		fmt.Fprintf(out, "  %s\n", cat.Label())
		for _, e := range rows {
			fmt.Fprintf(out, "    %s %-20s %s\n", e.Status(cfg).icon(), e.Name, e.Description)
			count++
		}
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "  %d integration(s) shown.\n", count)
	fmt.Fprintln(out)
	return nil
}

// Search prints every entry whose name or description contains query,
// case-insensitively.
func Search(cfg *config.Config, query string, out io.Writer) error {
	lower := strings.ToLower(query)
	var matches []Entry
	for _, e := range AllIntegrations() {
		if strings.Contains(strings.ToLower(e.Name), lower) || strings.Contains(strings.ToLower(e.Description), lower) {
			matches = append(matches, e)
		}
	}

	fmt.Fprintln(out)
	if len(matches) == 0 {
		fmt.Fprintf(out, "  No integrations matching %q.\n", query)
		fmt.Fprintln(out)
		return nil
	}

	for _, e := range matches {
		fmt.Fprintf(out, "    %s %-20s %-14s %s\n", e.Status(cfg).icon(), e.Name, e.Category.Label(), e.Description)
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  %d result(s) for %q.\n", len(matches), query)
	fmt.Fprintln(out)
	return nil
}

// Info prints the full detail for a single entry, matched case-insensitively
// by exact name.
func Info(cfg *config.Config, name string, out io.Writer) error {
	entry, ok := findByName(AllIntegrations(), name)
	if !ok {
		return fmt.Errorf("unknown integration: %s (run `integrations list` to see what's available)", name)
	}

	status := entry.Status(cfg)
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  %s %s - %s\n", status.icon(), entry.Name, entry.Description)
	fmt.Fprintf(out, "  Category: %s\n", entry.Category.Label())
	fmt.Fprintf(out, "  Status:   %s\n", status)
	fmt.Fprintln(out)
	if status == StatusComingSoon {
		fmt.Fprintln(out, "  This integration is planned but not yet implemented.")
		fmt.Fprintln(out)
	}
	return nil
}
