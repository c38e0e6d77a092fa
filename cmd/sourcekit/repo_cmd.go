package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"sourcekit/internal/repository"
)

func runRepo(ctx context.Context, a *app, args []string, out io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: sourcekit repo <list|search|install|update|remove>")
	}

	switch args[0] {
	case "list":
		if len(args) > 1 && args[1] == "--refresh" {
			for _, base := range a.registry.URLs() {
				if _, err := a.registry.Refresh(ctx, base); err != nil {
					fmt.Fprintf(out, "refresh %s: %v\n", base, err)
				}
			}
		}
		entries, err := a.registry.Entries(ctx)
		if err != nil {
			return err
		}
		return printEntries(ctx, a, entries, out)
	case "search":
		if len(args) < 2 {
			return fmt.Errorf("usage: sourcekit repo search <query>")
		}
		entries, err := a.registry.Search(ctx, strings.Join(args[1:], " "))
		if err != nil {
			return err
		}
		return printEntries(ctx, a, entries, out)
	case "install":
		if len(args) < 2 {
			return fmt.Errorf("usage: sourcekit repo install <id>")
		}
		d, err := a.installer.Install(ctx, args[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "installed %s %s from %s\n", d.ID, d.Version, d.RepositoryURL)
		return nil
	case "update":
		if len(args) < 2 {
			updated, err := a.installer.UpdateAll(ctx)
			if err != nil {
				return err
			}
			if len(updated) == 0 {
				fmt.Fprintln(out, "all extensions are up to date")
			}
			for _, id := range updated {
				fmt.Fprintf(out, "updated %s\n", id)
			}
			return nil
		}
		updated, err := a.installer.Update(ctx, args[1])
		if err != nil {
			return err
		}
		if updated {
			fmt.Fprintf(out, "updated %s\n", args[1])
		} else {
			fmt.Fprintf(out, "%s is up to date\n", args[1])
		}
		return nil
	case "remove":
		if len(args) < 2 {
			return fmt.Errorf("usage: sourcekit repo remove <id>")
		}
		if err := a.installer.Remove(ctx, args[1]); err != nil {
			return err
		}
		fmt.Fprintf(out, "removed %s\n", args[1])
		return nil
	default:
		return fmt.Errorf("unknown repo subcommand: %s", args[0])
	}
}

func printEntries(ctx context.Context, a *app, entries []repository.Entry, out io.Writer) error {
	installed := map[string]string{}
	descs, err := a.installer.Installed(ctx)
	if err != nil {
		return err
	}
	for _, d := range descs {
		installed[d.ID] = d.Version
	}

	if len(entries) == 0 {
		fmt.Fprintln(out, "no extensions found")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tVERSION\tINSTALLED\tLANGUAGE\tREPOSITORY")
	for _, e := range entries {
		have := installed[e.ID]
		if have == "" {
			have = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", e.ID, e.Name, e.Version, have, e.Language, e.RepositoryURL)
	}
	return w.Flush()
}
