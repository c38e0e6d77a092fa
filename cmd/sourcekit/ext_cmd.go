package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"sourcekit/internal/dispatch"
	"sourcekit/internal/imaging"
)

func runExt(ctx context.Context, a *app, args []string, out io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: sourcekit ext <list|sections|search|chapters|pages|unscramble>")
	}

	switch args[0] {
	case "list":
		descs, err := a.sources.Descriptors(ctx)
		if err != nil {
			return err
		}
		local := map[string]bool{}
		for _, d := range a.sources.Local() {
			local[d.ID] = true
		}
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tVERSION\tENGINE\tORIGIN")
		for _, d := range descs {
			origin := d.RepositoryURL
			if local[d.ID] {
				origin = "local"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", d.ID, d.Name, d.Version, d.EngineOrDefault(), origin)
		}
		return w.Flush()
	case "sections":
		if len(args) < 2 {
			return fmt.Errorf("usage: sourcekit ext sections <id>")
		}
		return printJSON(out, a.facade.HomeSections(ctx, args[1]))
	case "search":
		if len(args) < 3 {
			return fmt.Errorf("usage: sourcekit ext search <id|--all> <query>")
		}
		query := dispatch.SearchQuery{Title: strings.Join(args[2:], " ")}
		if args[1] == "--all" {
			return printJSON(out, a.facade.SearchAll(ctx, query))
		}
		return printJSON(out, a.facade.SearchPager(args[1], query).All(ctx))
	case "chapters":
		if len(args) < 3 {
			return fmt.Errorf("usage: sourcekit ext chapters <id> <mangaId>")
		}
		return printJSON(out, a.facade.Chapters(ctx, args[1], args[2]))
	case "pages":
		if len(args) < 4 {
			return fmt.Errorf("usage: sourcekit ext pages <id> <mangaId> <chapterId>")
		}
		details := a.facade.ChapterDetails(ctx, args[1], args[2], args[3])
		if details == nil {
			return fmt.Errorf("no pages for chapter %s", args[3])
		}
		for _, p := range details.Pages {
			fmt.Fprintln(out, p.Locator())
		}
		return nil
	case "unscramble":
		if len(args) < 3 {
			return fmt.Errorf("usage: sourcekit ext unscramble <locator> <out>")
		}
		data := a.facade.DecryptImage(ctx, args[1])
		if len(data) == 0 {
			return fmt.Errorf("could not fetch %s", args[1])
		}
		if err := os.WriteFile(args[2], data, 0o644); err != nil {
			return err
		}
		w, h := imaging.ProbeDimensions(data)
		fmt.Fprintf(out, "wrote %s (%s, %dx%d, %d bytes)\n", args[2], imaging.DetectFormat(data), w, h, len(data))
		return nil
	default:
		return fmt.Errorf("unknown ext subcommand: %s", args[0])
	}
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
