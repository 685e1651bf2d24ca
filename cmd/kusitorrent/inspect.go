package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"

	"github.com/kusitorrent/kusitorrent/internal/downloader"
	"github.com/kusitorrent/kusitorrent/internal/environment"
	"github.com/kusitorrent/kusitorrent/internal/utils"
)

// runInspect prints the contents of the first descriptor without starting a
// session.
func runInspect(w io.Writer, args []string, asJSON bool) error {
	files, err := environment.InputFiles(args)
	if err != nil {
		return err
	}

	s, err := downloader.Inspect(files[0])
	if err != nil {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Name:\t%s\n", s.Name)
	fmt.Fprintf(tw, "Info hash:\t%s\n", s.InfoHash)
	fmt.Fprintf(tw, "Pieces:\t%s x %s\n", humanize.Comma(int64(s.Pieces)), utils.HumanBytes(s.PieceLength))
	fmt.Fprintf(tw, "Total size:\t%s\n", utils.HumanBytes(s.TotalSize))
	if len(s.Trackers) > 0 {
		fmt.Fprintf(tw, "Trackers:\t%s\n", strings.Join(s.Trackers, ", "))
	}
	if s.Comment != "" {
		fmt.Fprintf(tw, "Comment:\t%s\n", s.Comment)
	}
	fmt.Fprintf(tw, "Files:\t%d\n", len(s.Files))
	for _, f := range s.Files {
		fmt.Fprintf(tw, "\t%s\t%s\n", utils.HumanBytes(f.Size), f.Path)
	}

	return tw.Flush()
}
