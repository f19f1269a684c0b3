package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/phrazzld/imagery-api/internal/tiling"
)

func newTileCommand() *cli.Command {
	return &cli.Command{
		Name:  "tile",
		Usage: "Split an image file into grid tiles",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "in", Usage: "source image", Required: true},
			&cli.StringFlag{Name: "out", Usage: "output directory", Value: "tiles"},
			&cli.IntFlag{Name: "rows", Usage: "grid rows", Value: 3},
			&cli.IntFlag{Name: "cols", Usage: "grid columns", Value: 3},
			&cli.StringFlag{Name: "mode", Usage: "exact or inset", Value: string(tiling.ModeInset)},
			&cli.FloatFlag{Name: "inset", Usage: "inset percent per interior edge, 0 disables", Value: tiling.DefaultInsetPercent},
			&cli.StringFlag{Name: "indices", Usage: "comma-separated tile indices (default all)"},
		},
		Action: runTile,
	}
}

func runTile(_ context.Context, cmd *cli.Command) error {
	indices, err := parseIndices(cmd.String("indices"))
	if err != nil {
		return err
	}

	opts := tiling.Options{
		Rows:         cmd.Int("rows"),
		Cols:         cmd.Int("cols"),
		Mode:         tiling.Mode(cmd.String("mode")),
		InsetPercent: cmd.Float("inset"),
	}
	tiles, err := tiling.SplitFile(cmd.String("in"), opts, indices, cmd.String("out"))
	if err != nil {
		return err
	}

	printTiles(cmd.Root().Writer, tiles)
	return nil
}

// parseIndices parses a list such as "0, 4,8". An empty string selects
// every tile.
func parseIndices(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	parts := strings.Split(s, ",")
	indices := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("invalid tile index %q: %w", p, err)
		}
		indices = append(indices, n)
	}
	return indices, nil
}

func printTiles(w io.Writer, tiles []tiling.Tile) {
	for _, t := range tiles {
		fmt.Fprintf(w, "%d\t%dx%d+%d+%d\t%s\n", t.Index, t.Width, t.Height, t.X, t.Y, t.Path)
	}
}
