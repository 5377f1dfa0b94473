package history

import (
	"fmt"
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"
)

const separator = "--------------------------------------------"

// Render writes one table per build.
func Render(w io.Writer, builds []Build, withCount bool) error {
	for _, b := range builds {
		fmt.Fprintf(w, "%s\nBuild No %d\n%s\n", separator, b.BuildNo, separator)

		table := tablewriter.NewWriter(w)

		header := []any{"Name", "Time (ms)"}
		if withCount {
			header = append(header, "Count")
		}
		header = append(header, "Comparison")
		table.Header(header...)

		for _, l := range b.Loaders {
			row := []any{displayName(l.Name), fmt.Sprint(l.Time)}
			if withCount {
				row = append(row, fmt.Sprint(l.Count))
			}
			row = append(row, l.Comparison)

			if err := table.Append(row...); err != nil {
				return fmt.Errorf("rendering build %d: %w", b.BuildNo, err)
			}
		}

		if err := table.Render(); err != nil {
			return fmt.Errorf("rendering build %d: %w", b.BuildNo, err)
		}
	}

	return nil
}

func displayName(name string) string {
	if strings.TrimSpace(name) == "" {
		return "(no loaders)"
	}

	return name
}
