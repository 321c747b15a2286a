package status

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
)

// Show renders a snapshot mapping as an aligned two-column table under a title.
func Show(w io.Writer, name string, values map[string]any) error {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	if _, err := fmt.Fprintf(w, "== %s (%d) ==\n", name, len(keys)); err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, k := range keys {
		if _, err := fmt.Fprintf(tw, "%s\t%s\n", k, Format(values[k])); err != nil {
			return err
		}
	}
	return tw.Flush()
}

// Format renders one attribute value for display.
func Format(v any) string {
	switch x := v.(type) {
	case nil:
		return "-"
	case []byte:
		return fmt.Sprintf("<%s>", humanize.Bytes(uint64(len(x))))
	case []string:
		return "{" + strings.Join(x, ", ") + "}"
	case int64:
		return humanize.Comma(x)
	case int:
		return humanize.Comma(int64(x))
	case uint64:
		return humanize.Comma(int64(x))
	case time.Time:
		if x.IsZero() {
			return "-"
		}
		return humanize.Time(x)
	case time.Duration:
		return x.String()
	case bool:
		if x {
			return "yes"
		}
		return "no"
	case string:
		if x == "" {
			return `""`
		}
		return x
	default:
		return fmt.Sprint(x)
	}
}
