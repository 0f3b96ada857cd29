package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"
)

const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

// render writes v as JSON or YAML, or calls table for the table format.
func render(w io.Writer, format string, v any, table func(tw *tabwriter.Writer)) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	case formatTable, "":
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		table(tw)
		return tw.Flush()
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

// renderList prints one value per line under header in table format.
func renderList(w io.Writer, format, header string, values []string) error {
	if values == nil {
		values = []string{}
	}
	return render(w, format, values, func(tw *tabwriter.Writer) {
		fmt.Fprintln(tw, strings.ToUpper(header))
		for _, v := range values {
			fmt.Fprintln(tw, v)
		}
	})
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
