package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
)

// printer renders either a table or the raw value as indented JSON.
type printer struct {
	format string
	out    io.Writer
}

func (c *cli) printer() *printer {
	return &printer{format: c.output, out: os.Stdout}
}

func (p *printer) print(value any, header []string, rows [][]string) error {
	if p.format == "json" {
		enc := json.NewEncoder(p.out)
		enc.SetIndent("", "  ")
		return enc.Encode(value)
	}
	tw := tabwriter.NewWriter(p.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}

func (p *printer) message(format string, args ...any) {
	if p.format == "json" {
		_ = json.NewEncoder(p.out).Encode(map[string]string{"message": fmt.Sprintf(format, args...)})
		return
	}
	fmt.Fprintf(p.out, format+"\n", args...)
}

func orDash(v string) string {
	if strings.TrimSpace(v) == "" {
		return "-"
	}
	return v
}

func hoursText(h float64) string {
	return fmt.Sprintf("%.2f", h)
}
