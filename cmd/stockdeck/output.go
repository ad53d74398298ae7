package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/waabox/stockdeck/internal/domain"
)

// Output formats accepted by -o.
const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

func checkFormat(format string) error {
	switch format {
	case formatTable, formatJSON, formatYAML:
		return nil
	}
	return fmt.Errorf("unknown output format %q (want table, json or yaml)", format)
}

// encode writes v as indented JSON or as YAML. YAML keys follow the JSON field names.
func encode(w io.Writer, format string, v any) error {
	switch format {
	case formatYAML:
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		var generic any
		if err := json.Unmarshal(b, &generic); err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(generic); err != nil {
			return err
		}
		return enc.Close()
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
}

// writeRecords renders records in format. Tables show every column, "id" first.
func writeRecords(w io.Writer, format string, records []domain.Record) error {
	if format != formatTable {
		if records == nil {
			records = []domain.Record{}
		}
		return encode(w, format, records)
	}
	if len(records) == 0 {
		_, err := fmt.Fprintln(w, "No records found.")
		return err
	}
	cols := domain.Columns(records)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	header := make([]string, len(cols))
	for i, c := range cols {
		header[i] = strings.ToUpper(c)
	}
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	for _, r := range records {
		row := make([]string, len(cols))
		for i, c := range cols {
			row[i] = cell(r.Value(c))
		}
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}

// writeRecord renders a single record; as a table it is one "field value" line per field.
func writeRecord(w io.Writer, format string, rec domain.Record) error {
	if format != formatTable {
		return encode(w, format, rec)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, c := range domain.Columns([]domain.Record{rec}) {
		fmt.Fprintf(tw, "%s\t%s\n", c, cell(rec.Value(c)))
	}
	return tw.Flush()
}

func writeProfile(w io.Writer, format string, p domain.Profile) error {
	if format != formatTable {
		return encode(w, format, p)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Name:\t%s\n", p.DisplayName())
	fmt.Fprintf(tw, "Email:\t%s\n", p.Email)
	if p.Role != "" {
		fmt.Fprintf(tw, "Role:\t%s\n", p.Role)
	}
	if p.Avatar != "" {
		fmt.Fprintf(tw, "Profile image:\t%s\n", p.Avatar)
	}
	return tw.Flush()
}

// cell flattens a value onto one line so it cannot break the table.
func cell(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return "-"
	}
	return s
}

// prompt writes label to w and reads one line from in.
func prompt(in *bufio.Reader, w io.Writer, label string) (string, error) {
	fmt.Fprint(w, label)
	line, err := in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", fmt.Errorf("reading %s: %w", strings.TrimSuffix(strings.ToLower(label), ": "), err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// promptPassword reads the password without echo when raw is a terminal, and
// falls back to a plain line otherwise.
func promptPassword(in *bufio.Reader, raw io.Reader, w io.Writer) (string, error) {
	f, ok := raw.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return prompt(in, w, "Password: ")
	}
	fmt.Fprint(w, "Password: ")
	b, err := term.ReadPassword(int(f.Fd()))
	fmt.Fprintln(w)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(b), nil
}
