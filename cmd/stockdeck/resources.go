package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/waabox/stockdeck/internal/domain"
)

func (a *app) resourcesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resources",
		Short: "List the known backend resources",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tGROUP\tPATH")
			for _, r := range a.resources.Registry().All() {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Name, r.Group, r.Path)
			}
			return tw.Flush()
		},
	}
}

func (a *app) listCmd() *cobra.Command {
	var (
		format  string
		search  string
		page    int
		perPage int
		filters []string
	)
	cmd := &cobra.Command{
		Use:   "list <resource>",
		Short: "List the records of a resource",
		Long: `List the records of a resource by name (see 'stockdeck resources') or by path.

Examples:
  stockdeck list items --search bolt
  stockdeck list grn --query code=GRN-0042 -o json
  stockdeck list procurement/vendors/ --page 2 --per-page 20`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			query, err := parseQuery(filters)
			if err != nil {
				return err
			}
			records, err := a.resources.List(cmd.Context(), args[0], query)
			if err != nil {
				return err
			}
			records = domain.Filter(records, search)
			if page > 0 {
				if perPage <= 0 {
					perPage = a.cfg.PageSizeOrDefault()
				}
				var total int
				records, total = domain.Page(records, page, perPage)
				if page > total {
					page = total
				}
				fmt.Fprintf(a.errOut, "page %d/%d\n", page, total)
			}
			return writeRecords(a.out, format, records)
		},
	}
	cmd.Flags().StringVarP(&format, "output", "o", formatTable, "output format: table, json or yaml")
	cmd.Flags().StringVar(&search, "search", "", "only show records with a text field containing this")
	cmd.Flags().IntVar(&page, "page", 0, "show only this page (1-based); 0 shows everything")
	cmd.Flags().IntVar(&perPage, "per-page", 0, "page size (defaults to page_size from the config)")
	cmd.Flags().StringArrayVar(&filters, "query", nil, "query parameter sent to the backend as key=value (repeatable)")
	return cmd
}

func (a *app) getCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "get <resource> <id> | get <path>",
		Short: "Show one record, or the raw answer of any API path",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			if len(args) == 2 {
				rec, err := a.resources.Get(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				return writeRecord(a.out, format, rec)
			}
			resp, err := a.client.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			var body any
			if err := resp.Decode(&body); err != nil {
				return err
			}
			if format == formatTable {
				format = formatJSON
			}
			return encode(a.out, format, body)
		},
	}
	cmd.Flags().StringVarP(&format, "output", "o", formatTable, "output format: table, json or yaml")
	return cmd
}

func (a *app) createCmd() *cobra.Command {
	var format, data string
	cmd := &cobra.Command{
		Use:   "create <resource>",
		Short: "Create a record",
		Long: `Create a record from a JSON object.

--data takes the object inline, '@file' to read it from a file, or '-' for stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			fields, err := a.readFields(data)
			if err != nil {
				return err
			}
			rec, err := a.resources.Create(cmd.Context(), args[0], fields)
			if err != nil {
				return err
			}
			return writeRecord(a.out, format, rec)
		},
	}
	cmd.Flags().StringVarP(&format, "output", "o", formatTable, "output format: table, json or yaml")
	cmd.Flags().StringVar(&data, "data", "", "JSON object with the record fields")
	_ = cmd.MarkFlagRequired("data")
	return cmd
}

func (a *app) updateCmd() *cobra.Command {
	var format, data string
	cmd := &cobra.Command{
		Use:   "update <resource> <id>",
		Short: "Change fields of a record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			fields, err := a.readFields(data)
			if err != nil {
				return err
			}
			rec, err := a.resources.Update(cmd.Context(), args[0], args[1], fields)
			if err != nil {
				return err
			}
			return writeRecord(a.out, format, rec)
		},
	}
	cmd.Flags().StringVarP(&format, "output", "o", formatTable, "output format: table, json or yaml")
	cmd.Flags().StringVar(&data, "data", "", "JSON object with the fields to change")
	_ = cmd.MarkFlagRequired("data")
	return cmd
}

func (a *app) deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <resource> <id>",
		Short: "Delete a record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.resources.Delete(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Deleted %s %s\n", args[0], args[1])
			return nil
		},
	}
}

// readFields decodes --data: inline JSON, @file, or - for stdin.
func (a *app) readFields(data string) (map[string]any, error) {
	var raw []byte
	switch {
	case data == "-":
		b, err := io.ReadAll(a.in)
		if err != nil {
			return nil, fmt.Errorf("reading stdin: %w", err)
		}
		raw = b
	case strings.HasPrefix(data, "@"):
		b, err := os.ReadFile(strings.TrimPrefix(data, "@"))
		if err != nil {
			return nil, err
		}
		raw = b
	default:
		raw = []byte(data)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("parsing --data: %w", err)
	}
	return fields, nil
}

func parseQuery(pairs []string) (url.Values, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	q := url.Values{}
	for _, p := range pairs {
		key, value, ok := strings.Cut(p, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --query %q, want key=value", p)
		}
		q.Add(key, value)
	}
	return q, nil
}
