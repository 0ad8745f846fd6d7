package cmd

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"github.com/circlesfundme/cfmctl/internal/apiclient"
	"github.com/circlesfundme/cfmctl/internal/output"
	"github.com/circlesfundme/cfmctl/internal/session"
)

// maxColumns keeps record tables readable in a terminal.
const maxColumns = 6

// render prints a decoded JSON value as a key/value table, a record table or JSON.
func (a *app) render(title string, v any) error {
	if a.jsonOut {
		return a.printer.JSON(v)
	}
	if title != "" {
		a.printer.Header(title)
	}

	switch x := v.(type) {
	case map[string]any:
		return output.KeyValues(a.printer.Out(), x)
	case []any:
		if len(x) == 0 {
			a.printer.Print("%s", a.printer.Dim("(none)"))
			return nil
		}
		return a.renderRecords(x)
	default:
		a.printer.Print("%s", output.Cell(x))
		return nil
	}
}

func (a *app) renderRecords(records []any) error {
	columns := recordColumns(records)
	if len(columns) == 0 {
		for _, r := range records {
			a.printer.Print("%s", output.Cell(r))
		}
		return nil
	}

	t := output.NewTable(a.printer.Out(), columns)
	for _, r := range records {
		m, _ := r.(map[string]any)
		row := make([]string, len(columns))
		for i, c := range columns {
			cell := output.Cell(m[c])
			if c == "status" {
				cell = a.printer.StatusBadge(cell)
			}
			row[i] = cell
		}
		t.AddRow(row...)
	}
	return t.Render()
}

// recordColumns returns the sorted keys of the first object record, "id" first.
func recordColumns(records []any) []string {
	for _, r := range records {
		m, ok := r.(map[string]any)
		if !ok {
			continue
		}
		keys := slices.Sorted(maps.Keys(m))
		if i := slices.Index(keys, "id"); i > 0 {
			keys = append([]string{"id"}, slices.Delete(keys, i, i+1)...)
		}
		if len(keys) > maxColumns {
			keys = keys[:maxColumns]
		}
		return keys
	}
	return nil
}

// dataOf returns the "data" field of a response, or the whole body when absent.
func dataOf(resp *apiclient.Response) any {
	if d, ok := resp.Data(); ok {
		return d
	}
	return resp.Body
}

// fragmentOf converts the response "data" object into a session fragment.
func fragmentOf(resp *apiclient.Response) (session.Fragment, error) {
	data, ok := resp.Data()
	if !ok {
		return nil, fmt.Errorf("response has no data")
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return session.ParseFragment(raw)
}
