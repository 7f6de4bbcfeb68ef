package export

import (
	"context"
	"encoding/json"
	"io"

	"mercator-hq/sentinel/pkg/audit"
)

// JSONExporter exports audit entries as a JSON array.
type JSONExporter struct {
	// Pretty enables indentation.
	Pretty bool
}

// NewJSONExporter creates a new JSON exporter.
func NewJSONExporter(pretty bool) *JSONExporter {
	return &JSONExporter{Pretty: pretty}
}

// Export writes entries to w as a single JSON array. An empty slice is
// written as [].
func (x *JSONExporter) Export(ctx context.Context, entries []*audit.Entry, w io.Writer) error {
	if entries == nil {
		entries = []*audit.Entry{}
	}
	data, err := x.marshal(entries, "")
	if err != nil {
		return audit.NewExportError("json", err)
	}
	if _, err := w.Write(data); err != nil {
		return audit.NewExportError("json", err)
	}
	return nil
}

// ExportStream writes entries received on ch as a JSON array, one element
// at a time, until ch is closed or ctx is done.
func (x *JSONExporter) ExportStream(ctx context.Context, ch <-chan *audit.Entry, w io.Writer) error {
	if _, err := io.WriteString(w, "["); err != nil {
		return audit.NewExportError("json", err)
	}

	first := true
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case e, ok := <-ch:
			if !ok {
				if _, err := io.WriteString(w, "]"); err != nil {
					return audit.NewExportError("json", err)
				}
				return nil
			}

			if !first {
				sep := ","
				if x.Pretty {
					sep = ",\n"
				}
				if _, err := io.WriteString(w, sep); err != nil {
					return audit.NewExportError("json", err)
				}
			}
			first = false

			data, err := x.marshal(e, "  ")
			if err != nil {
				return audit.NewExportError("json", err)
			}
			if _, err := w.Write(data); err != nil {
				return audit.NewExportError("json", err)
			}
		}
	}
}

func (x *JSONExporter) marshal(v any, prefix string) ([]byte, error) {
	if x.Pretty {
		return json.MarshalIndent(v, prefix, "  ")
	}
	return json.Marshal(v)
}
