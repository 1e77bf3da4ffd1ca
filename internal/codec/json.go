package codec

import (
	"encoding/json"
	"fmt"
	"io"

	"bluescan/internal/observation"
)

// JSONExporter writes the summary as indented JSON.
type JSONExporter struct{}

// NewJSONExporter creates a new JSON exporter.
func NewJSONExporter() *JSONExporter {
	return &JSONExporter{}
}

// Format returns the exporter format identifier.
func (e *JSONExporter) Format() string {
	return "json"
}

// Export writes the record list to w.
func (e *JSONExporter) Export(recs []*observation.Record, w io.Writer) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")

	if err := encoder.Encode(toSummary(recs)); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}
