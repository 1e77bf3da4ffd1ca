package codec

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"bluescan/internal/observation"
)

// YAMLExporter writes the summary as YAML.
type YAMLExporter struct{}

// NewYAMLExporter creates a new YAML exporter.
func NewYAMLExporter() *YAMLExporter {
	return &YAMLExporter{}
}

// Format returns the exporter format identifier.
func (e *YAMLExporter) Format() string {
	return "yaml"
}

// Export writes the record list to w.
func (e *YAMLExporter) Export(recs []*observation.Record, w io.Writer) error {
	encoder := yaml.NewEncoder(w)
	defer encoder.Close()

	if err := encoder.Encode(toSummary(recs)); err != nil {
		return fmt.Errorf("failed to encode YAML: %w", err)
	}
	return nil
}
