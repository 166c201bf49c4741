package storage

import (
	"encoding/json"
	"io"

	"github.com/san-kum/kitesim/internal/dynamo"
)

type ExportData struct {
	Run     RunMetadata     `json:"run"`
	Records []dynamo.Record `json:"records"`
}

// ExportJSON writes the metadata and the records as one JSON document.
func ExportJSON(w io.Writer, meta RunMetadata, records []dynamo.Record) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(ExportData{Run: meta, Records: records})
}
