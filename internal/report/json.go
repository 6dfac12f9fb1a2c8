package report

import (
	"github.com/KaramelBytes/cleanloom/internal/eda"
	"github.com/KaramelBytes/cleanloom/internal/schema"
	"github.com/KaramelBytes/cleanloom/internal/session"
	"github.com/KaramelBytes/cleanloom/internal/utils"
)

// Bundle is the machine-readable analysis of one dataset.
type Bundle struct {
	Name   string               `json:"name,omitempty"`
	Rows   int                  `json:"rows"`
	Schema schema.DatasetSchema `json:"schema"`
	EDA    eda.Summary          `json:"eda"`
	Stats  session.Stats        `json:"stats"`
}

// NewBundle collects the analysis parts of a snapshot.
func NewBundle(snap *session.Snapshot) Bundle {
	b := Bundle{Name: snap.Source, Schema: snap.Schema, EDA: snap.EDA, Stats: snap.Stats}
	if snap.Dataset != nil {
		b.Rows = snap.Dataset.Len()
		if snap.Dataset.Name != "" {
			b.Name = snap.Dataset.Name
		}
	}
	return b
}

// JSON encodes the snapshot bundle with indentation.
func JSON(snap *session.Snapshot) ([]byte, error) {
	return utils.PrettyJSON(NewBundle(snap))
}
