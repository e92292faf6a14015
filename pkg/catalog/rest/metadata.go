package rest

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/harun/icetop/pkg/catalog"
)

// tableMetadata is the Iceberg table metadata JSON (format v1 and v2).
type tableMetadata struct {
	FormatVersion     int                    `json:"format-version"`
	Location          string                 `json:"location"`
	CurrentSchemaID   *int                   `json:"current-schema-id"`
	Schemas           []schema               `json:"schemas"`
	Schema            *schema                `json:"schema"`
	DefaultSpecID     *int                   `json:"default-spec-id"`
	PartitionSpecs    []partitionSpec        `json:"partition-specs"`
	PartitionSpec     []partitionField       `json:"partition-spec"`
	Properties        map[string]string      `json:"properties"`
	CurrentSnapshotID *int64                 `json:"current-snapshot-id"`
	Snapshots         []snapshot             `json:"snapshots"`
	SnapshotLog       []snapshotLogEntry     `json:"snapshot-log"`
	Refs              map[string]snapshotRef `json:"refs"`
}

type schema struct {
	SchemaID int           `json:"schema-id"`
	Fields   []schemaField `json:"fields"`
}

type schemaField struct {
	ID       int             `json:"id"`
	Name     string          `json:"name"`
	Required bool            `json:"required"`
	Type     json.RawMessage `json:"type"`
	Doc      string          `json:"doc"`
}

type partitionSpec struct {
	SpecID int              `json:"spec-id"`
	Fields []partitionField `json:"fields"`
}

type partitionField struct {
	SourceID  int    `json:"source-id"`
	FieldID   int    `json:"field-id"`
	Name      string `json:"name"`
	Transform string `json:"transform"`
}

type snapshot struct {
	SnapshotID       int64             `json:"snapshot-id"`
	ParentSnapshotID *int64            `json:"parent-snapshot-id"`
	TimestampMs      int64             `json:"timestamp-ms"`
	Summary          map[string]string `json:"summary"`
}

type snapshotLogEntry struct {
	SnapshotID  int64 `json:"snapshot-id"`
	TimestampMs int64 `json:"timestamp-ms"`
}

type snapshotRef struct {
	SnapshotID int64  `json:"snapshot-id"`
	Type       string `json:"type"`
}

func (m *tableMetadata) currentSchema() (*schema, error) {
	if len(m.Schemas) > 0 {
		if m.CurrentSchemaID == nil {
			return &m.Schemas[len(m.Schemas)-1], nil
		}
		for i := range m.Schemas {
			if m.Schemas[i].SchemaID == *m.CurrentSchemaID {
				return &m.Schemas[i], nil
			}
		}
		return nil, fmt.Errorf("current schema %d not found", *m.CurrentSchemaID)
	}
	if m.Schema != nil {
		return m.Schema, nil
	}
	return nil, fmt.Errorf("metadata has no schema")
}

func (m *tableMetadata) defaultSpec() []partitionField {
	if len(m.PartitionSpecs) > 0 {
		if m.DefaultSpecID != nil {
			for _, s := range m.PartitionSpecs {
				if s.SpecID == *m.DefaultSpecID {
					return s.Fields
				}
			}
		}
		return m.PartitionSpecs[0].Fields
	}
	return m.PartitionSpec
}

func (m *tableMetadata) currentSnapshotID() *int64 {
	id := m.CurrentSnapshotID
	if id == nil {
		if main, ok := m.Refs["main"]; ok {
			id = &main.SnapshotID
		}
	}
	// format v1 writers use -1 for "no snapshot"
	if id == nil || *id < 0 {
		return nil
	}
	return id
}

func (m *tableMetadata) toCatalog() (*catalog.TableMetadata, error) {
	sch, err := m.currentSchema()
	if err != nil {
		return nil, err
	}

	fields := make([]catalog.Field, 0, len(sch.Fields))
	for _, f := range sch.Fields {
		typ, err := renderType(f.Type)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
		fields = append(fields, catalog.Field{
			ID:       f.ID,
			Name:     f.Name,
			Type:     typ,
			Required: f.Required,
			Doc:      f.Doc,
		})
	}

	var parts []catalog.PartitionField
	for _, p := range m.defaultSpec() {
		parts = append(parts, catalog.PartitionField{
			SourceID:  p.SourceID,
			FieldID:   p.FieldID,
			Name:      p.Name,
			Transform: p.Transform,
		})
	}

	snaps := make([]catalog.Snapshot, 0, len(m.Snapshots))
	for _, s := range m.Snapshots {
		snaps = append(snaps, catalog.Snapshot{
			SnapshotID:       s.SnapshotID,
			ParentSnapshotID: s.ParentSnapshotID,
			TimestampMs:      s.TimestampMs,
			Summary:          s.Summary,
		})
	}

	props := m.Properties
	if props == nil {
		props = map[string]string{}
	}

	return &catalog.TableMetadata{
		Location:          m.Location,
		SchemaID:          sch.SchemaID,
		Fields:            fields,
		PartitionFields:   parts,
		Properties:        props,
		Snapshots:         snaps,
		CurrentSnapshotID: m.currentSnapshotID(),
	}, nil
}

// renderType prints an Iceberg type the way pyiceberg does: primitives by name,
// nested types as struct<...>, list<...> and map<..., ...>.
func renderType(raw json.RawMessage) (string, error) {
	var prim string
	if err := json.Unmarshal(raw, &prim); err == nil {
		return prim, nil
	}

	var nested struct {
		Type    string          `json:"type"`
		Fields  []schemaField   `json:"fields"`
		Element json.RawMessage `json:"element"`
		Key     json.RawMessage `json:"key"`
		Value   json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(raw, &nested); err != nil {
		return "", fmt.Errorf("invalid type: %w", err)
	}

	switch nested.Type {
	case "struct":
		parts := make([]string, 0, len(nested.Fields))
		for _, f := range nested.Fields {
			t, err := renderType(f.Type)
			if err != nil {
				return "", err
			}
			parts = append(parts, f.Name+": "+t)
		}
		return "struct<" + strings.Join(parts, ", ") + ">", nil
	case "list":
		t, err := renderType(nested.Element)
		if err != nil {
			return "", err
		}
		return "list<" + t + ">", nil
	case "map":
		k, err := renderType(nested.Key)
		if err != nil {
			return "", err
		}
		v, err := renderType(nested.Value)
		if err != nil {
			return "", err
		}
		return "map<" + k + ", " + v + ">", nil
	default:
		return "", fmt.Errorf("unknown nested type %q", nested.Type)
	}
}
