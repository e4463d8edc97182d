package gormstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/yungbote/coursestore-backend/internal/modulestore/docstore"
)

func documentToRow(d *docstore.Document, now time.Time) (*BlockDocument, error) {
	data, err := marshalJSON(d.Definition.Data, "{}")
	if err != nil {
		return nil, fmt.Errorf("encode definition.data of %s: %w", d.ID, err)
	}
	children := d.Definition.Children
	if children == nil {
		children = []string{}
	}
	kids, err := json.Marshal(children)
	if err != nil {
		return nil, fmt.Errorf("encode definition.children of %s: %w", d.ID, err)
	}
	meta, err := marshalJSON(d.Metadata, "{}")
	if err != nil {
		return nil, fmt.Errorf("encode metadata of %s: %w", d.ID, err)
	}
	tag := d.ID.Tag
	if tag == "" {
		tag = docstore.Tag
	}
	return &BlockDocument{
		Org:                d.ID.Org,
		Course:             d.ID.Course,
		Category:           d.ID.Category,
		Name:               d.ID.Name,
		Revision:           d.ID.Revision,
		Tag:                tag,
		DefinitionData:     data,
		DefinitionChildren: kids,
		Metadata:           meta,
		EditedOn:           utc(d.EditInfo.EditedOn),
		EditedBy:           d.EditInfo.EditedBy,
		SubtreeEditedOn:    utc(d.EditInfo.SubtreeEditedOn),
		SubtreeEditedBy:    d.EditInfo.SubtreeEditedBy,
		PublishedDate:      utc(d.EditInfo.PublishedDate),
		PublishedBy:        d.EditInfo.PublishedBy,
		UpdatedAt:          now,
	}, nil
}

func rowToDocument(row *BlockDocument) (*docstore.Document, error) {
	d := &docstore.Document{
		ID: docstore.DocID{
			Tag:      row.Tag,
			Org:      row.Org,
			Course:   row.Course,
			Category: row.Category,
			Name:     row.Name,
			Revision: row.Revision,
		},
		Definition: docstore.Definition{Data: map[string]any{}, Children: []string{}},
		Metadata:   map[string]any{},
		EditInfo: docstore.EditInfo{
			EditedOn:        utc(row.EditedOn),
			EditedBy:        row.EditedBy,
			SubtreeEditedOn: utc(row.SubtreeEditedOn),
			SubtreeEditedBy: row.SubtreeEditedBy,
			PublishedDate:   utc(row.PublishedDate),
			PublishedBy:     row.PublishedBy,
		},
	}
	if len(row.DefinitionData) > 0 {
		if err := json.Unmarshal(row.DefinitionData, &d.Definition.Data); err != nil {
			return nil, fmt.Errorf("decode definition.data of %s: %w", d.ID, err)
		}
	}
	if len(row.DefinitionChildren) > 0 {
		if err := json.Unmarshal(row.DefinitionChildren, &d.Definition.Children); err != nil {
			return nil, fmt.Errorf("decode definition.children of %s: %w", d.ID, err)
		}
	}
	if len(row.Metadata) > 0 {
		if err := json.Unmarshal(row.Metadata, &d.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata of %s: %w", d.ID, err)
		}
	}
	if d.Definition.Data == nil {
		d.Definition.Data = map[string]any{}
	}
	if d.Metadata == nil {
		d.Metadata = map[string]any{}
	}
	if d.Definition.Children == nil {
		d.Definition.Children = []string{}
	}
	return d, nil
}

func rowsToDocuments(rows []BlockDocument) ([]*docstore.Document, error) {
	out := make([]*docstore.Document, 0, len(rows))
	for i := range rows {
		d, err := rowToDocument(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func marshalJSON(m map[string]any, empty string) ([]byte, error) {
	if len(m) == 0 {
		return []byte(empty), nil
	}
	return json.Marshal(m)
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
