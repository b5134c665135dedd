// Package seed reads and writes requisition lists as YAML, for bulk import
// and export through `reqsync req import|export`.
package seed

import (
	"io"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/teranos/reqsync/errors"
	"github.com/teranos/reqsync/requisition"
)

// Entry is one requisition in a seed file. Assignment state is never
// imported or exported; it belongs to live sessions.
type Entry struct {
	ID                 string `yaml:"id"`
	requisition.Fields `yaml:",inline"`
}

// File is the document layout:
//
//	requisitions:
//	  - id: REQ-1
//	    title: Backend Engineer
//	    client: Acme
//	    slots: 2
//	    status: Open
type File struct {
	Requisitions []Entry `yaml:"requisitions"`
}

// Read parses and validates a seed document. Ids are normalized, statuses
// parsed leniently, and duplicate ids after normalization are rejected.
func Read(r io.Reader) ([]Entry, error) {
	var raw struct {
		Requisitions []struct {
			ID     string `yaml:"id"`
			Title  string `yaml:"title"`
			Client string `yaml:"client"`
			Slots  int    `yaml:"slots"`
			Status string `yaml:"status"`
		} `yaml:"requisitions"`
	}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, errors.Wrap(errors.ErrInvalidRequest, "parse seed file: "+err.Error())
	}

	seen := make(map[string]int, len(raw.Requisitions))
	entries := make([]Entry, 0, len(raw.Requisitions))
	for i, item := range raw.Requisitions {
		id, err := requisition.NormalizeID(item.ID)
		if err != nil {
			return nil, errors.Wrapf(err, "entry %d", i+1)
		}
		if prev, ok := seen[id]; ok {
			return nil, errors.Wrapf(errors.ErrDuplicateID, "entry %d repeats id %s from entry %d", i+1, id, prev)
		}
		seen[id] = i + 1

		fields := requisition.Fields{Title: item.Title, Client: item.Client, Slots: item.Slots}
		if item.Status != "" {
			st, err := requisition.ParseStatus(item.Status)
			if err != nil {
				return nil, errors.Wrapf(err, "entry %d (%s)", i+1, id)
			}
			fields.Status = st
		}
		if err := fields.Validate(); err != nil {
			return nil, errors.Wrapf(err, "entry %d (%s)", i+1, id)
		}
		entries = append(entries, Entry{ID: id, Fields: fields})
	}
	return entries, nil
}

// Write encodes records sorted by id.
func Write(w io.Writer, records []*requisition.Record) error {
	file := File{Requisitions: make([]Entry, 0, len(records))}
	for _, rec := range records {
		file.Requisitions = append(file.Requisitions, Entry{
			ID: rec.ID,
			Fields: requisition.Fields{
				Title:  rec.Title,
				Client: rec.Client,
				Slots:  rec.Slots,
				Status: rec.Status,
			},
		})
	}
	sort.Slice(file.Requisitions, func(i, j int) bool {
		return file.Requisitions[i].ID < file.Requisitions[j].ID
	})

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(file); err != nil {
		return errors.Wrap(err, "encode seed file")
	}
	return enc.Close()
}

// Action is what an import does for one entry
type Action struct {
	ID     string
	Create *requisition.Fields // set for new records
	Patch  *requisition.Patch  // set for existing records that differ
}

// Plan compares entries with the current records and returns the creates
// and patches needed. Entries already matching are skipped.
func Plan(current []*requisition.Record, entries []Entry) []Action {
	byID := make(map[string]*requisition.Record, len(current))
	for _, rec := range current {
		byID[rec.ID] = rec
	}

	var actions []Action
	for _, entry := range entries {
		rec, ok := byID[entry.ID]
		if !ok {
			fields := entry.Fields
			actions = append(actions, Action{ID: entry.ID, Create: &fields})
			continue
		}
		if patch := rec.Diff(entry.Fields); !patch.Empty() {
			actions = append(actions, Action{ID: entry.ID, Patch: &patch})
		}
	}
	return actions
}
