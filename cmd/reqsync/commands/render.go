package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pterm/pterm"

	"github.com/teranos/reqsync/presence"
	"github.com/teranos/reqsync/requisition"
	"github.com/teranos/reqsync/sym"
)

// recordTable renders records as a pterm table. editing may be nil.
func recordTable(records []*requisition.Record, editing func(id string) (presence.Marker, bool)) pterm.TableData {
	data := pterm.TableData{{"ID", "Title", "Client", "Slots", "Status", sym.Work + " Working", "Updated"}}
	for _, rec := range records {
		id := rec.ID
		if editing != nil {
			if m, ok := editing(rec.ID); ok {
				id = fmt.Sprintf("%s %s %s:%s", rec.ID, sym.Presence, m.Recruiter, m.Field)
			}
		}
		data = append(data, []string{
			id,
			rec.Title,
			rec.Client,
			fmt.Sprint(rec.Slots),
			statusLabel(rec),
			strings.Join(rec.AssignedRecruiters, ", "),
			rec.UpdatedAt.Local().Format(time.DateTime),
		})
	}
	return data
}

func statusLabel(rec *requisition.Record) string {
	switch {
	case !rec.Workable() && rec.Status == requisition.StatusOpen:
		return pterm.Gray(string(rec.Status))
	case rec.Status == requisition.StatusOpen:
		return pterm.Green(string(rec.Status))
	default:
		return pterm.Yellow(string(rec.Status))
	}
}

// printRecord prints one record as key/value lines
func printRecord(w io.Writer, rec *requisition.Record) {
	fmt.Fprintf(w, "%s %s\n", sym.Req, rec.ID)
	fmt.Fprintf(w, "  Title:    %s\n", rec.Title)
	fmt.Fprintf(w, "  Client:   %s\n", rec.Client)
	fmt.Fprintf(w, "  Slots:    %d\n", rec.Slots)
	fmt.Fprintf(w, "  Status:   %s\n", rec.Status)
	if len(rec.AssignedRecruiters) == 0 {
		fmt.Fprintf(w, "  Working:  nobody\n")
	}
	for _, name := range rec.AssignedRecruiters {
		fmt.Fprintf(w, "  Working:  %s since %s\n", name, rec.WorkingTimes[name].Local().Format(time.DateTime))
	}
	fmt.Fprintf(w, "  Version:  %d (updated %s)\n", rec.Version, rec.UpdatedAt.Local().Format(time.DateTime))
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
