package services

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// Events recorded by the directory reconciler.
const (
	EventUpdateOrCreateAccount  = "update_or_create_account"
	EventSyncAccountAliases     = "sync_workspace_account_aliases"
	EventDeleteSpuriousAccounts = "delete_spurious_workspace_accounts"

	EventUpdateOrCreateGroup  = "update_or_create_group"
	EventSyncGroupAliases     = "sync_workspace_group_aliases"
	EventDeleteSpuriousGroups = "delete_spurious_workspace_groups"

	EventCreateDirectoryGroup = "create_directory_group"
	EventUpdateGroupMetadata  = "update_group_metadata"
	EventUpdateGroupSettings  = "update_group_settings"
	EventSyncGroupMembers     = "sync_group_members"
)

// SyncResult is the outcome of one reconciliation step.
type SyncResult struct {
	Event   string   `json:"event"`
	Target  string   `json:"target"`
	Created []string `json:"created,omitempty"`
	Updated []string `json:"updated,omitempty"`
	Deleted []string `json:"deleted,omitempty"`
	Skipped []string `json:"skipped,omitempty"`
	DryRun  bool     `json:"dry_run,omitempty"`
}

// Empty reports whether the step changed nothing.
func (r SyncResult) Empty() bool {
	return len(r.Created)+len(r.Updated)+len(r.Deleted)+len(r.Skipped) == 0
}

func (r SyncResult) String() string {
	var parts []string
	for _, part := range []struct {
		label  string
		values []string
	}{
		{"created", r.Created},
		{"updated", r.Updated},
		{"deleted", r.Deleted},
		{"skipped", r.Skipped},
	} {
		if len(part.values) > 0 {
			parts = append(parts, fmt.Sprintf("%s=[%s]", part.label, strings.Join(part.values, ", ")))
		}
	}
	prefix := ""
	if r.DryRun {
		prefix = "(dry run) "
	}
	return fmt.Sprintf("%s%s %s: %s", prefix, r.Event, r.Target, strings.Join(parts, " "))
}

// SyncReport collects the non-empty results of a run.
type SyncReport struct {
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Results    []SyncResult `json:"results"`
}

// Add appends result unless it changed nothing.
func (r *SyncReport) Add(result SyncResult) {
	if result.Empty() {
		return
	}
	r.Results = append(r.Results, result)
}

// Events returns the results recorded for event.
func (r SyncReport) Events(event string) []SyncResult {
	var out []SyncResult
	for _, result := range r.Results {
		if result.Event == event {
			out = append(out, result)
		}
	}
	return out
}

// Summary counts changes per event, for audit metadata.
func (r SyncReport) Summary() map[string]any {
	summary := make(map[string]any)
	for _, result := range r.Results {
		counts, _ := summary[result.Event].(map[string]int)
		if counts == nil {
			counts = make(map[string]int)
			summary[result.Event] = counts
		}
		counts["created"] += len(result.Created)
		counts["updated"] += len(result.Updated)
		counts["deleted"] += len(result.Deleted)
		counts["skipped"] += len(result.Skipped)
	}
	return summary
}

// WriteTo prints one line per result.
func (r SyncReport) WriteTo(w io.Writer) (int64, error) {
	var total int64
	if len(r.Results) == 0 {
		n, err := fmt.Fprintln(w, "no changes")
		return int64(n), err
	}
	for _, result := range r.Results {
		n, err := fmt.Fprintln(w, result.String())
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (r SyncReport) String() string {
	var b strings.Builder
	_, _ = r.WriteTo(&b)
	return strings.TrimSuffix(b.String(), "\n")
}
