package storage

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/meltforce/rehabreps/internal/models"
)

// TestBuildSessionQueryUserOnly verifies the minimal query filters by user.
func TestBuildSessionQueryUserOnly(t *testing.T) {
	query, args := buildSessionQuery(models.SessionQuery{UserID: 7})
	if !strings.HasSuffix(query, "WHERE user_id = $1 ORDER BY started_at DESC") {
		t.Errorf("query = %q", query)
	}
	if diff := cmp.Diff([]any{7}, args); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}
}

// TestBuildSessionQueryAllFilters verifies placeholders are numbered in
// argument order.
func TestBuildSessionQueryAllFilters(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 7)
	query, args := buildSessionQuery(models.SessionQuery{
		UserID: 1, Start: start, End: end, Exercise: "bicep_curl", Limit: 20,
	})

	for _, want := range []string{
		"started_at >= $2",
		"started_at < $3",
		"exercise = $4",
		"LIMIT $5",
	} {
		if !strings.Contains(query, want) {
			t.Errorf("query lacks %q: %s", want, query)
		}
	}
	if diff := cmp.Diff([]any{1, start, end, "bicep_curl", 20}, args); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}
}

// TestBuildSessionQuerySkipsZeroFilters verifies unset filters add no
// placeholders.
func TestBuildSessionQuerySkipsZeroFilters(t *testing.T) {
	query, args := buildSessionQuery(models.SessionQuery{UserID: 1, Exercise: "neck_flexion"})
	if !strings.Contains(query, "exercise = $2") || strings.Contains(query, "LIMIT") {
		t.Errorf("query = %q", query)
	}
	if len(args) != 2 {
		t.Errorf("args = %v, want 2", args)
	}
}
