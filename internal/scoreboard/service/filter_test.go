package service_test

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"ctfboard/internal/game/model"
	"ctfboard/internal/scoreboard/service"
	appErr "ctfboard/pkg/errors"
)

var t0 = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

func sampleSnapshot() *model.ScoreboardSnapshot {
	return &model.ScoreboardSnapshot{
		GameID:  1,
		Version: 42,
		Challenges: map[string][]model.ChallengeInfo{
			"web":    {{ID: 1, Title: "Foo Login", Category: "web", Score: 100}, {ID: 2, Title: "Admin Panel", Category: "web", Score: 200}},
			"crypto": {{ID: 3, Title: "RSA Foo", Category: "crypto", Score: 300}},
		},
		Items: []model.ScoreboardItem{
			{TeamID: 1, TeamName: "A", Organization: "Public", Score: 600, Rank: 1, OrganizationRank: 1, SolvedChallenges: []model.ChallengeItem{
				{ID: 1, Score: 100, SubmitTimeUtc: t0.Add(1 * time.Minute)},
				{ID: 2, Score: 200, SubmitTimeUtc: t0.Add(2 * time.Minute)},
				{ID: 3, Score: 300, SubmitTimeUtc: t0.Add(30 * time.Minute)},
			}},
			{TeamID: 2, TeamName: "B", Organization: "School", Score: 500, Rank: 2, OrganizationRank: 1, SolvedChallenges: []model.ChallengeItem{
				{ID: 2, Score: 200, SubmitTimeUtc: t0.Add(3 * time.Minute)},
				{ID: 3, Score: 300, SubmitTimeUtc: t0.Add(4 * time.Minute)},
			}},
			{TeamID: 3, TeamName: "C", Organization: "Public", Score: 100, Rank: 3, OrganizationRank: 2, SolvedChallenges: []model.ChallengeItem{
				{ID: 1, Score: 100, SubmitTimeUtc: t0.Add(5 * time.Minute)},
			}},
			{TeamID: 4, TeamName: "D", Score: 0, Rank: 4},
		},
	}
}

func teamOrder(view *service.FilteredView) []int64 {
	out := make([]int64, 0, len(view.Items))
	for _, item := range view.Items {
		out = append(out, item.TeamID)
	}
	return out
}

func checkDenseRanks(t *testing.T, view *service.FilteredView) {
	t.Helper()
	orgNext := map[string]int{}
	for i, item := range view.Items {
		if item.Rank != i+1 {
			t.Fatalf("rank of team %d = %d, want %d", item.TeamID, item.Rank, i+1)
		}
		if item.Organization == "" {
			continue
		}
		orgNext[item.Organization]++
		if item.OrganizationRank != orgNext[item.Organization] {
			t.Fatalf("org rank of team %d = %d, want %d", item.TeamID, item.OrganizationRank, orgNext[item.Organization])
		}
	}
}

func TestFilterSingleChallengeExample(t *testing.T) {
	t.Parallel()
	snapshot := &model.ScoreboardSnapshot{
		Challenges: map[string][]model.ChallengeInfo{"web": {{ID: 1, Title: "Foo", Category: "web", Score: 100}}},
		Items: []model.ScoreboardItem{{TeamID: 1, TeamName: "A", Score: 100, SolvedChallenges: []model.ChallengeItem{{ID: 1, Score: 100}}}},
	}

	view, err := service.Filter(snapshot, service.FilterOptions{Organization: "all", TitlePattern: "Foo"})
	if err != nil {
		t.Fatalf("filter failed: %v", err)
	}
	if view.Items[0].Score != 100 || view.Items[0].Rank != 1 {
		t.Fatalf("unexpected item %+v", view.Items[0])
	}

	view, err = service.Filter(snapshot, service.FilterOptions{Organization: "all", TitlePattern: "bar"})
	if err != nil {
		t.Fatalf("filter failed: %v", err)
	}
	if len(view.Challenges) != 0 {
		t.Fatalf("expected empty challenge set, got %+v", view.Challenges)
	}
	if view.Items[0].Score != 0 || view.Items[0].Rank != 1 || view.Items[0].SolvedCount != 0 {
		t.Fatalf("unexpected item %+v", view.Items[0])
	}
}

func TestFilterOrganization(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		org  string
		want []int64
	}{
		{name: "all", org: "all", want: []int64{1, 2, 3, 4}},
		{name: "empty-means-all", org: "", want: []int64{1, 2, 3, 4}},
		{name: "exclude-public", org: service.OrganizationNoPublic, want: []int64{2, 4}},
		{name: "exact", org: "Public", want: []int64{1, 3}},
		{name: "unknown", org: "Nobody", want: []int64{}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			view, err := service.Filter(sampleSnapshot(), service.FilterOptions{Organization: tt.org, TieBreak: service.TieBreakSubmissionTime})
			if err != nil {
				t.Fatalf("filter failed: %v", err)
			}
			if got := teamOrder(view); !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
			checkDenseRanks(t, view)
			if len(view.Challenges) != 2 {
				t.Fatalf("expected unfiltered challenges, got %d categories", len(view.Challenges))
			}
		})
	}
}

func TestFilterCustomPublicLabel(t *testing.T) {
	t.Parallel()
	view, err := service.Filter(sampleSnapshot(), service.FilterOptions{Organization: service.OrganizationNoPublic, PublicLabel: "School"})
	if err != nil {
		t.Fatalf("filter failed: %v", err)
	}
	if got := teamOrder(view); !reflect.DeepEqual(got, []int64{1, 3, 4}) {
		t.Fatalf("unexpected order %v", got)
	}
}

func TestFilterRecomputesScores(t *testing.T) {
	t.Parallel()
	// "foo" matches challenges 1 and 3 case-insensitively.
	view, err := service.Filter(sampleSnapshot(), service.FilterOptions{TitlePattern: "foo", TieBreak: service.TieBreakSubmissionTime})
	if err != nil {
		t.Fatalf("filter failed: %v", err)
	}
	if got := teamOrder(view); !reflect.DeepEqual(got, []int64{1, 2, 3, 4}) {
		t.Fatalf("unexpected order %v", got)
	}
	a := view.Items[0]
	if a.Score != 400 || a.SolvedCount != 2 || !a.LastSubmissionTime.Equal(t0.Add(30*time.Minute)) {
		t.Fatalf("unexpected team A %+v", a)
	}
	b := view.Items[1]
	if b.Score != 300 || b.SolvedCount != 1 {
		t.Fatalf("unexpected team B %+v", b)
	}
	checkDenseRanks(t, view)
}

func TestFilterCategoryAndPattern(t *testing.T) {
	t.Parallel()
	view, err := service.Filter(sampleSnapshot(), service.FilterOptions{Category: "web", TitlePattern: "^admin", TieBreak: service.TieBreakSubmissionTime})
	if err != nil {
		t.Fatalf("filter failed: %v", err)
	}
	if len(view.Challenges["web"]) != 1 || view.Challenges["web"][0].ID != 2 || len(view.Challenges["crypto"]) != 0 {
		t.Fatalf("unexpected challenges %+v", view.Challenges)
	}
	// A and B both score 200; A solved it first.
	if got := teamOrder(view); !reflect.DeepEqual(got, []int64{1, 2, 3, 4}) {
		t.Fatalf("unexpected order %v", got)
	}
	if view.Items[0].Score != 200 || view.Items[1].Score != 200 {
		t.Fatalf("unexpected scores %d %d", view.Items[0].Score, view.Items[1].Score)
	}
}

func TestFilterTieBreak(t *testing.T) {
	t.Parallel()
	// Crypto only: A solved at +30m, B at +4m, both 300.
	byTime, err := service.Filter(sampleSnapshot(), service.FilterOptions{Category: "crypto", TieBreak: service.TieBreakSubmissionTime})
	if err != nil {
		t.Fatalf("filter failed: %v", err)
	}
	if got := teamOrder(byTime); !reflect.DeepEqual(got, []int64{2, 1, 3, 4}) {
		t.Fatalf("submission time tie break: unexpected order %v", got)
	}

	stable, err := service.Filter(sampleSnapshot(), service.FilterOptions{Category: "crypto", TieBreak: service.TieBreakNone})
	if err != nil {
		t.Fatalf("filter failed: %v", err)
	}
	if got := teamOrder(stable); !reflect.DeepEqual(got, []int64{1, 2, 3, 4}) {
		t.Fatalf("no tie break: unexpected order %v", got)
	}
	checkDenseRanks(t, stable)
}

func TestFilterZeroChallengesKeepsStableOrder(t *testing.T) {
	t.Parallel()
	view, err := service.Filter(sampleSnapshot(), service.FilterOptions{Category: "pwn", TieBreak: service.TieBreakNone})
	if err != nil {
		t.Fatalf("filter failed: %v", err)
	}
	if got := teamOrder(view); !reflect.DeepEqual(got, []int64{1, 2, 3, 4}) {
		t.Fatalf("unexpected order %v", got)
	}
	for _, item := range view.Items {
		if item.Score != 0 || len(item.SolvedChallenges) != 0 {
			t.Fatalf("expected zero score, got %+v", item)
		}
	}
	checkDenseRanks(t, view)
}

func TestFilterInvalidPattern(t *testing.T) {
	t.Parallel()
	_, err := service.Filter(sampleSnapshot(), service.FilterOptions{TitlePattern: "(unclosed"})
	if !appErr.Is(err, appErr.ScoreboardFilterInvalid) {
		t.Fatalf("expected ScoreboardFilterInvalid, got %v", err)
	}
}

func TestFilterTitlePatternLength(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		pattern string
		wantErr bool
	}{
		{name: "at limit", pattern: strings.Repeat("a", service.MaxTitlePatternBytes)},
		{name: "over limit", pattern: strings.Repeat("a", service.MaxTitlePatternBytes+1), wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := service.Filter(sampleSnapshot(), service.FilterOptions{TitlePattern: tt.pattern})
			if tt.wantErr != appErr.Is(err, appErr.ScoreboardFilterInvalid) {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestFilterDoesNotMutateSnapshot(t *testing.T) {
	t.Parallel()
	snapshot := sampleSnapshot()
	before := sampleSnapshot()
	if _, err := service.Filter(snapshot, service.FilterOptions{Organization: service.OrganizationNoPublic, TitlePattern: "foo"}); err != nil {
		t.Fatalf("filter failed: %v", err)
	}
	if !reflect.DeepEqual(snapshot, before) {
		t.Fatalf("snapshot was modified")
	}
}
