package service

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"ctfboard/internal/game/model"
	appErr "ctfboard/pkg/errors"
)

const (
	// OrganizationAll keeps every team.
	OrganizationAll = "all"
	// OrganizationNoPublic drops the teams of the public track.
	OrganizationNoPublic = "nopub"
	// DefaultPublicTrackLabel is the organization of the public track.
	DefaultPublicTrackLabel = "Public"
)

// MaxTitlePatternBytes bounds the title filter before it is compiled.
const MaxTitlePatternBytes = 256

// TieBreak orders teams with equal scores.
type TieBreak string

const (
	// TieBreakSubmissionTime puts the team that reached its score first ahead.
	TieBreakSubmissionTime TieBreak = "submission_time"
	// TieBreakNone keeps the incoming order of equal scores.
	TieBreakNone TieBreak = "none"
)

// FilterOptions selects a slice of a scoreboard.
type FilterOptions struct {
	Organization string
	TitlePattern string
	Category     string
	TieBreak     TieBreak
	// PublicLabel is matched by OrganizationNoPublic; empty means DefaultPublicTrackLabel.
	PublicLabel string
}

// FilteredView is a re-ranked projection of a snapshot.
type FilteredView struct {
	GameID        int64                            `json:"gameId"`
	Version       int64                            `json:"version"`
	UpdateTimeUtc time.Time                        `json:"updateTimeUtc"`
	Challenges    map[string][]model.ChallengeInfo `json:"challenges"`
	Items         []model.ScoreboardItem           `json:"items"`
}

// Filter narrows snapshot to the requested organization and challenges and
// ranks the result. snapshot is never modified.
func Filter(snapshot *model.ScoreboardSnapshot, opts FilterOptions) (*FilteredView, error) {
	view := &FilteredView{
		GameID:        snapshot.GameID,
		Version:       snapshot.Version,
		UpdateTimeUtc: snapshot.UpdateTimeUtc,
	}

	items := make([]model.ScoreboardItem, 0, len(snapshot.Items))
	keep := organizationFilter(opts)
	for _, item := range snapshot.Items {
		if keep(item.Organization) {
			items = append(items, item.Clone())
		}
	}

	if opts.TitlePattern == "" && opts.Category == "" {
		view.Challenges = cloneChallenges(snapshot.Challenges, nil)
		assignRanks(items)
		view.Items = items
		return view, nil
	}

	var title *regexp.Regexp
	if opts.TitlePattern != "" {
		if len(opts.TitlePattern) > MaxTitlePatternBytes {
			return nil, appErr.FilterError("title",
				fmt.Errorf("pattern is %d bytes, limit is %d", len(opts.TitlePattern), MaxTitlePatternBytes))
		}
		re, err := regexp.Compile("(?i)" + opts.TitlePattern)
		if err != nil {
			return nil, appErr.FilterError("title", err)
		}
		title = re
	}

	surviving := make(map[int64]struct{})
	for category, infos := range snapshot.Challenges {
		if opts.Category != "" && category != opts.Category {
			continue
		}
		for _, info := range infos {
			if opts.Category != "" && info.Category != opts.Category {
				continue
			}
			if title != nil && !title.MatchString(info.Title) {
				continue
			}
			surviving[info.ID] = struct{}{}
		}
	}
	view.Challenges = cloneChallenges(snapshot.Challenges, surviving)

	for i := range items {
		solved := items[i].SolvedChallenges[:0]
		for _, c := range items[i].SolvedChallenges {
			if _, ok := surviving[c.ID]; ok {
				solved = append(solved, c)
			}
		}
		items[i].SolvedChallenges = solved
		summarize(&items[i])
	}
	sortItems(items, opts.TieBreak)
	assignRanks(items)
	view.Items = items
	return view, nil
}

func organizationFilter(opts FilterOptions) func(string) bool {
	switch opts.Organization {
	case "", OrganizationAll:
		return func(string) bool { return true }
	case OrganizationNoPublic:
		label := opts.PublicLabel
		if label == "" {
			label = DefaultPublicTrackLabel
		}
		return func(org string) bool { return org != label }
	default:
		want := opts.Organization
		return func(org string) bool { return org == want }
	}
}

// cloneChallenges copies columns, keeping only ids in keep when it is non-nil.
func cloneChallenges(in map[string][]model.ChallengeInfo, keep map[int64]struct{}) map[string][]model.ChallengeInfo {
	out := make(map[string][]model.ChallengeInfo, len(in))
	for category, infos := range in {
		var kept []model.ChallengeInfo
		for _, info := range infos {
			if keep != nil {
				if _, ok := keep[info.ID]; !ok {
					continue
				}
			}
			kept = append(kept, info)
		}
		if len(kept) > 0 {
			out[category] = kept
		}
	}
	return out
}

// summarize derives Score, SolvedCount and LastSubmissionTime from SolvedChallenges.
func summarize(item *model.ScoreboardItem) {
	item.Score = 0
	item.LastSubmissionTime = time.Time{}
	for _, c := range item.SolvedChallenges {
		item.Score += c.Score
		if c.SubmitTimeUtc.After(item.LastSubmissionTime) {
			item.LastSubmissionTime = c.SubmitTimeUtc
		}
	}
	item.SolvedCount = len(item.SolvedChallenges)
}

func sortItems(items []model.ScoreboardItem, tieBreak TieBreak) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		if tieBreak == TieBreakSubmissionTime {
			return items[i].LastSubmissionTime.Before(items[j].LastSubmissionTime)
		}
		return false
	})
}

// assignRanks numbers items 1..N in order, and per organization 1..K.
// Teams without an organization get OrganizationRank 0.
func assignRanks(items []model.ScoreboardItem) {
	orgCounters := make(map[string]int)
	for i := range items {
		items[i].Rank = i + 1
		if org := strings.TrimSpace(items[i].Organization); org != "" {
			orgCounters[org]++
			items[i].OrganizationRank = orgCounters[org]
		} else {
			items[i].OrganizationRank = 0
		}
	}
}
