package scoring

import (
	"context"

	"github.com/openctf/ctfcore/internal/cache"
	"gorm.io/gorm"
)

// PageSize is the number of rows per scoreboard page.
const PageSize = 50

// Row is one rendered scoreboard line.
type Row struct {
	Rank        int64  `json:"rank"`
	TID         string `json:"tid"`
	TeamName    string `json:"team_name"`
	Affiliation string `json:"affiliation"`
	Score       int    `json:"score"`
}

func toRows(ranked []cache.Ranked, firstRank int64) []Row {
	rows := make([]Row, 0, len(ranked))
	for i, r := range ranked {
		rows = append(rows, Row{
			Rank:        firstRank + int64(i) + 1,
			TID:         r.Entry.TID,
			TeamName:    r.Entry.Name,
			Affiliation: r.Entry.Affiliation,
			Score:       int(r.Score),
		})
	}
	return rows
}

// Page slices one page of a board, descending. When page is 0 the page
// containing currentTID is chosen, falling back to page 1 if the team is
// not on the board.
func Page(ctx context.Context, store cache.Store, boardKey string, page int, currentTID string) ([]Row, int, int, error) {
	card, err := store.RankCard(ctx, boardKey)
	if err != nil {
		return nil, 0, 0, err
	}
	pageCount := int((card + PageSize - 1) / PageSize)
	if pageCount == 0 {
		pageCount = 1
	}

	if page == 0 {
		page = 1
		if currentTID != "" {
			pos, found, err := store.RankPosition(ctx, boardKey, cache.Entry{TID: currentTID}, true)
			if err != nil {
				return nil, 0, 0, err
			}
			if found {
				page = int(pos/PageSize) + 1
			}
		}
	}
	if page > pageCount {
		page = pageCount
	}

	start := int64(page-1) * PageSize
	stop := start + PageSize - 1
	ranked, err := store.RankRange(ctx, boardKey, start, stop, true)
	if err != nil {
		return nil, 0, 0, err
	}
	return toRows(ranked, start), page, pageCount, nil
}

// Search returns rows whose team name starts with the prefix, used for
// scoreboard autocomplete.
func Search(ctx context.Context, store cache.Store, boardKey, prefix string) ([]Row, error) {
	ranked, err := store.RankSearch(ctx, boardKey, prefix)
	if err != nil {
		return nil, err
	}
	rows := make([]Row, 0, len(ranked))
	for _, r := range ranked {
		pos, found, err := store.RankPosition(ctx, boardKey, r.Entry, true)
		if err != nil {
			return nil, err
		}
		rank := int64(0)
		if found {
			rank = pos + 1
		}
		rows = append(rows, Row{
			Rank:        rank,
			TID:         r.Entry.TID,
			TeamName:    r.Entry.Name,
			Affiliation: r.Entry.Affiliation,
			Score:       int(r.Score),
		})
	}
	return rows, nil
}

// TeamProgression is a named progression for the trend graph.
type TeamProgression struct {
	TID         string             `json:"tid"`
	TeamName    string             `json:"team_name"`
	Progression []ProgressionPoint `json:"progression"`
}

// TopProgressions returns score progressions for the top limit teams of
// a board. The refresher precomputes and caches these.
func TopProgressions(ctx context.Context, db *gorm.DB, store cache.Store, boardKey string, limit int, reset bool) ([]TeamProgression, error) {
	key := cache.TopProgressionsKey(boardKey)
	return cache.Memoize(ctx, store, key, scoreTTL, reset, func() ([]TeamProgression, error) {
		ranked, err := store.RankRange(ctx, boardKey, 0, int64(limit)-1, true)
		if err != nil {
			return nil, err
		}
		out := make([]TeamProgression, 0, len(ranked))
		for _, r := range ranked {
			points, err := TeamScoreProgression(ctx, db, store, r.Entry.TID, "")
			if err != nil {
				return nil, err
			}
			out = append(out, TeamProgression{
				TID:         r.Entry.TID,
				TeamName:    r.Entry.Name,
				Progression: points,
			})
		}
		return out, nil
	})
}
