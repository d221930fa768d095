package tree

import (
	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"openline/internal/models"
	"testing"
	"time"
)

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func comment(id string, parent *uuid.UUID, likes int, age time.Duration) models.Comment {
	return models.Comment{
		ID:              uuid.MustParse(id),
		OpinionID:       uuid.MustParse("9c30f864-9499-4d57-9a2b-fd2c2d427532"),
		Text:            "comment " + id[:4],
		Timestamp:       base.Add(-age),
		Likes:           likes,
		ParentCommentID: parent,
	}
}

func ptr(id uuid.UUID) *uuid.UUID { return &id }

func ids(comments []models.Comment) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(comments))
	for _, c := range comments {
		out = append(out, c.ID)
	}
	return out
}

var (
	idA = "aaaaaaaa-0000-0000-0000-000000000001"
	idB = "bbbbbbbb-0000-0000-0000-000000000002"
	idC = "cccccccc-0000-0000-0000-000000000003"
	idD = "dddddddd-0000-0000-0000-000000000004"
)

func scenario() (a, b, c models.Comment) {
	a = comment(idA, nil, 10, 3*time.Hour)
	b = comment(idB, nil, 20, 2*time.Hour)
	c = comment(idC, ptr(a.ID), 1, time.Hour)
	return a, b, c
}

func TestScenario(t *testing.T) {
	a, b, c := scenario()
	input := []models.Comment{a, b, c}

	top := PartitionTopLevel(input)
	assert.Equal(t, []uuid.UUID{a.ID, b.ID}, ids(top))

	index := IndexReplies(input)
	want := map[uuid.UUID][]models.Comment{
		uuid.Nil: {a, b},
		a.ID:     {c},
	}
	if diff := cmp.Diff(want, index); diff != "" {
		t.Errorf("IndexReplies mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, []uuid.UUID{b.ID, a.ID}, ids(Sort(top, models.SortByScore)))
}

func TestEmptyInput(t *testing.T) {
	for _, input := range [][]models.Comment{nil, {}} {
		top := PartitionTopLevel(input)
		require.NotNil(t, top)
		assert.Empty(t, top)

		index := IndexReplies(input)
		require.NotNil(t, index)
		assert.Empty(t, index)

		sorted := Sort(input, models.SortByRecency)
		require.NotNil(t, sorted)
		assert.Empty(t, sorted)

		th := Build(input, models.SortByScore)
		assert.Empty(t, th.TopLevel)
		assert.Zero(t, th.ReplyCount(uuid.New()))
	}
}

func TestOrphanedParent(t *testing.T) {
	a, b, c := scenario()
	missing := uuid.MustParse("eeeeeeee-0000-0000-0000-00000000dead")
	d := comment(idD, ptr(missing), 3, time.Minute)
	input := []models.Comment{a, b, c, d}

	index := IndexReplies(input)
	assert.Equal(t, []models.Comment{d}, index[missing])

	assert.NotContains(t, ids(PartitionTopLevel(input)), d.ID)
	for _, parent := range PartitionTopLevel(input) {
		assert.NotContains(t, ids(Replies(index, parent.ID)), d.ID)
	}
}

func TestPartitionTopLevelIsSubset(t *testing.T) {
	a, b, c := scenario()
	input := []models.Comment{c, b, a}

	for _, got := range PartitionTopLevel(input) {
		assert.Nil(t, got.ParentCommentID)
		assert.Contains(t, input, got)
	}
}

func TestIndexRepliesPartitionsInput(t *testing.T) {
	a, b, c := scenario()
	d := comment(idD, ptr(c.ID), 0, time.Minute)
	input := []models.Comment{d, a, c, b}

	seen := make(map[uuid.UUID]int)
	total := 0
	for _, group := range IndexReplies(input) {
		for _, got := range group {
			seen[got.ID]++
			total++
		}
	}
	assert.Equal(t, len(input), total)
	for _, in := range input {
		assert.Equal(t, 1, seen[in.ID], "comment %s", in.ID)
	}
}

func TestIndexRepliesKeepsInputOrder(t *testing.T) {
	a, _, _ := scenario()
	r1 := comment(idB, ptr(a.ID), 50, time.Minute)
	r2 := comment(idC, ptr(a.ID), 0, 2*time.Minute)
	r3 := comment(idD, ptr(a.ID), 5, 3*time.Minute)

	index := IndexReplies([]models.Comment{r2, a, r3, r1})
	assert.Equal(t, []uuid.UUID{r2.ID, r3.ID, r1.ID}, ids(index[a.ID]))
}

func TestIndexRepliesIdempotent(t *testing.T) {
	a, b, c := scenario()
	input := []models.Comment{a, b, c}
	first := IndexReplies(input)
	second := IndexReplies(input)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("IndexReplies not idempotent:\n%s", diff)
	}
}

func TestSortByScoreStable(t *testing.T) {
	tied1 := comment(idA, nil, 5, time.Hour)
	tied2 := comment(idB, nil, 5, time.Minute)
	tied3 := comment(idC, nil, 5, time.Minute)
	low := comment(idD, nil, 1, 0)

	once := Sort([]models.Comment{low, tied1, tied3, tied2}, models.SortByScore)
	assert.Equal(t, []uuid.UUID{tied2.ID, tied3.ID, tied1.ID, low.ID}, ids(once))

	twice := Sort(once, models.SortByScore)
	assert.Equal(t, ids(once), ids(twice))
}

func TestSortByRecency(t *testing.T) {
	a, b, _ := scenario()
	newest := comment(idD, nil, 0, 0)

	got := Sort([]models.Comment{a, newest, b}, models.SortByRecency)
	assert.Equal(t, []uuid.UUID{newest.ID, b.ID, a.ID}, ids(got))
}

func TestSortDoesNotMutateInput(t *testing.T) {
	a, b, _ := scenario()
	input := []models.Comment{a, b}
	_ = Sort(input, models.SortByScore)
	assert.Equal(t, []uuid.UUID{a.ID, b.ID}, ids(input))
}

func TestRepliesIgnoresNullKey(t *testing.T) {
	a, b, c := scenario()
	index := IndexReplies([]models.Comment{a, b, c})
	assert.Nil(t, Replies(index, uuid.Nil))
	assert.Equal(t, []models.Comment{c}, Replies(index, a.ID))
}

func TestBuild(t *testing.T) {
	a, b, c := scenario()
	th := Build([]models.Comment{c, a, b}, models.SortByScore)

	assert.Equal(t, []uuid.UUID{b.ID, a.ID}, ids(th.TopLevel))
	assert.Equal(t, 1, th.ReplyCount(a.ID))
	assert.Equal(t, 0, th.ReplyCount(b.ID))
}

func TestParseSortMode(t *testing.T) {
	tests := []struct {
		in      string
		want    models.SortMode
		wantErr bool
	}{
		{in: "", want: models.SortByScore},
		{in: "Top", want: models.SortByScore},
		{in: "by_score", want: models.SortByScore},
		{in: "newest", want: models.SortByRecency},
		{in: "by_recency", want: models.SortByRecency},
		{in: "oldest", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSortMode(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
