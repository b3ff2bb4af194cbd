package feeds_test

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"testing"

	"eggdash/feeds"
	"eggdash/models"
	"eggdash/xively"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pagedSource answers pages in order, then fails every later page with err
type pagedSource struct {
	mutex   sync.Mutex
	pages   [][]models.FeedSummary
	err     error
	queries []xively.SearchQuery
}

func (s *pagedSource) SearchFeeds(ctx context.Context, query xively.SearchQuery) (*models.SearchResult, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.queries = append(s.queries, query)

	index := query.Page - 1
	if index < 0 {
		index = 0
	}
	if index >= len(s.pages) {
		return nil, s.err
	}
	return &models.SearchResult{Results: s.pages[index]}, nil
}

func feed(id int64) models.FeedSummary {
	return models.FeedSummary{Id: id, Title: "Egg"}
}

func ids(markers []models.MapMarker) []int64 {
	out := make([]int64, len(markers))
	for i, m := range markers {
		out[i] = m.FeedId
	}
	return out
}

func TestAllMarkersConcatenatesPagesUntilNonOK(t *testing.T) {
	source := &pagedSource{
		pages: [][]models.FeedSummary{
			{feed(1), feed(2)},
			{feed(3)},
		},
		err: &xively.StatusError{StatusCode: 500},
	}

	markers, err := feeds.NewAggregator(source).AllMarkers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, ids(markers))

	require.Len(t, source.queries, 3)
	for i, query := range source.queries {
		assert.Equal(t, i+1, query.Page)
		assert.Equal(t, feeds.AllFeedsPageSize, query.PerPage)
		assert.Equal(t, feeds.DeviceTag, query.Tag)
		assert.Equal(t, "summary", query.Content)
	}
}

func TestAllMarkersFirstPageFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "non-200 status", err: &xively.StatusError{StatusCode: 500}},
		{name: "transport fault", err: errors.New("connection refused")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := &pagedSource{err: tt.err}

			markers, err := feeds.NewAggregator(source).AllMarkers(context.Background())
			assert.ErrorIs(t, err, feeds.ErrUpstreamUnavailable)
			assert.Nil(t, markers)
			assert.Len(t, source.queries, 1)
		})
	}
}

func TestAllMarkersTransportFaultMidSweepFails(t *testing.T) {
	source := &pagedSource{
		pages: [][]models.FeedSummary{{feed(1)}},
		err:   errors.New("connection reset"),
	}

	_, err := feeds.NewAggregator(source).AllMarkers(context.Background())
	assert.ErrorIs(t, err, feeds.ErrUpstreamUnavailable)
}

func TestAllMarkersEmptyFirstPage(t *testing.T) {
	source := &pagedSource{
		pages: [][]models.FeedSummary{{}},
		err:   &xively.StatusError{StatusCode: 404},
	}

	markers, err := feeds.NewAggregator(source).AllMarkers(context.Background())
	require.NoError(t, err)
	assert.Empty(t, markers)
}

func TestRecentSinglePage(t *testing.T) {
	source := &pagedSource{
		pages: [][]models.FeedSummary{{feed(9), feed(8)}},
		err:   &xively.StatusError{StatusCode: 500},
	}

	recent, err := feeds.NewAggregator(source).Recent(context.Background(), "desc")
	require.NoError(t, err)
	assert.Len(t, recent, 2)

	require.Len(t, source.queries, 1)
	assert.Equal(t, "desc", source.queries[0].Order)
	assert.Equal(t, feeds.RecentPageSize, source.queries[0].PerPage)
	assert.Zero(t, source.queries[0].Page)
}

func TestRecentFailure(t *testing.T) {
	source := &pagedSource{err: &xively.StatusError{StatusCode: 503}}

	_, err := feeds.NewAggregator(source).Recent(context.Background(), "asc")
	assert.ErrorIs(t, err, feeds.ErrUpstreamUnavailable)
}

func TestNearbyUsesCoordinates(t *testing.T) {
	source := &pagedSource{pages: [][]models.FeedSummary{{feed(2)}}}
	egg := models.FeedSummary{
		Id: 1,
		Location: models.Location{
			Lat: models.NewFlexFloat(51.5),
			Lon: models.NewFlexFloat(-0.12),
		},
	}

	markers, err := feeds.NewAggregator(source).Nearby(context.Background(), egg)
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, ids(markers))

	query := source.queries[0]
	require.NotNil(t, query.Lat)
	require.NotNil(t, query.Lon)
	assert.Equal(t, 51.5, *query.Lat)
	assert.Equal(t, -0.12, *query.Lon)
	assert.Equal(t, float64(feeds.NearbyDistance), query.Distance)
}

func TestNearbyWithoutCoordinatesIsUnfiltered(t *testing.T) {
	source := &pagedSource{pages: [][]models.FeedSummary{{feed(2), feed(3)}}}
	egg := models.FeedSummary{Id: 1, Location: models.Location{Lat: models.NewFlexFloat(1)}}

	_, err := feeds.NewAggregator(source).Nearby(context.Background(), egg)
	require.NoError(t, err)
	assert.Nil(t, source.queries[0].Lat)
	assert.Zero(t, source.queries[0].Distance)
}

func TestMarkerOmitsAbsentFields(t *testing.T) {
	marker := feeds.Marker(models.FeedSummary{Id: 5})

	data, err := json.Marshal(marker)
	require.NoError(t, err)
	assert.JSONEq(t, `{"feed_id":5}`, string(data))

	marker = feeds.Marker(models.FeedSummary{
		Id:    6,
		Title: "Backyard",
		Location: models.Location{
			Lat: models.NewFlexFloat(0),
			Lon: models.NewFlexFloat(10.5),
		},
	})
	data, err = json.Marshal(marker)
	require.NoError(t, err)
	assert.JSONEq(t, `{"feed_id":6,"lat":0,"lng":10.5,"title":"Backyard"}`, string(data))
}

func TestMarkerDropsNonFiniteCoordinates(t *testing.T) {
	marker := feeds.Marker(models.FeedSummary{
		Id: 7,
		Location: models.Location{
			Lat: models.NewFlexFloat(math.NaN()),
			Lon: models.NewFlexFloat(math.Inf(-1)),
		},
	})

	data, err := json.Marshal(marker)
	require.NoError(t, err)
	assert.JSONEq(t, `{"feed_id":7}`, string(data))
}

func TestValidOrder(t *testing.T) {
	assert.True(t, feeds.ValidOrder("asc"))
	assert.True(t, feeds.ValidOrder("desc"))
	assert.True(t, feeds.ValidOrder("created_at"))
	assert.False(t, feeds.ValidOrder(""))
	assert.False(t, feeds.ValidOrder("desc;drop"))
}
