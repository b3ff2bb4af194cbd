package feeds

import (
	"strings"

	"eggdash/models"

	"github.com/samber/lo"
)

// Marker projects a feed to the map marker shape. Missing coordinates and
// blank titles are left out rather than zeroed.
func Marker(feed models.FeedSummary) models.MapMarker {
	marker := models.MapMarker{
		FeedId: feed.Id,
		Title:  strings.TrimSpace(feed.Title),
	}
	marker.Lat = coordinate(feed.Location.Lat)
	marker.Lng = coordinate(feed.Location.Lon)
	return marker
}

// Non-finite values cannot be encoded and count as missing
func coordinate(f *models.FlexFloat) *float64 {
	if f == nil || !models.Finite(f.Float64()) {
		return nil
	}
	v := f.Float64()
	return &v
}

// Markers projects feeds to markers, preserving their order
func Markers(feeds []models.FeedSummary) []models.MapMarker {
	return lo.Map(feeds, func(feed models.FeedSummary, _ int) models.MapMarker {
		return Marker(feed)
	})
}
