// Package feeds walks the feed search of the telemetry platform and shapes
// the results for the dashboard.
package feeds

import (
	"context"
	"errors"
	"fmt"

	"eggdash/models"
	"eggdash/xively"

	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
)

const (
	// DeviceTag marks every feed that belongs to an air quality egg
	DeviceTag = "device:type=airqualityegg"

	AllFeedsPageSize = 100
	RecentPageSize   = 10
	NearbyDistance   = 400

	// Upper bound on the sweep in case the platform never stops answering 200
	maxPages = 1000
)

// ErrUpstreamUnavailable is returned when the platform cannot produce a
// result at all. It is never confused with an empty result.
var ErrUpstreamUnavailable = errors.New("upstream unavailable")

// RecentOrders lists the order values the feed search accepts
var RecentOrders = []string{"asc", "desc", "created_at", "retrieved_at", "relevance"}

// ValidOrder reports whether order can be passed to the recent listing
func ValidOrder(order string) bool {
	return lo.Contains(RecentOrders, order)
}

// Source is the part of the platform client the aggregator needs
type Source interface {
	SearchFeeds(ctx context.Context, query xively.SearchQuery) (*models.SearchResult, error)
}

type Aggregator struct {
	source Source
	tag    string
}

func NewAggregator(source Source) *Aggregator {
	return &Aggregator{
		source: source,
		tag:    DeviceTag,
	}
}

// AllMarkers fetches every egg feed page by page and projects the feeds to
// map markers, in the order the platform returned them. The first non-200
// page ends the sweep, unless it is the very first page.
func (a *Aggregator) AllMarkers(ctx context.Context) ([]models.MapMarker, error) {
	var all []models.FeedSummary

	for page := 1; ; page++ {
		if page > maxPages {
			log.WithFields(log.Fields{
				"pages": maxPages,
				"feeds": len(all),
			}).Warn("Stopping feed sweep at page limit")
			break
		}

		result, err := a.source.SearchFeeds(ctx, xively.SearchQuery{
			Tag:     a.tag,
			Content: "summary",
			PerPage: AllFeedsPageSize,
			Page:    page,
		})
		if err != nil {
			if page == 1 {
				return nil, fmt.Errorf("%w: first page: %w", ErrUpstreamUnavailable, err)
			}
			if xively.IsEndOfPages(err) {
				break
			}
			// A transport fault halfway through would otherwise be cached as a
			// truncated list
			return nil, fmt.Errorf("%w: page %d: %w", ErrUpstreamUnavailable, page, err)
		}

		log.WithFields(log.Fields{
			"page":  page,
			"count": len(result.Results),
		}).Debug("Fetched page of feeds")
		all = append(all, result.Results...)
	}

	log.WithFields(log.Fields{
		"feeds": len(all),
	}).Info("Fetched all feeds")
	return Markers(all), nil
}

// Recent fetches a single page of recently updated feeds in the given order
func (a *Aggregator) Recent(ctx context.Context, order string) ([]models.FeedSummary, error) {
	result, err := a.source.SearchFeeds(ctx, xively.SearchQuery{
		Tag:     a.tag,
		Content: "summary",
		PerPage: RecentPageSize,
		Order:   order,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: recent feeds: %w", ErrUpstreamUnavailable, err)
	}
	if result.Results == nil {
		return []models.FeedSummary{}, nil
	}
	return result.Results, nil
}

// Nearby returns markers for the eggs around feed. A feed without
// coordinates gets an unfiltered search instead.
func (a *Aggregator) Nearby(ctx context.Context, feed models.FeedSummary) ([]models.MapMarker, error) {
	query := xively.SearchQuery{
		Tag: a.tag,
	}
	if feed.Location.HasCoordinates() {
		lat := feed.Location.Lat.Float64()
		lon := feed.Location.Lon.Float64()
		query.Lat = &lat
		query.Lon = &lon
		query.Distance = NearbyDistance
	}

	result, err := a.source.SearchFeeds(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("geo search near feed %d: %w", feed.Id, err)
	}
	return Markers(result.Results), nil
}
