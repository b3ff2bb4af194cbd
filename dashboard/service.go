// Package dashboard answers the read and write operations of the egg
// dashboard on top of the cache, the aggregator and the platform client.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"eggdash/cache"
	"eggdash/config"
	"eggdash/feeds"
	"eggdash/models"
	"eggdash/session"
	"eggdash/xively"

	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
)

const (
	allFeedsKey     = "all_feeds"
	recentKeyPrefix = "recently_"

	timestampLayout = "02 Jan 2006 15:04:05"
)

var (
	// ErrFeedNotFound means the platform does not know the feed
	ErrFeedNotFound = errors.New("feed not found")

	// ErrEggNotFound means an activation did not hand out a credential
	ErrEggNotFound = errors.New("egg not found")
)

// ValidationError reports missing or malformed user input, detected before
// the platform is called
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Platform is the part of the telemetry platform client the service uses
type Platform interface {
	feeds.Source
	GetFeed(ctx context.Context, feedId int64, apiKey string) (*models.FeedSummary, error)
	Activate(ctx context.Context, productId string, serial string) (*models.Activation, error)
	UpdateFeed(ctx context.Context, feed models.FeedSummary, writeKey string) error
}

type Service struct {
	config     config.Config
	store      *cache.Store
	platform   Platform
	aggregator *feeds.Aggregator
}

func NewService(cfg config.Config, store *cache.Store, platform Platform) *Service {
	return &Service{
		config:     cfg,
		store:      store,
		platform:   platform,
		aggregator: feeds.NewAggregator(platform),
	}
}

// AllFeeds returns the JSON encoded markers of every egg, from cache when
// possible
func (s *Service) AllFeeds(ctx context.Context) ([]byte, error) {
	return s.store.Fetch(ctx, allFeedsKey, s.config.CacheTTL, func(ctx context.Context) ([]byte, error) {
		markers, err := s.aggregator.AllMarkers(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(markers)
	})
}

// Recent returns the JSON encoded recently updated feeds in the given
// order. Each order is cached under its own key.
func (s *Service) Recent(ctx context.Context, order string) ([]byte, error) {
	if !feeds.ValidOrder(order) {
		return nil, &ValidationError{Message: fmt.Sprintf("Unknown order %q", order)}
	}

	return s.store.Fetch(ctx, recentKeyPrefix+order, s.config.CacheTTL, func(ctx context.Context) ([]byte, error) {
		recent, err := s.aggregator.Recent(ctx, order)
		if err != nil {
			return nil, err
		}
		return json.Marshal(recent)
	})
}

// Feed builds the detail view of one egg. It always goes to the platform.
func (s *Service) Feed(ctx context.Context, id string) (*models.FeedDetail, error) {
	feedId, err := parseFeedId(id)
	if err != nil {
		return nil, err
	}

	feed, err := s.platform.GetFeed(ctx, feedId, "")
	if err != nil {
		if xively.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %d", ErrFeedNotFound, feedId)
		}
		return nil, fmt.Errorf("%w: feed %d: %w", feeds.ErrUpstreamUnavailable, feedId, err)
	}

	markers, err := s.aggregator.Nearby(ctx, *feed)
	if err != nil {
		log.WithFields(log.Fields{
			"feed":  feedId,
			"error": err,
		}).Warn("Geo search failed, showing no nearby eggs")
		markers = []models.MapMarker{}
	}

	channels := feeds.SelectChannels(feed.Datastreams)
	for _, ds := range []*models.Datastream{channels.NO2, channels.CO, channels.Temperature, channels.Humidity} {
		if ds != nil {
			ds.At = FormatTimestamp(ds.At)
		}
	}

	return &models.FeedDetail{
		Feed:       *feed,
		Channels:   channels,
		MapMarkers: markers,
		UpdatedAt:  FormatTimestamp(feed.Updated),
	}, nil
}

// Register activates the egg with the given serial number and remembers
// its credential in the session. The session is left untouched on failure.
func (s *Service) Register(ctx context.Context, values session.Values, serial string) (int64, error) {
	serial = strings.ToLower(strings.TrimSpace(serial))
	if serial == "" {
		return 0, &ValidationError{Message: "Please enter a serial number"}
	}

	activation, err := s.platform.Activate(ctx, s.config.ProductId, serial)
	if err != nil {
		log.WithFields(log.Fields{
			"serial": serial,
			"error":  err,
		}).Warn("Activation failed")
		if xively.IsNotFound(err) {
			return 0, ErrEggNotFound
		}
		return 0, fmt.Errorf("%w: activation: %w", feeds.ErrUpstreamUnavailable, err)
	}
	if activation.FeedId == 0 || activation.ApiKey == "" {
		return 0, ErrEggNotFound
	}

	session.Remember(values, *activation)
	log.WithFields(log.Fields{
		"feed": activation.FeedId,
	}).Info("Registered egg")
	return activation.FeedId, nil
}

// EditFeed returns the feed owned by the session for the edit form
func (s *Service) EditFeed(ctx context.Context, values session.Values, id string) (*models.FeedSummary, error) {
	credential, err := session.Authorize(values, id)
	if err != nil {
		return nil, err
	}

	feed, err := s.platform.GetFeed(ctx, credential.FeedId, credential.WriteKey)
	if err != nil {
		return nil, fmt.Errorf("%w: feed %d: %w", feeds.ErrUpstreamUnavailable, credential.FeedId, err)
	}
	return feed, nil
}

// Update replaces the metadata of the feed owned by the session. Nothing is
// sent to the platform unless the session owns the feed in the path.
func (s *Service) Update(ctx context.Context, values session.Values, id string, update models.FeedUpdate) (int64, error) {
	credential, err := session.Authorize(values, id)
	if err != nil {
		return 0, err
	}

	fields := []struct {
		name  string
		value *float64
	}{{"Latitude", update.Lat}, {"Longitude", update.Lon}, {"Elevation", update.Elevation}}
	for _, field := range fields {
		if field.value != nil && !models.Finite(*field.value) {
			return 0, &ValidationError{Message: fmt.Sprintf("%s must be a number", field.name)}
		}
	}

	feed := models.FeedSummary{
		Id:          credential.FeedId,
		Title:       update.Title,
		Description: update.Description,
		Private:     "false",
		Version:     "1.0.0",
		Tags:        MergeTags(update.ExistingTags),
		Location: models.Location{
			Lat:       flex(update.Lat),
			Lon:       flex(update.Lon),
			Elevation: flex(update.Elevation),
			Exposure:  update.Exposure,
		},
	}

	if err := s.platform.UpdateFeed(ctx, feed, credential.WriteKey); err != nil {
		return 0, fmt.Errorf("%w: update feed %d: %w", feeds.ErrUpstreamUnavailable, credential.FeedId, err)
	}

	log.WithFields(log.Fields{
		"feed": credential.FeedId,
		"tags": feed.Tags,
	}).Info("Updated egg")
	return credential.FeedId, nil
}

// Flush empties the cache and returns a status line
func (s *Service) Flush(ctx context.Context) (string, error) {
	count, err := s.store.Flush(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("flushed %d", count), nil
}

// MergeTags splits the user supplied comma separated tags and makes sure
// the egg device tag is among them
func MergeTags(existing string) []string {
	tags := lo.FilterMap(strings.Split(existing, ","), func(tag string, _ int) (string, bool) {
		tag = strings.TrimSpace(tag)
		return tag, tag != ""
	})
	return lo.Uniq(append(tags, feeds.DeviceTag))
}

// FormatTimestamp renders a platform timestamp for display, or "" when it
// cannot be parsed
func FormatTimestamp(timestamp string) string {
	t, err := time.Parse(time.RFC3339, timestamp)
	if err != nil {
		return ""
	}
	return t.Format(timestampLayout)
}

func parseFeedId(id string) (int64, error) {
	feedId, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64)
	if err != nil || feedId <= 0 {
		return 0, &ValidationError{Message: fmt.Sprintf("Invalid feed id %q", id)}
	}
	return feedId, nil
}

func flex(v *float64) *models.FlexFloat {
	if v == nil {
		return nil
	}
	return models.NewFlexFloat(*v)
}

// Bounds of the coordinate form fields
const (
	LatitudeLimit  = 90
	LongitudeLimit = 180
	// Elevation has no bound
	NoLimit = 0
)

// ParseCoordinate reads an optional numeric form field. Blank means absent.
// A positive limit bounds the absolute value.
func ParseCoordinate(field string, value string, limit float64) (*float64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(value, 64)
	if err != nil || !models.Finite(v) {
		return nil, &ValidationError{Message: fmt.Sprintf("%s must be a number", field)}
	}
	if limit > 0 && math.Abs(v) > limit {
		return nil, &ValidationError{Message: fmt.Sprintf("%s must be between -%g and %g", field, limit, limit)}
	}
	return &v, nil
}
