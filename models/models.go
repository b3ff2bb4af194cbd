package models

// FeedSummary is a feed record as returned by the telemetry platform
type FeedSummary struct {
	Id          int64        `json:"id"`
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	Tags        []string     `json:"tags,omitempty"`
	Location    Location     `json:"location"`
	Status      string       `json:"status,omitempty"`
	Updated     string       `json:"updated,omitempty"`
	Created     string       `json:"created,omitempty"`
	Private     string       `json:"private,omitempty"`
	Version     string       `json:"version,omitempty"`
	Datastreams []Datastream `json:"datastreams,omitempty"`

	// Descriptive attributes, passed through to listings untouched
	Feed         string `json:"feed,omitempty"`
	AutoFeedUrl  string `json:"auto_feed_url,omitempty"`
	Creator      string `json:"creator,omitempty"`
	Website      string `json:"website,omitempty"`
	Email        string `json:"email,omitempty"`
	Icon         string `json:"icon,omitempty"`
	User         string `json:"user,omitempty"`
	ProductId    string `json:"product_id,omitempty"`
	DeviceSerial string `json:"device_serial,omitempty"`
}

// Location of a feed. Coordinates are nil when the feed has not been mapped.
type Location struct {
	Name      string     `json:"name,omitempty"`
	Lat       *FlexFloat `json:"lat,omitempty"`
	Lon       *FlexFloat `json:"lon,omitempty"`
	Elevation *FlexFloat `json:"ele,omitempty"`
	Exposure  string     `json:"exposure,omitempty"`
	Domain    string     `json:"domain,omitempty"`
}

// HasCoordinates reports whether both lat and lon are known finite numbers
func (l Location) HasCoordinates() bool {
	return l.Lat != nil && l.Lon != nil && Finite(l.Lat.Float64()) && Finite(l.Lon.Float64())
}

// Datastream is one sensor channel of a feed
type Datastream struct {
	Id           string   `json:"id"`
	CurrentValue string   `json:"current_value,omitempty"`
	At           string   `json:"at,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	Unit         Unit     `json:"unit,omitempty"`
}

type Unit struct {
	Label  string `json:"label,omitempty"`
	Symbol string `json:"symbol,omitempty"`
}

// SearchResult is the body of a feed search page
type SearchResult struct {
	TotalResults int           `json:"totalResults"`
	StartIndex   int           `json:"startIndex"`
	ItemsPerPage int           `json:"itemsPerPage"`
	Results      []FeedSummary `json:"results"`
}

// MapMarker is the projection of a feed used by the map view. Absent
// coordinates and titles are omitted from the JSON, never nulled.
type MapMarker struct {
	FeedId int64    `json:"feed_id"`
	Lat    *float64 `json:"lat,omitempty"`
	Lng    *float64 `json:"lng,omitempty"`
	Title  string   `json:"title,omitempty"`
}

// Activation is the body returned by the device activation endpoint
type Activation struct {
	FeedId int64  `json:"feed_id"`
	ApiKey string `json:"apikey"`
}

// SessionCredential authorizes mutation of a single feed for one session
type SessionCredential struct {
	FeedId   int64
	WriteKey string
}

// SensorChannels holds the computed datastreams shown on the detail view
type SensorChannels struct {
	NO2         *Datastream `json:"no2,omitempty"`
	CO          *Datastream `json:"co,omitempty"`
	Temperature *Datastream `json:"temperature,omitempty"`
	Humidity    *Datastream `json:"humidity,omitempty"`
}

// FeedDetail backs the single egg view
type FeedDetail struct {
	Feed       FeedSummary    `json:"feed"`
	Channels   SensorChannels `json:"channels"`
	MapMarkers []MapMarker    `json:"map_markers"`
	UpdatedAt  string         `json:"updated_at"`
}

// FeedUpdate carries the user supplied metadata for a feed
type FeedUpdate struct {
	Title        string
	Description  string
	Lat          *float64
	Lon          *float64
	Elevation    *float64
	Exposure     string
	ExistingTags string
}
