package feeds

import (
	"eggdash/models"

	"github.com/samber/lo"
)

const computedTag = "computed"

// Sensor types shown on the detail view
const (
	SensorNO2         = "NO2"
	SensorCO          = "CO"
	SensorTemperature = "Temperature"
	SensorHumidity    = "Humidity"
)

// FindComputed returns the first datastream tagged both "computed" and
// "sensor_type=<sensorType>", or nil. Raw channels of the same sensor are
// skipped.
func FindComputed(datastreams []models.Datastream, sensorType string) *models.Datastream {
	sensorTag := "sensor_type=" + sensorType
	ds, ok := lo.Find(datastreams, func(d models.Datastream) bool {
		return lo.Contains(d.Tags, computedTag) && lo.Contains(d.Tags, sensorTag)
	})
	if !ok {
		return nil
	}
	return &ds
}

// SelectChannels picks the computed channel for each sensor on the detail
// view. Missing channels stay nil.
func SelectChannels(datastreams []models.Datastream) models.SensorChannels {
	return models.SensorChannels{
		NO2:         FindComputed(datastreams, SensorNO2),
		CO:          FindComputed(datastreams, SensorCO),
		Temperature: FindComputed(datastreams, SensorTemperature),
		Humidity:    FindComputed(datastreams, SensorHumidity),
	}
}
