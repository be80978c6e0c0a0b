package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/sscm-labs/sscm-relay/internal/deviceid"
	"github.com/sscm-labs/sscm-relay/internal/metrics"
)

// WriteTelemetry records one reading from a device. The write is queued
// and batched; failures surface through SetOnError.
//
//	client.WriteTelemetry(id, "climate", map[string]float64{"temperature": 31.5})
func (c *Client) WriteTelemetry(id deviceid.ID, measurement string, fields map[string]float64) {
	if !c.IsConnected() || len(fields) == 0 {
		return
	}
	c.writeAPI.WritePoint(telemetryPoint(id, measurement, fields, time.Now()))
	metrics.TelemetryPoints.WithLabelValues(measurement).Inc()
}

// telemetryPoint builds the point for one reading. The device id and its
// role are tags so readings can be grouped per board.
func telemetryPoint(id deviceid.ID, measurement string, fields map[string]float64, ts time.Time) *write.Point {
	role := "main"
	if id.IsCamera() {
		role = "camera"
	}

	values := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		values[k] = v
	}

	return write.NewPoint(measurement,
		map[string]string{
			"device_id": id.String(),
			"role":      role,
		},
		values,
		ts)
}
