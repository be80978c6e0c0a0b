// Package influxdb stores device telemetry in InfluxDB.
//
// Main boards stream climate (sensor-data) and reservoir (distance-data)
// readings through the relay. Besides being relayed to subscribers, each
// reading is written here as a point tagged with the device id and role.
//
// Writes are non-blocking and batched by batch_size and flush_interval.
// Asynchronous failures are reported through SetOnError; connection and
// health check errors are returned directly.
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // run without telemetry
//	}
//	defer client.Close()
package influxdb
