// Package influxdb writes router telemetry to InfluxDB.
//
// It wraps the official influxdb-client-go v2 library. Points record state
// transitions, busy signals, engine errors, per-frame routing decisions and
// periodic counter snapshots, each tagged with the router ID.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB, cfg.Router.ID)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WriteStateChange("neighbor_busy", "routing")
//
// Writes are non-blocking and batched (batch_size, flush_interval).
// Asynchronous write failures are reported through SetOnError; connection
// and health check errors are returned directly.
package influxdb
