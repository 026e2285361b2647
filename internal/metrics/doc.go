// Package metrics exports bridge activity to Prometheus.
//
// A Collector listens to one or more bridge engines and maintains:
//
//	miyo_poll_cycles_total{cube,result}
//	miyo_poll_duration_seconds{cube}
//	miyo_last_poll_timestamp_seconds{cube}
//	miyo_circuit_events_total{cube,event}
//	miyo_cube_connected{cube}
//	miyo_circuit_irrigation_active{cube,circuit}
//	miyo_circuit_winter_mode{cube,circuit}
//	miyo_circuit_temperature_celsius{cube,circuit}
//	miyo_circuit_moisture_percent{cube,circuit}
//	miyo_circuit_brightness{cube,circuit}
//
// Sensor gauges only exist for circuits with a sensor. Circuit series are
// deleted when the circuit disappears.
//
//	collector := metrics.NewCollector()
//	collector.Attach(engine)
//	go collector.Serve(ctx, ":9108")
package metrics
