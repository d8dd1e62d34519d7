// Package influxdb wraps influxdb-client-go for appliance status history.
//
// Every poll cycle the bridge records the numeric status fields of each
// device (target temperature, mode, fan speed and so on) plus a
// connectivity flag. Writes are non-blocking and batched by the
// underlying client; async failures surface through SetOnError.
//
// Measurements:
//
//	appliance_status        tags: account, device, field  field: value
//	appliance_connectivity  tags: account, device         field: value (0/1)
//
// Example usage:
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WriteStatusField("user@example.com", "dev-a", "H03", 22)
package influxdb
