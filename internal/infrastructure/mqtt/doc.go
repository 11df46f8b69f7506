// Package mqtt connects Starport to an MQTT broker so home-automation and
// observatory dashboards can follow the INDI server without speaking INDI.
//
// Starport publishes:
//
//	starport/system/status               retained online/offline (also the LWT)
//	starport/indi/server/state           retained server state
//	starport/indi/server/stats           periodic counters
//	starport/indi/driver/<label>/event   driver start/stop
//	starport/indi/command/result         outcome of relayed commands
//
// and subscribes to starport/indi/command for driver control requests.
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.Command(), 1, handler)
package mqtt
