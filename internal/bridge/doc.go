// Package bridge connects the INDI connector to the outside world.
//
// A Dispatcher takes the supervisor's and connector's synchronous event
// callbacks off their goroutines and fans them out to sinks: the history
// recorder, InfluxDB, MQTT and the API's WebSocket hub. A CommandHandler
// executes rate-limited driver commands received over MQTT, and a Reporter
// samples server and channel statistics on a timer.
package bridge
