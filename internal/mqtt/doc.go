// Package mqtt mirrors MIYO cubes onto an MQTT broker and accepts circuit
// commands from it.
//
// The Client wraps paho.mqtt.golang with auto-reconnect, subscription
// restoration and a last will that marks the bridge offline. On top of it:
//
//   - Publisher is a bridge.CircuitListener and bridge.StatusHandler that
//     publishes retained circuit state and the cube connection status.
//   - CommandSubscriber listens on the circuit command topics and relays
//     each command to the engine.
//
// # Topics
//
//	miyo/bridge/status                  online | offline (last will)
//	miyo/<cube>/status                  online | offline | authentication_required
//	miyo/<cube>/circuit/<id>/state      retained circuit JSON, empty when removed
//	miyo/<cube>/circuit/<id>/set        {"irrigation":true} | {"winter":false} | on | off
//
// An irrigation request for a circuit in winter mode is refused without
// contacting the cube and the circuit state is republished with irrigation
// off. The same happens when the cube itself refuses.
//
// # Usage
//
//	client, err := mqtt.Connect(reg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	pub := mqtt.NewPublisher(client, client.Topics(), "garden")
//	engine.AddStatusHandler(pub)
//	engine.RegisterListener(pub)
//
//	cmds := mqtt.NewCommandSubscriber(client, engine, pub, client.QoS())
//	if err := cmds.Start(); err != nil {
//	    return err
//	}
package mqtt
