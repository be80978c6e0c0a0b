// Package mqtt connects the relay to an MQTT broker.
//
// The broker is optional. When enabled, every routed envelope is mirrored
// to sscm/events/{deviceId}/{type} and commands published on
// sscm/command/{deviceId} enter the relay router as if a client had sent
// them. The relay's own liveness is kept retained on sscm/system/status,
// with a Last Will so an unclean exit shows up as offline.
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllCommands(), 1,
//	    func(topic string, payload []byte) error {
//	        router.Handle(ctx, nil, payload)
//	        return nil
//	    })
package mqtt
