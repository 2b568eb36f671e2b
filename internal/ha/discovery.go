package ha

import (
	"encoding/json"
	"fmt"
)

// Home Assistant MQTT discovery payloads. Everything is published
// retained under <discovery_prefix>/<component>/<client_id>/... so
// the hub rebuilds the entities after its own restarts.

type discoveryDevice struct {
	Identifiers []string `json:"identifiers"`
	Name        string   `json:"name"`
	Model       string   `json:"model,omitempty"`
}

type coverDiscovery struct {
	Name               string          `json:"name"`
	UniqueID           string          `json:"unique_id"`
	DeviceClass        string          `json:"device_class,omitempty"`
	CommandTopic       string          `json:"command_topic"`
	PositionTopic      string          `json:"position_topic"`
	SetPositionTopic   string          `json:"set_position_topic"`
	StateTopic         string          `json:"state_topic"`
	AvailabilityTopic  string          `json:"availability_topic"`
	PayloadOpen        string          `json:"payload_open"`
	PayloadClose       string          `json:"payload_close"`
	PayloadStop        string          `json:"payload_stop"`
	PositionOpen       int             `json:"position_open"`
	PositionClosed     int             `json:"position_closed"`
	Device             discoveryDevice `json:"device"`
}

type numberDiscovery struct {
	Name                string          `json:"name"`
	UniqueID            string          `json:"unique_id"`
	CommandTopic        string          `json:"command_topic"`
	StateTopic          string          `json:"state_topic"`
	JSONAttributesTopic string          `json:"json_attributes_topic"`
	AvailabilityTopic   string          `json:"availability_topic"`
	Min                 int             `json:"min"`
	Max                 int             `json:"max"`
	Step                float64         `json:"step"`
	UnitOfMeasurement   string          `json:"unit_of_measurement"`
	Mode                string          `json:"mode"`
	Device              discoveryDevice `json:"device"`
}

type buttonDiscovery struct {
	Name              string          `json:"name"`
	UniqueID          string          `json:"unique_id"`
	CommandTopic      string          `json:"command_topic"`
	PayloadPress      string          `json:"payload_press"`
	AvailabilityTopic string          `json:"availability_topic"`
	Device            discoveryDevice `json:"device"`
}

func (a *Adapter) device() discoveryDevice {
	return discoveryDevice{
		Identifiers: []string{a.cfg.ClientID},
		Name:        a.cfg.DeviceName,
		Model:       "tvarm",
	}
}

func (a *Adapter) discoveryTopic(component, objectID string) string {
	return fmt.Sprintf("%s/%s/%s/%s/config", a.cfg.DiscoveryPrefix, component, a.cfg.ClientID, objectID)
}

func (a *Adapter) publishDiscovery() {
	avail := a.topic("availability")

	a.publishConfig(a.discoveryTopic("cover", "arm"), coverDiscovery{
		Name:              a.cfg.DeviceName,
		UniqueID:          a.cfg.ClientID + "_arm",
		DeviceClass:       a.cfg.DeviceClass,
		CommandTopic:      a.topic("command"),
		PositionTopic:     a.topic("position"),
		SetPositionTopic:  a.topic("set_position"),
		StateTopic:        a.topic("state"),
		AvailabilityTopic: avail,
		PayloadOpen:       "OPEN",
		PayloadClose:      "CLOSE",
		PayloadStop:       "STOP",
		PositionOpen:      100,
		PositionClosed:    0,
		Device:            a.device(),
	})

	for _, axis := range a.ctrl.Axes() {
		a.publishConfig(a.discoveryTopic("number", axis), numberDiscovery{
			Name:                a.cfg.DeviceName + " " + axis,
			UniqueID:            a.cfg.ClientID + "_" + axis,
			CommandTopic:        a.topic(axis, "set"),
			StateTopic:          a.topic(axis, "state"),
			JSONAttributesTopic: a.topic(axis, "status"),
			AvailabilityTopic:   avail,
			Min:                 0,
			Max:                 100,
			Step:                0.5,
			UnitOfMeasurement:   "%",
			Mode:                "slider",
			Device:              a.device(),
		})
	}

	buttons := []struct {
		object  string
		name    string
		topic   string
		payload string
	}{
		{"calibrate", a.cfg.DeviceName + " calibrate", a.topic("calibrate"), "all"},
		{"emergency_stop", a.cfg.DeviceName + " emergency stop", a.topic("emergency_stop"), "PRESS"},
		{"clear_fault", a.cfg.DeviceName + " clear fault", a.topic("clear_fault"), "all"},
	}
	for _, b := range buttons {
		a.publishConfig(a.discoveryTopic("button", b.object), buttonDiscovery{
			Name:              b.name,
			UniqueID:          a.cfg.ClientID + "_" + b.object,
			CommandTopic:      b.topic,
			PayloadPress:      b.payload,
			AvailabilityTopic: avail,
			Device:            a.device(),
		})
	}
}

func (a *Adapter) publishConfig(topic string, payload interface{}) {
	body, err := json.Marshal(payload)
	if err != nil {
		a.log.Errorw("marshal discovery config", "topic", topic, "error", err)
		return
	}
	a.publish(topic, true, string(body))
}
