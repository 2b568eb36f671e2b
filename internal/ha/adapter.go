// Package ha bridges the arm to a home-automation hub over MQTT. The
// whole arm is modelled as a cover (open, close, stop, position) with
// one number entity per axis for fine control, all announced through
// Home Assistant discovery.
package ha

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"

	"tvarm/internal/logic/control"
	"tvarm/internal/logging"
)

// Controller is the command surface the adapter drives. *control.Manager
// satisfies it.
type Controller interface {
	Axes() []string
	SnapshotAll() []control.Snapshot
	Subscribe() (<-chan control.Snapshot, func())
	SetTarget(axis string, percent float64) error
	SetAll(percent float64) error
	Calibrate(axis string) error
	CalibrateAll() error
	Stop(axis string) error
	StopAll() error
	EmergencyStop() error
	ClearFault(axis string) error
	ClearAllFaults() error
}

// client is the slice of the paho API the adapter uses, small enough
// to fake in tests.
type client interface {
	Connect() mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Disconnect(quiesce uint)
	IsConnected() bool
}

// Config carries the broker coordinates and topic layout.
type Config struct {
	Broker          string
	ClientID        string
	Username        string
	Password        string
	TopicPrefix     string
	DiscoveryPrefix string
	DeviceName      string
	DeviceClass     string
	PublishInterval time.Duration
}

// Adapter owns the MQTT session. Inbound commands are handed to the
// controller; outbound state is published on every transition and on
// a steady timer so the hub can follow positions while an axis moves.
type Adapter struct {
	cfg  Config
	ctrl Controller
	clk  clock.Clock
	log  logging.Logger

	client client

	mu        sync.Mutex
	last      map[string]axisKey
	lastCover string
}

// axisKey is the transition-relevant part of a snapshot. Two
// snapshots with equal keys differ only in position or voltage, which
// the periodic publish covers.
type axisKey struct {
	state      control.State
	fault      control.FaultReason
	target     float64
	hasTarget  bool
	calibrated bool
	message    string
}

func keyOf(s control.Snapshot) axisKey {
	return axisKey{
		state:      s.State,
		fault:      s.Fault,
		target:     s.TargetOr(0),
		hasTarget:  s.Target != nil,
		calibrated: s.Calibrated(),
		message:    s.Message,
	}
}

// NewAdapter builds an adapter connected to a real broker session.
func NewAdapter(cfg Config, ctrl Controller, clk clock.Clock, log logging.Logger) *Adapter {
	a := newAdapter(cfg, ctrl, clk, log)

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetWill(a.topic("availability"), "offline", 1, true).
		SetOnConnectHandler(a.onConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Warnw("mqtt connection lost", "error", err)
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	a.client = mqtt.NewClient(opts)
	return a
}

func newAdapter(cfg Config, ctrl Controller, clk clock.Clock, log logging.Logger) *Adapter {
	return &Adapter{
		cfg:  cfg,
		ctrl: ctrl,
		clk:  clk,
		log:  log,
		last: make(map[string]axisKey),
	}
}

// Run connects and pumps state to the broker until ctx is cancelled.
// The initial connect retries in the background, so a broker that is
// down at boot does not kill the daemon.
func (a *Adapter) Run(ctx context.Context) error {
	token := a.client.Connect()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return errors.Wrap(err, "mqtt connect")
		}
	case <-ctx.Done():
		a.client.Disconnect(0)
		return nil
	}

	events, unsubscribe := a.ctrl.Subscribe()
	defer unsubscribe()
	ticker := a.clk.Ticker(a.cfg.PublishInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.publish(a.topic("availability"), true, "offline")
			a.client.Disconnect(250)
			return nil
		case snap, ok := <-events:
			if !ok {
				return errors.New("state stream closed")
			}
			a.publishIfTransitioned(snap)
		case <-ticker.C:
			a.publishAll()
		}
	}
}

// onConnect runs on every (re)connect: subscriptions do not survive a
// new session, so everything is set up again from scratch.
func (a *Adapter) onConnect(_ mqtt.Client) {
	a.log.Infow("mqtt connected", "broker", a.cfg.Broker)
	a.subscribeAll()
	a.publish(a.topic("availability"), true, "online")
	a.publishDiscovery()
	a.publishAll()
}

func (a *Adapter) subscribeAll() {
	subs := map[string]mqtt.MessageHandler{
		a.topic("command"):        a.handleCommand,
		a.topic("set_position"):   a.handleSetPosition,
		a.topic("calibrate"):      a.handleCalibrate,
		a.topic("emergency_stop"): a.handleEmergencyStop,
		a.topic("clear_fault"):    a.handleClearFault,
	}
	for _, axis := range a.ctrl.Axes() {
		subs[a.topic(axis, "set")] = a.axisSetHandler(axis)
	}
	for topic, handler := range subs {
		if token := a.client.Subscribe(topic, 1, handler); token.Wait() && token.Error() != nil {
			a.log.Errorw("subscribe failed", "topic", topic, "error", token.Error())
		}
	}
}

// ---------- inbound ----------

func (a *Adapter) handleCommand(_ mqtt.Client, msg mqtt.Message) {
	var err error
	switch cmd := strings.ToUpper(strings.TrimSpace(string(msg.Payload()))); cmd {
	case "OPEN":
		err = a.ctrl.SetAll(100)
	case "CLOSE":
		err = a.ctrl.SetAll(0)
	case "STOP":
		err = a.ctrl.StopAll()
	default:
		err = errors.Errorf("unknown command %q", cmd)
	}
	a.reportInbound(msg, err)
}

func (a *Adapter) handleSetPosition(_ mqtt.Client, msg mqtt.Message) {
	percent, err := strconv.ParseFloat(strings.TrimSpace(string(msg.Payload())), 64)
	if err == nil {
		err = a.ctrl.SetAll(percent)
	}
	a.reportInbound(msg, err)
}

func (a *Adapter) axisSetHandler(axis string) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		percent, err := strconv.ParseFloat(strings.TrimSpace(string(msg.Payload())), 64)
		if err == nil {
			err = a.ctrl.SetTarget(axis, percent)
		}
		a.reportInbound(msg, err)
	}
}

func (a *Adapter) handleCalibrate(_ mqtt.Client, msg mqtt.Message) {
	var err error
	switch axis := strings.TrimSpace(string(msg.Payload())); axis {
	case "", "all":
		err = a.ctrl.CalibrateAll()
	default:
		err = a.ctrl.Calibrate(axis)
	}
	a.reportInbound(msg, err)
}

func (a *Adapter) handleEmergencyStop(_ mqtt.Client, msg mqtt.Message) {
	a.log.Warnw("emergency stop requested over mqtt")
	a.reportInbound(msg, a.ctrl.EmergencyStop())
}

func (a *Adapter) handleClearFault(_ mqtt.Client, msg mqtt.Message) {
	var err error
	switch axis := strings.TrimSpace(string(msg.Payload())); axis {
	case "", "all":
		err = a.ctrl.ClearAllFaults()
	default:
		err = a.ctrl.ClearFault(axis)
	}
	a.reportInbound(msg, err)
}

func (a *Adapter) reportInbound(msg mqtt.Message, err error) {
	if err != nil {
		a.log.Warnw("command rejected", "topic", msg.Topic(), "payload", string(msg.Payload()), "error", err)
		return
	}
	a.log.Debugw("command accepted", "topic", msg.Topic(), "payload", string(msg.Payload()))
}

// ---------- outbound ----------

// publishIfTransitioned pushes immediately when something other than
// the position moved; plain position churn waits for the periodic
// publish.
func (a *Adapter) publishIfTransitioned(snap control.Snapshot) {
	key := keyOf(snap)
	a.mu.Lock()
	prev, seen := a.last[snap.Axis]
	if seen && prev == key {
		a.mu.Unlock()
		return
	}
	a.last[snap.Axis] = key
	a.mu.Unlock()

	a.publishAxis(snap)
	a.publishCover(a.ctrl.SnapshotAll())
}

func (a *Adapter) publishAll() {
	snaps := a.ctrl.SnapshotAll()
	for _, snap := range snaps {
		a.mu.Lock()
		a.last[snap.Axis] = keyOf(snap)
		a.mu.Unlock()
		a.publishAxis(snap)
	}
	a.publishCover(snaps)
}

func (a *Adapter) publishAxis(snap control.Snapshot) {
	body, err := json.Marshal(snap)
	if err != nil {
		a.log.Errorw("marshal snapshot", "axis", snap.Axis, "error", err)
		return
	}
	a.publish(a.topic(snap.Axis, "status"), true, string(body))
	a.publish(a.topic(snap.Axis, "state"), true, strconv.FormatFloat(snap.Position, 'f', 1, 64))
}

func (a *Adapter) publishCover(snaps []control.Snapshot) {
	if len(snaps) == 0 {
		return
	}
	mean := 0.0
	for _, s := range snaps {
		mean += s.Position
	}
	mean /= float64(len(snaps))

	a.publish(a.topic("position"), true, strconv.FormatFloat(mean, 'f', 0, 64))

	state := coverState(snaps, mean)
	a.mu.Lock()
	changed := state != a.lastCover
	a.lastCover = state
	a.mu.Unlock()
	if changed {
		a.log.Debugw("cover state", "state", state)
	}
	a.publish(a.topic("state"), true, state)
}

// coverState folds the axes into the hub's cover vocabulary. Any axis
// in motion wins; otherwise the mean position decides between the
// terminal states.
func coverState(snaps []control.Snapshot, mean float64) string {
	for _, s := range snaps {
		if s.State == control.Seeking {
			if s.TargetOr(s.Position) >= s.Position {
				return "opening"
			}
			return "closing"
		}
	}
	switch {
	case mean <= 1:
		return "closed"
	case mean >= 99:
		return "open"
	default:
		return "stopped"
	}
}

func (a *Adapter) publish(topic string, retained bool, payload string) {
	a.client.Publish(topic, 0, retained, payload)
}

func (a *Adapter) topic(parts ...string) string {
	return strings.Join(append([]string{a.cfg.TopicPrefix}, parts...), "/")
}
