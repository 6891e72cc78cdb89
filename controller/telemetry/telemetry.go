package telemetry

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Config struct {
	MQTTEnable bool   `yaml:"mqtt_enable"`
	MQTTBroker string `yaml:"mqtt_broker"`
	MQTTTopic  string `yaml:"mqtt_topic"`
	ClientID   string `yaml:"mqtt_client_id"`
}

func DefaultConfig() Config {
	return Config{
		MQTTBroker: "tcp://127.0.0.1:1883",
		MQTTTopic:  "aquatrack",
		ClientID:   "aquatrack-device",
	}
}

// Telemetry exposes device gauges over prometheus and, when configured,
// publishes usage snapshots over MQTT.
type Telemetry struct {
	registry *prometheus.Registry

	relayState   prometheus.Gauge
	triggerState prometheus.Gauge
	errorState   prometheus.Gauge
	totalHours   prometheus.Gauge
	totalLiters  prometheus.Gauge
	daysLeft     prometheus.Gauge
	pulses       prometheus.Counter
	syncSuccess  prometheus.Counter
	syncFailures prometheus.Counter

	topic string
	mqtt  mqtt.Client
}

func New(cfg Config) *Telemetry {
	t := &Telemetry{
		registry: prometheus.NewRegistry(),
		relayState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "aquatrack", Name: "relay_on", Help: "1 when the purification relay is energized",
		}),
		triggerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "aquatrack", Name: "trigger_active", Help: "1 when the safety trigger input is active",
		}),
		errorState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "aquatrack", Name: "error_state", Help: "1 when the server has rejected the customer id",
		}),
		totalHours: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "aquatrack", Name: "total_hours", Help: "Cumulative operating hours this billing cycle",
		}),
		totalLiters: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "aquatrack", Name: "total_liters", Help: "Cumulative liters dispensed this billing cycle",
		}),
		daysLeft: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "aquatrack", Name: "plan_days_remaining", Help: "Whole days until plan expiry (negative when overdue)",
		}),
		pulses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aquatrack", Name: "flow_pulses_total", Help: "Accepted flow sensor pulses",
		}),
		syncSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aquatrack", Name: "sync_success_total", Help: "Fully successful sync attempts",
		}),
		syncFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aquatrack", Name: "sync_failures_total", Help: "Sync attempts with at least one failed call",
		}),
		topic: cfg.MQTTTopic,
	}
	t.registry.MustRegister(
		t.relayState, t.triggerState, t.errorState,
		t.totalHours, t.totalLiters, t.daysLeft,
		t.pulses, t.syncSuccess, t.syncFailures,
	)

	if cfg.MQTTEnable {
		opts := mqtt.NewClientOptions().
			AddBroker(cfg.MQTTBroker).
			SetClientID(cfg.ClientID).
			SetAutoReconnect(true)
		client := mqtt.NewClient(opts)
		if token := client.Connect(); token.Wait() && token.Error() != nil {
			log.Println("telemetry: mqtt connect failed:", token.Error())
		} else {
			t.mqtt = client
		}
	}
	return t
}

// Handler serves the prometheus scrape endpoint.
func (t *Telemetry) Handler() http.Handler {
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{})
}

func b2f(v bool) float64 {
	if v {
		return 1
	}
	return 0
}

func (t *Telemetry) SetRelay(on bool)          { t.relayState.Set(b2f(on)) }
func (t *Telemetry) SetTrigger(active bool)    { t.triggerState.Set(b2f(active)) }
func (t *Telemetry) SetErrorState(e bool)      { t.errorState.Set(b2f(e)) }
func (t *Telemetry) SetUsage(h, l float64)     { t.totalHours.Set(h); t.totalLiters.Set(l) }
func (t *Telemetry) SetDaysRemaining(d int)    { t.daysLeft.Set(float64(d)) }
func (t *Telemetry) IncPulse()                 { t.pulses.Inc() }
func (t *Telemetry) IncSyncSuccess()           { t.syncSuccess.Inc() }
func (t *Telemetry) IncSyncFailure()           { t.syncFailures.Inc() }

// PublishUsage emits a usage snapshot on <topic>/<customerId>/usage. A nil or
// unconnected MQTT client makes this a no-op.
func (t *Telemetry) PublishUsage(customerID string, payload interface{}) {
	if t.mqtt == nil || customerID == "" {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		log.Println("telemetry: marshal usage:", err)
		return
	}
	topic := fmt.Sprintf("%s/%s/usage", t.topic, customerID)
	t.mqtt.Publish(topic, 0, false, data)
}

func (t *Telemetry) Close() {
	if t.mqtt != nil {
		t.mqtt.Disconnect(250)
	}
}
