// Package env provides the configuration shared by the PMU tools.
package env

import (
	"flag"
	"os"

	"github.com/denisbrodbeck/machineid"

	"github.com/robotalks/pmu.go/pkg/bridge/mqtt"
)

// Config locates a PMU instance on the broker.
type Config struct {
	// ID is the instance id, the topic prefix of its bridge.
	ID string
	// MQTTURL is the broker URL, e.g. mqtt://host:port/topic-prefix/
	MQTTURL string
}

var defaultConfig = Config{
	MQTTURL: "mqtt://localhost:1883/pmu/",
}

func init() {
	if val := os.Getenv("PMU_ID"); val != "" {
		defaultConfig.ID = val
	}
	if val := os.Getenv("PMU_MQTT_URL"); val != "" {
		defaultConfig.MQTTURL = val
	}
}

// SetupFlags sets up command line flags.
func SetupFlags() {
	flag.StringVar(&defaultConfig.ID, "id", defaultConfig.ID, "PMU instance id, default to the machine id.")
	flag.StringVar(&defaultConfig.MQTTURL, "mqtt", defaultConfig.MQTTURL, "MQTT broker URL.")
}

// Default gets the default config.
func Default() *Config {
	return &defaultConfig
}

// NewConfig creates a Config with default configurations.
func NewConfig() *Config {
	conf := defaultConfig
	return &conf
}

// InstanceID returns ID, or the machine id if it's not set.
func (c *Config) InstanceID() string {
	if c.ID != "" {
		return c.ID
	}
	return MachineID()
}

// Queue connects to the broker.
func (c *Config) Queue() (*mqtt.Queue, error) {
	q, err := mqtt.NewQueueFromURL(c.MQTTURL)
	if err != nil {
		return nil, err
	}
	if err := q.Connect(); err != nil {
		return nil, err
	}
	return q, nil
}

// ServerReadWriter connects and returns the bridge server side ReadWriter.
func (c *Config) ServerReadWriter() (*mqtt.ReadWriter, error) {
	q, err := c.Queue()
	if err != nil {
		return nil, err
	}
	return mqtt.NewReadWriter(q).ForServer(c.InstanceID()), nil
}

// ClientReadWriter connects and returns the client side ReadWriter.
func (c *Config) ClientReadWriter() (*mqtt.ReadWriter, error) {
	q, err := c.Queue()
	if err != nil {
		return nil, err
	}
	return mqtt.NewReadWriter(q).ForClient(c.InstanceID()), nil
}

// MachineID retrieves the unique ID identifying the machine, protected
// for use as a topic level.
func MachineID() string {
	id, err := machineid.ProtectedID("pmu")
	if err != nil {
		return "pmu"
	}
	return id
}
