package config

import (
	"encoding/hex"
	"errors"
	"net"
	"strings"
)

// ErrNoDeviceID is returned when no ID is configured and no MAC is available
var ErrNoDeviceID = errors.New("no device id configured and no hardware address found")

// interfaces is replaced in tests
var interfaces = net.Interfaces

// DeviceID returns the configured ID or one derived from the first
// non-loopback interface's MAC, uppercase hex without separators.
func (c *Config) DeviceID() (string, error) {
	if c.Device.ID != "" {
		return c.Device.ID, nil
	}

	ifaces, err := interfaces()
	if err != nil {
		return "", err
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || len(iface.HardwareAddr) == 0 {
			continue
		}
		return strings.ToUpper(hex.EncodeToString(iface.HardwareAddr)), nil
	}
	return "", ErrNoDeviceID
}
