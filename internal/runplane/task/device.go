package task

import (
	"strings"

	"github.com/pkg/errors"
)

type DeviceClass string

const (
	CPU DeviceClass = "CPU"
	GPU DeviceClass = "GPU"
)

func (d DeviceClass) String() string {
	return string(d)
}

// UnmarshalText lets configuration refer to device classes in any case.
func (d *DeviceClass) UnmarshalText(text []byte) error {
	value := strings.ToUpper(strings.TrimSpace(string(text)))
	if value == "" {
		return errors.New("device class must not be empty")
	}
	*d = DeviceClass(value)
	return nil
}
