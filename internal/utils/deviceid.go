package utils

import (
	"bytes"
	"errors"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/google/uuid"
)

// systemNamespace scopes hardware-derived system ids to this application.
var systemNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("roombridge:system"))

// SystemUUID returns the site's system id and where it came from: the
// configured value, a UUID derived from the host hardware id, or a random
// one when the hardware id cannot be read.
func SystemUUID(configured string) (id, source string) {
	if configured != "" {
		return configured, "config"
	}
	if hw, err := HardwareID(); err == nil {
		return uuid.NewSHA1(systemNamespace, []byte(hw)).String(), "hardware"
	}
	return uuid.NewString(), "random"
}

// HardwareID returns a stable hardware identifier for the current host.
func HardwareID() (string, error) {
	switch runtime.GOOS {
	case "darwin":
		return macOSUUID()
	case "linux":
		return linuxUUID()
	case "windows":
		return windowsUUID()
	default:
		return "", errors.New("unsupported platform: " + runtime.GOOS)
	}
}

func macOSUUID() (string, error) {
	out, err := exec.Command("ioreg", "-rd1", "-c", "IOPlatformExpertDevice").Output()
	if err != nil {
		return "", err
	}
	for _, line := range strings.Split(string(out), "\n") {
		if strings.Contains(line, "IOPlatformUUID") {
			parts := strings.Split(line, "\"")
			if len(parts) >= 4 {
				return parts[3], nil
			}
		}
	}
	return "", errors.New("no IOPlatformUUID found")
}

func linuxUUID() (string, error) {
	for _, p := range []string{"/sys/class/dmi/id/product_uuid", "/etc/machine-id"} {
		if b, err := os.ReadFile(p); err == nil {
			if id := strings.TrimSpace(string(b)); id != "" {
				return id, nil
			}
		}
	}
	// Boards without DMI (ARM processors) expose a serial in cpuinfo.
	if cpuinfo, err := os.ReadFile("/proc/cpuinfo"); err == nil {
		for _, line := range strings.Split(string(cpuinfo), "\n") {
			if k, v, ok := strings.Cut(line, ":"); ok && strings.TrimSpace(k) == "Serial" {
				if id := strings.TrimSpace(v); id != "" {
					return id, nil
				}
			}
		}
	}
	return "", errors.New("no hardware UUID found on Linux")
}

func windowsUUID() (string, error) {
	out, err := exec.Command("wmic", "csproduct", "get", "UUID").Output()
	if err != nil {
		return "", err
	}
	for _, line := range bytes.Split(out, []byte("\n")) {
		s := strings.TrimSpace(string(line))
		if s != "" && !strings.EqualFold(s, "UUID") {
			return s, nil
		}
	}
	return "", errors.New("no hardware UUID found on Windows")
}
