package signin

import (
	"strings"

	"github.com/wolfeidau/storefront/internal/models"
)

var browsers = []string{"Chrome", "Firefox", "Safari", "Edge"}

var operatingSystems = []struct {
	token string
	name  string
}{
	{"Windows", "Windows"},
	{"Mac", "macOS"},
	{"Linux", "Linux"},
	{"Android", "Android"},
	{"iOS", "iOS"},
}

// GetDeviceInfo derives browser, OS and device type from a user agent using
// first-match substring checks. An empty user agent yields the zero value.
//
// The order matters: Chrome user agents also mention Safari, and Android
// ones usually mention Linux.
func GetDeviceInfo(userAgent string) models.DeviceInfo {
	if userAgent == "" {
		return models.DeviceInfo{}
	}

	var info models.DeviceInfo

	for _, b := range browsers {
		if strings.Contains(userAgent, b) {
			info.Browser = b
			break
		}
	}

	for _, os := range operatingSystems {
		if strings.Contains(userAgent, os.token) {
			info.OS = os.name
			break
		}
	}

	switch {
	case strings.Contains(userAgent, "Mobile"):
		info.DeviceType = "Mobile"
	case strings.Contains(userAgent, "Tablet"):
		info.DeviceType = "Tablet"
	default:
		info.DeviceType = "Desktop"
	}

	return info
}
