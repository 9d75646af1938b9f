package collector

import (
	"path/filepath"

	"github.com/nozo-moto/datamonitor/pkg/types"
)

var (
	DefaultCellularPatterns = []string{"rmnet*", "ccmni*", "wwan*", "ppp*", "usb*", "v4-rmnet*"}
	DefaultWLANPatterns     = []string{"wlan*", "wl*", "wifi*", "ath*", "swlan*"}
)

// Classifier maps interface names to network classes using glob patterns.
type Classifier struct {
	cellular []string
	wlan     []string
}

func NewClassifier(cellular, wlan []string) *Classifier {
	if len(cellular) == 0 {
		cellular = DefaultCellularPatterns
	}
	if len(wlan) == 0 {
		wlan = DefaultWLANPatterns
	}
	return &Classifier{cellular: cellular, wlan: wlan}
}

// Classify reports the class of iface. Loopback, wired and virtual
// interfaces match neither list and are not accounted.
func (c *Classifier) Classify(iface string) (types.NetworkClass, bool) {
	if matchAny(c.wlan, iface) {
		return types.WLAN, true
	}
	if matchAny(c.cellular, iface) {
		return types.Cellular, true
	}
	return 0, false
}

func matchAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if ok, _ := filepath.Match(p, name); ok {
			return true
		}
	}
	return false
}
