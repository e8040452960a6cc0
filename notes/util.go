package notes

import (
	"runtime/debug"

	"github.com/golang/glog"
)

// safeInvoke runs a user callback and recovers a panic so one subscriber
// cannot take down the fan-out or the channel.
func safeInvoke(do func()) {
	defer func() {
		if r := recover(); r != nil {
			glog.Warningf("recovered callback panic: %s\n%s", r, debug.Stack())
		}
	}()
	do()
}
