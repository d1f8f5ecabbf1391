package activation

import (
	"time"

	"github.com/ehrlich-b/go-mediagraph/internal/constants"
)

// pollTick returns a channel that fires once after
// constants.DriverPollTimeout, the bound on how long Wait can sit idle
// between eventfd polls (§4.1's DriverPollTimeout).
func pollTick() <-chan time.Time {
	return time.After(constants.DriverPollTimeout)
}
