//go:build !realring
// +build !realring

package activation

import "fmt"

// NewBatchSignaller is available when built with -tags realring.
func NewBatchSignaller() (BatchSignaller, error) {
	return nil, fmt.Errorf("realring not enabled; build with -tags realring")
}
