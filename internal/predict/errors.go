package predict

import "fmt"

// InsufficientDataError means neither comparable sales nor a metal value
// were available. It is "no prediction", never a price of zero.
type InsufficientDataError struct {
	LotID  int64
	Reason string
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("predict: insufficient data for lot %d: %s", e.LotID, e.Reason)
}
