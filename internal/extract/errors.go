package extract

// InvalidInputError reports a description that is not usable text. It is
// fatal for the lot it belongs to; missing optional fields never produce it.
type InvalidInputError struct {
	Reason string
}

func (e *InvalidInputError) Error() string {
	return "extract: invalid input: " + e.Reason
}
