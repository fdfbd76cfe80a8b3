package processor

// Outcome is the tagged result of one dimension (data or screenshot) after
// all tiers that were tried for it.
type Outcome[T any] struct {
	Value T
	Err   error
	// Method is the tier that produced Value or the last failure.
	Method string
}

func succeeded[T any](v T, method string) Outcome[T] {
	return Outcome[T]{Value: v, Method: method}
}

func failed[T any](err error, method string) Outcome[T] {
	return Outcome[T]{Err: err, Method: method}
}

// OK reports whether the dimension succeeded.
func (o Outcome[T]) OK() bool { return o.Err == nil }

// Grid classifies the primary tier's (data, screenshot) outcome pair.
type Grid int

const (
	// BothOK needs no fallback.
	BothOK Grid = iota
	// ScreenshotFailed escalates only the screenshot.
	ScreenshotFailed
	// DataFailed escalates only the data.
	DataFailed
	// BothFailed escalates both dimensions concurrently.
	BothFailed
)

// Classify maps the two dimension results onto the grid.
func Classify(dataOK, shotOK bool) Grid {
	switch {
	case dataOK && shotOK:
		return BothOK
	case dataOK:
		return ScreenshotFailed
	case shotOK:
		return DataFailed
	default:
		return BothFailed
	}
}

func (g Grid) String() string {
	switch g {
	case BothOK:
		return "both_ok"
	case ScreenshotFailed:
		return "screenshot_failed"
	case DataFailed:
		return "data_failed"
	case BothFailed:
		return "both_failed"
	default:
		return "unknown"
	}
}
