package storage

// Session is a completed charging interval row, matching
// field for field (and original_source's domain::models::SessionRecord).
type Session struct {
	ID                      string
	StartedAt               *string
	FinishedAt              string
	DurationMs              int64
	EnergyKWh               float64
	Source                  string
	Status                  string
	StartedReason           string
	FinishedReason          string
	PollIntervalMs          int64
	DebounceSamples         int64
	ErrorCountDuringSession int64
	StationID               *string
	CreatedAt               string
	RawReport2Start         *string
	RawReport3Start         *string
	RawReport2End           *string
	RawReport3End           *string
}

// NewSession is the write-side shape passed to InsertSession; it omits ID
// which the engine generates.
type NewSession struct {
	StartedAt               *string
	FinishedAt              string
	DurationMs              int64
	EnergyKWh               float64
	Source                  string
	Status                  string
	StartedReason           string
	FinishedReason          string
	PollIntervalMs          int64
	DebounceSamples         int64
	ErrorCountDuringSession int64
	StationID               *string
	CreatedAt               string
	RawReport2Start         *string
	RawReport3Start         *string
	RawReport2End           *string
	RawReport3End           *string
}

// LogEvent is an append-only structured operational record.
type LogEvent struct {
	ID          string
	CreatedAt   string
	Level       string
	Code        string
	Message     string
	Source      string
	StationID   *string
	DetailsJSON *string
}

// NewLogEvent is the write-side shape passed to InsertLogEvent.
type NewLogEvent struct {
	CreatedAt   string
	Level       string
	Code        string
	Message     string
	Source      string
	StationID   *string
	DetailsJSON *string
}
