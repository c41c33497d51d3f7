package metric

// Document is one metric record as submitted to the CIM intake API and stored
// in the document store. Documents are append-only: the exporter only ever
// reads them, it never mutates or deletes.
type Document struct {
	// ID is the source-assigned identifier. It is monotonically assigned at
	// insert time and sortable as a string, so (Timestamp, ID) gives a stable
	// resume position even when two documents share a timestamp.
	ID string

	// Publisher is the identity of the submitter (an email address in CIM).
	Publisher string

	// Timestamp is the ISO-8601 insert time assigned by the intake API.
	// Stored as the original string; ISO-8601 with a fixed offset compares
	// correctly as a plain string, which is what the source store relies on.
	Timestamp string

	// Body is the arbitrary nested payload: objects, arrays and scalars as
	// produced by decoding JSON (map[string]any, []any, float64, string,
	// bool, nil).
	Body any
}

// Before reports whether the document sits at or before the position
// (timestamp, id). Used to decide whether a document is already covered by a
// watermark: a document is new when its timestamp is strictly greater, or the
// timestamp ties and its ID is strictly greater.
func (d Document) Before(timestamp, id string) bool {
	if d.Timestamp != timestamp {
		return d.Timestamp < timestamp
	}
	return d.ID <= id
}

// Less orders documents ascending by (Timestamp, ID).
func (d Document) Less(other Document) bool {
	if d.Timestamp != other.Timestamp {
		return d.Timestamp < other.Timestamp
	}
	return d.ID < other.ID
}
