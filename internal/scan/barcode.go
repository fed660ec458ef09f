package scan

// Point is a pixel coordinate in the scanned frame.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Barcode is one decoded code.
type Barcode struct {
	Symbology     Symbology `json:"symbology"`
	Data          string    `json:"data"`
	RawData       []byte    `json:"rawData"`
	Location      []Point   `json:"location"`
	CompositeFlag int       `json:"compositeFlag"`
	Encoding      string    `json:"encoding,omitempty"`
}

// ScanResult is the outcome of one processed frame.
//
// ImageData is a snapshot of the submitted pixels, taken before the buffer
// was handed to the worker.
type ScanResult struct {
	Barcodes      []Barcode
	ImageData     []byte
	ImageSettings ImageSettings

	rejected map[int]struct{}
}

// RejectCode marks barcode i so it does not count towards scan feedback.
// Listeners call it while handling a scan event.
func (r *ScanResult) RejectCode(i int) {
	if i < 0 || i >= len(r.Barcodes) {
		return
	}
	if r.rejected == nil {
		r.rejected = make(map[int]struct{})
	}
	r.rejected[i] = struct{}{}
}

// IsRejected reports whether barcode i was rejected.
func (r *ScanResult) IsRejected(i int) bool {
	_, ok := r.rejected[i]
	return ok
}

// AcceptedCount is the number of barcodes not rejected by listeners.
func (r *ScanResult) AcceptedCount() int {
	return len(r.Barcodes) - len(r.rejected)
}
