package server

// PartResult is one segmented part of a response. Mask is a base64 0/255 PNG.
type PartResult struct {
	Part  string `json:"part"`
	Label int    `json:"label"`
	Area  int    `json:"area"`
	BBox  [4]int `json:"bbox"`
	Mask  string `json:"mask"`
}

// SegmentResponse is the outcome of segmenting one uploaded image. Overlay and Semantics are
// base64 PNGs.
type SegmentResponse struct {
	MD5       string       `json:"md5"`
	Width     int          `json:"width"`
	Height    int          `json:"height"`
	Strategy  string       `json:"strategy"`
	Parts     []PartResult `json:"parts"`
	Overlay   string       `json:"overlay"`
	Semantics string       `json:"semantics"`
}

type Response struct {
	Success bool             `json:"success"`
	Message string           `json:"message"`
	Data    *SegmentResponse `json:"data,omitempty"`
	Cached  bool             `json:"cached,omitempty"`
}

type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}
