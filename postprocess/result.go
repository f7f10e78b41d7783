package postprocess

// Detection is one surviving detection for one image.
type Detection struct {
	// Index is the candidate's index within the set the suppressor consumed
	// (after any pre-NMS trim).
	Index int `json:"index" yaml:"index"`
	// Box is the decoded box in image-pixel space.
	Box BoundingBox `json:"box" yaml:"box"`
	// Score is the product of objectness and the class confidence.
	Score float32 `json:"score" yaml:"score"`
	// Class is the predicted class index.
	Class int `json:"class" yaml:"class"`
}
