package entities

import (
	"errors"
	"math"
	"time"
)

// Category classifies an annotation record. Neumes are the musical signs
// above the text line, syllables are the text fragments they belong to.
type Category string

const (
	CategoryNeume    Category = "neume"
	CategorySyllable Category = "syllable"
)

// ParseCategory maps a raw category string onto a known Category.
// Anything that is not exactly "neume" is treated as a syllable.
func ParseCategory(raw string) Category {
	if raw == string(CategoryNeume) {
		return CategoryNeume
	}
	return CategorySyllable
}

// Point is a position on the manuscript image in pixel coordinates.
type Point struct {
	X float64 `json:"x" bson:"x"`
	Y float64 `json:"y" bson:"y"`
}

// BoundingBox is an axis-aligned rectangle on the manuscript image.
// X and Y address the top-left corner, the Y axis grows downward.
type BoundingBox struct {
	X      float64 `json:"x" bson:"x"`
	Y      float64 `json:"y" bson:"y"`
	Width  float64 `json:"width" bson:"width"`
	Height float64 `json:"height" bson:"height"`
}

// HasPosition reports whether the box carries usable numeric coordinates.
// Boxes with NaN or infinite fields are ignored by connection inference.
func (b BoundingBox) HasPosition() bool {
	for _, v := range []float64{b.X, b.Y, b.Width, b.Height} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Left returns the x coordinate of the left edge.
func (b BoundingBox) Left() float64 {
	return b.X
}

// Right returns the x coordinate of the right edge.
func (b BoundingBox) Right() float64 {
	return b.X + b.Width
}

// Top returns the y coordinate of the top edge.
func (b BoundingBox) Top() float64 {
	return b.Y
}

// Bottom returns the y coordinate of the bottom edge.
func (b BoundingBox) Bottom() float64 {
	return b.Y + b.Height
}

// CenterX returns the x coordinate of the horizontal center.
func (b BoundingBox) CenterX() float64 {
	return b.X + b.Width/2
}

// BottomCenter returns the midpoint of the bottom edge. Connections
// leave a neume box from this point.
func (b BoundingBox) BottomCenter() Point {
	return Point{X: b.CenterX(), Y: b.Bottom()}
}

// TopCenter returns the midpoint of the top edge. Connections arrive
// at a syllable box at this point.
func (b BoundingBox) TopCenter() Point {
	return Point{X: b.CenterX(), Y: b.Top()}
}

// AnnotationRecord is one spoken classification, optionally anchored to a
// region of the manuscript. A record starts life as an unplaced draft and
// receives its bounding box once the annotator marks the region.
type AnnotationRecord struct {
	Category  Category     `json:"category" bson:"category"`
	Label     string       `json:"label" bson:"label"`
	Box       *BoundingBox `json:"box,omitempty" bson:"box,omitempty"`
	CallID    string       `json:"call_id,omitempty" bson:"call_id,omitempty"`
	CreatedAt time.Time    `json:"created_at" bson:"created_at"`
}

// Placed reports whether the record has been anchored to the manuscript.
func (r AnnotationRecord) Placed() bool {
	return r.Box != nil
}

// Locatable reports whether the record can take part in connection
// inference. Unplaced drafts and boxes with broken coordinates cannot.
func (r AnnotationRecord) Locatable() bool {
	return r.Box != nil && r.Box.HasPosition()
}

// Validate checks that the record is well formed enough to store.
func (r AnnotationRecord) Validate() error {
	if r.Category != CategoryNeume && r.Category != CategorySyllable {
		return errors.New("annotation category must be neume or syllable")
	}
	return nil
}

// Connection links one neume record to the syllable it was sung over.
// Indexes refer to positions in the session's record sequence. From is
// the bottom center of the neume box, To the top center of the syllable
// box, so a renderer can draw the link without consulting the records.
type Connection struct {
	Neume    int   `json:"neume" bson:"neume"`
	Syllable int   `json:"syllable" bson:"syllable"`
	From     Point `json:"from" bson:"from"`
	To       Point `json:"to" bson:"to"`
}
