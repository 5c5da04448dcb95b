// Package linking infers which syllable each neume annotation belongs to
// from box geometry alone. Chant notation places a neume directly above
// the syllable it is sung on, so the engine looks straight down from
// every neume and picks the nearest plausible syllable underneath it.
package linking

import (
	"math"

	"github.com/sanktgall/neumascribe/domain/entities"
)

// verticalReachFactor bounds how far below a neume a syllable may sit,
// expressed in multiples of the neume's own height. Taller neumes may
// reach further down.
const verticalReachFactor = 5.0

// verticalWeight makes vertical distance count double against
// horizontal offset when scoring candidates. Staying on the right text
// line matters more than being perfectly centered.
const verticalWeight = 2.0

// Infer recomputes the full connection set for a record sequence. It is
// a pure function of its input: same records in, same connections out,
// in neume record order. Records that cannot take part, unplaced drafts
// and boxes with broken coordinates, are skipped rather than reported.
func Infer(records []entities.AnnotationRecord) []entities.Connection {
	type placed struct {
		index int
		box   entities.BoundingBox
	}

	var neumes []placed
	var syllables []placed
	for i, record := range records {
		if !record.Locatable() {
			continue
		}
		p := placed{index: i, box: *record.Box}
		if record.Category == entities.CategoryNeume {
			neumes = append(neumes, p)
		} else {
			syllables = append(syllables, p)
		}
	}

	connections := make([]entities.Connection, 0, len(neumes))
	for _, neume := range neumes {
		centerX := neume.box.CenterX()
		bottom := neume.box.Bottom()
		reach := verticalReachFactor * neume.box.Height

		bestIndex := -1
		var bestScore float64
		var bestTop entities.Point
		for _, syllable := range syllables {
			top := syllable.box.Top()
			if top < neume.box.Top() {
				continue
			}
			// A syllable stays eligible within one extra box width on
			// either side, so a neume over the fringe of a wide melisma
			// still finds its text.
			if centerX < syllable.box.Left()-syllable.box.Width {
				continue
			}
			if centerX > syllable.box.Right()+syllable.box.Width {
				continue
			}
			drop := top - bottom
			if drop < 0 || drop >= reach {
				continue
			}

			score := verticalWeight*drop + math.Abs(centerX-syllable.box.CenterX())
			if bestIndex == -1 || score < bestScore {
				bestIndex = syllable.index
				bestScore = score
				bestTop = syllable.box.TopCenter()
			}
		}

		if bestIndex == -1 {
			continue
		}
		connections = append(connections, entities.Connection{
			Neume:    neume.index,
			Syllable: bestIndex,
			From:     entities.Point{X: centerX, Y: bottom},
			To:       bestTop,
		})
	}

	return connections
}
