package semantic

import (
	"github.com/google/uuid"

	"github.com/WessleyAI/docqa/engine/domain"
)

// Payload keys stored with each point.
const (
	keyContent  = "content"
	keyDocument = "document"
	keyPosition = "position"
	keyOrdinal  = "ordinal"
)

// pointNamespace scopes segment point IDs.
var pointNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("docqa/segment"))

// PointID derives a stable Qdrant point ID from a segment ID, so re-mirroring
// the same corpus overwrites instead of duplicating.
func PointID(id domain.SegmentID) string {
	return uuid.NewSHA1(pointNamespace, []byte(id.String())).String()
}

// VectorRecord is one point to store.
type VectorRecord struct {
	ID      domain.SegmentID
	Text    string
	Vector  []float32
	Ordinal int // insertion order in the local index
}
