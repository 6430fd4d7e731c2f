package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// computeDedupeKey derives a stable deduplication key in priority order:
// explicit idempotency key, then external event id (placeholder values
// excluded), then a content hash bucketed to the hour.
//
// The hourly bucket is an intentional soft guarantee, not an exact one: two
// otherwise-identical submissions one second apart across an hour boundary
// get different keys and are NOT deduplicated. This matches the source
// system's behavior and is not "fixed" here — see DESIGN.md Open Question 1.
func computeDedupeKey(e *Envelope) string {
	if e.Control.IdempotencyKey != "" {
		return fmt.Sprintf("idem:%s:%s:%s", e.Source.Channel, e.Source.EndpointIdentity, e.Control.IdempotencyKey)
	}

	if _, placeholder := placeholderEventIDs[strings.ToLower(e.Event.ExternalEventID)]; !placeholder {
		return fmt.Sprintf("event:%s:%s:%s:%s", e.Source.Channel, e.Source.Provider, e.Source.EndpointIdentity, e.Event.ExternalEventID)
	}

	contentRepr := e.Payload.NormalizedText + ":" + e.Sender.Identity
	sum := sha256.Sum256([]byte(contentRepr))
	contentHash := hex.EncodeToString(sum[:])[:16]
	timeBucket := e.Event.ObservedAt.UTC().Format("2006010215")

	return fmt.Sprintf("hash:%s:%s:%s:%s:%s", e.Source.Channel, e.Source.EndpointIdentity, e.Sender.Identity, timeBucket, contentHash)
}
