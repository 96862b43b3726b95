package registry

import "github.com/opshift/ragrelay/internal/models"

// Callback channels advance the document lattice independently and may
// arrive in either order:
//
//	uploaded -> processing -> {markdown_received, vectors_received} -> completed
//
// failed is terminal and reachable from any non-terminal state.
//
// Production transitions happen in SQL (the guarded CASE updates in
// service.go) so they are atomic under concurrent callbacks; advance is
// the in-memory reference model the tests pin that SQL against.

type event string

const (
	eventMarkdown event = "markdown"
	eventVectors  event = "vectors"
)

// advance computes the next status for a callback event. It is monotone:
// the result is never earlier in the lattice than current, and re-applying
// the same event is a no-op.
func advance(current string, ev event) (next string, changed bool) {
	switch current {
	case models.DocStatusUploaded, models.DocStatusProcessing:
		if ev == eventMarkdown {
			return models.DocStatusMarkdownReceived, true
		}
		return models.DocStatusVectorsReceived, true
	case models.DocStatusMarkdownReceived:
		if ev == eventVectors {
			return models.DocStatusCompleted, true
		}
		return current, false
	case models.DocStatusVectorsReceived:
		if ev == eventMarkdown {
			return models.DocStatusCompleted, true
		}
		return current, false
	default:
		// completed and failed are terminal.
		return current, false
	}
}

// terminal reports whether no callback can move the document further.
func terminal(status string) bool {
	return status == models.DocStatusCompleted || status == models.DocStatusFailed
}
