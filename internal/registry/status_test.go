package registry

import (
	"testing"

	"github.com/google/uuid"
	"github.com/opshift/ragrelay/internal/models"
	"github.com/stretchr/testify/require"
)

func mustUUID(t *testing.T, s string) uuid.UUID {
	t.Helper()
	id, err := uuid.Parse(s)
	require.NoError(t, err)
	return id
}

func TestAdvance_BothOrdersReachCompleted(t *testing.T) {
	// markdown first
	st, changed := advance(models.DocStatusProcessing, eventMarkdown)
	require.True(t, changed)
	require.Equal(t, models.DocStatusMarkdownReceived, st)

	st, changed = advance(st, eventVectors)
	require.True(t, changed)
	require.Equal(t, models.DocStatusCompleted, st)

	// vectors first
	st, changed = advance(models.DocStatusProcessing, eventVectors)
	require.True(t, changed)
	require.Equal(t, models.DocStatusVectorsReceived, st)

	st, changed = advance(st, eventMarkdown)
	require.True(t, changed)
	require.Equal(t, models.DocStatusCompleted, st)
}

func TestAdvance_Idempotent(t *testing.T) {
	st, changed := advance(models.DocStatusMarkdownReceived, eventMarkdown)
	require.False(t, changed)
	require.Equal(t, models.DocStatusMarkdownReceived, st)

	st, changed = advance(models.DocStatusVectorsReceived, eventVectors)
	require.False(t, changed)
	require.Equal(t, models.DocStatusVectorsReceived, st)
}

func TestAdvance_TerminalStatesNeverMove(t *testing.T) {
	for _, terminal := range []string{models.DocStatusCompleted, models.DocStatusFailed} {
		for _, ev := range []event{eventMarkdown, eventVectors} {
			st, changed := advance(terminal, ev)
			require.False(t, changed, "status %s event %s", terminal, ev)
			require.Equal(t, terminal, st)
		}
	}
}

// rank orders the lattice; Advance must never decrease it.
func rank(status string) int {
	switch status {
	case models.DocStatusUploaded:
		return 0
	case models.DocStatusProcessing:
		return 1
	case models.DocStatusMarkdownReceived, models.DocStatusVectorsReceived:
		return 2
	case models.DocStatusCompleted, models.DocStatusFailed:
		return 3
	}
	return -1
}

func TestAdvance_Monotone(t *testing.T) {
	statuses := []string{
		models.DocStatusUploaded, models.DocStatusProcessing,
		models.DocStatusMarkdownReceived, models.DocStatusVectorsReceived,
		models.DocStatusCompleted, models.DocStatusFailed,
	}
	for _, st := range statuses {
		for _, ev := range []event{eventMarkdown, eventVectors} {
			next, _ := advance(st, ev)
			require.GreaterOrEqual(t, rank(next), rank(st), "regressed from %s on %s", st, ev)
		}
	}
}

func TestAdvance_AnyCallbackSequenceEndsConsistent(t *testing.T) {
	// For every interleaving of the two events, exactly one application of
	// each reaches completed and further events change nothing.
	sequences := [][]event{
		{eventMarkdown, eventVectors},
		{eventVectors, eventMarkdown},
		{eventMarkdown, eventMarkdown, eventVectors},
		{eventVectors, eventVectors, eventMarkdown, eventMarkdown},
	}
	for _, seq := range sequences {
		st := models.DocStatusProcessing
		completions := 0
		for _, ev := range seq {
			next, changed := advance(st, ev)
			if changed && next == models.DocStatusCompleted {
				completions++
			}
			st = next
		}
		require.Equal(t, models.DocStatusCompleted, st)
		require.Equal(t, 1, completions, "sequence %v", seq)
	}
}

func TestTerminal(t *testing.T) {
	require.True(t, terminal(models.DocStatusCompleted))
	require.True(t, terminal(models.DocStatusFailed))
	require.False(t, terminal(models.DocStatusUploaded))
	require.False(t, terminal(models.DocStatusMarkdownReceived))
}

func TestBuildDocumentDelivery(t *testing.T) {
	doc := &models.Document{
		FileName:      "handbook.pdf",
		FileType:      "application/pdf",
		FileSizeBytes: 1024,
	}
	doc.ID = mustUUID(t, "7b3e12aa-3e05-4c2b-b24c-2f0a51a0d000")
	doc.TenantID = mustUUID(t, "11111111-2222-3333-4444-555555555555")
	doc.CallbackID = mustUUID(t, "aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee")

	d := buildDocumentDelivery("https://processor.example/intake", "https://app.example", doc, "cbt_tok")

	require.Equal(t, "https://processor.example/intake", d.TargetURL)
	require.Equal(t, "bearer", d.AuthScheme)
	require.Equal(t, models.WebhookRefDocument, d.RefKind)
	require.Equal(t, doc.ID, d.RefID)
	require.Equal(t, "document-processing", d.Payload.Action)
	require.Equal(t, "cbt_tok", d.Payload.CallbackToken)
	require.Equal(t,
		"https://app.example/api/rag/document-callback/7b3e12aa-3e05-4c2b-b24c-2f0a51a0d000",
		d.Payload.MarkdownCallbackURL)
	require.Equal(t,
		"https://app.example/api/rag/callback/aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee",
		d.Payload.VectorCallbackURL)
	// No source URL given: the processor fetches the document from us.
	require.Equal(t,
		"https://app.example/api/v1/documents/7b3e12aa-3e05-4c2b-b24c-2f0a51a0d000",
		d.Payload.DocumentURL)
}
