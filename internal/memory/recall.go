package memory

import (
	"fmt"
	"sync"

	"github.com/blevesearch/bleve"
	"github.com/blevesearch/bleve/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/mapping"
	"github.com/caravanhq/caravan/models"
)

// indexedNote is the document shape stored in the bleve index.
type indexedNote struct {
	ParticipantID string `json:"participant_id"`
	Content       string `json:"content"`
	Kind          string `json:"kind"`
}

// Recall is an in-memory full-text index over participant memory notes.
// Prompt assembly asks it for the notes most relevant to the conversation
// instead of injecting every note verbatim.
type Recall struct {
	index bleve.Index
	meta  map[string]models.MemoryNote
	mu    sync.RWMutex
}

// NewRecall creates an empty memory-only index.
func NewRecall() (*Recall, error) {
	index, err := bleve.NewMemOnly(noteIndexMapping())
	if err != nil {
		return nil, err
	}
	return &Recall{index: index, meta: make(map[string]models.MemoryNote)}, nil
}

// noteIndexMapping indexes participant_id verbatim. The default analyzer
// would tokenize it (UUIDs split at hyphens) and term queries on the owner
// would never match.
func noteIndexMapping() mapping.IndexMapping {
	owner := bleve.NewTextFieldMapping()
	owner.Analyzer = keyword.Name

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt("participant_id", owner)

	m := bleve.NewIndexMapping()
	m.DefaultMapping = doc
	return m
}

// AddNote indexes one memory note for a participant.
func (r *Recall) AddNote(participantID string, note models.MemoryNote) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.meta[note.ID] = note
	return r.index.Index(note.ID, indexedNote{
		ParticipantID: participantID,
		Content:       note.Content,
		Kind:          note.Kind,
	})
}

// AddParticipant indexes all of a participant's notes.
func (r *Recall) AddParticipant(p models.Participant) error {
	for _, n := range p.Memories {
		if err := r.AddNote(p.ID, n); err != nil {
			return err
		}
	}
	return nil
}

// Recall returns the top-k notes for one participant ranked by relevance to
// the query. An empty result is not an error; callers fall back to recency.
func (r *Recall) Recall(participantID, q string, k int) ([]models.MemoryNote, error) {
	if k <= 0 {
		k = 3
	}
	content := bleve.NewMatchQuery(q)
	content.SetField("content")
	owner := bleve.NewTermQuery(participantID)
	owner.SetField("participant_id")
	query := bleve.NewConjunctionQuery(content, owner)

	req := bleve.NewSearchRequestOptions(query, k, 0, false)
	res, err := r.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("memory search failed: %w", err)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.MemoryNote
	for _, hit := range res.Hits {
		if note, ok := r.meta[hit.ID]; ok {
			out = append(out, note)
		}
	}
	return out, nil
}

// Close releases the underlying index.
func (r *Recall) Close() error { return r.index.Close() }
