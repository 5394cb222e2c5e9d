// Package crdt wraps the conflict-free replicated document primitive used
// for collaborative editing. Content lives in a single text object under
// the "content" key of the root map; merge semantics (commutative,
// idempotent application of incremental updates) come from automerge.
package crdt

import (
	"errors"
	"fmt"

	"github.com/automerge/automerge-go"
)

const contentKey = "content"

// ErrMalformedUpdate indicates an update payload that could not be merged.
var ErrMalformedUpdate = errors.New("malformed update payload")

// Document is a replicated-state object holding one document's content.
// It is not safe for concurrent use; callers serialize access.
type Document struct {
	doc *automerge.Doc
}

// New creates an empty document with no history.
func New() *Document {
	return &Document{doc: automerge.New()}
}

// Load reconstructs a document from a full serialized save.
func Load(raw []byte) (*Document, error) {
	doc, err := automerge.Load(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedUpdate, err)
	}

	return &Document{doc: doc}, nil
}

// ApplyUpdate merges an incremental update fragment into the document.
// Applying the same fragment twice is a no-op beyond the first
// application. Returns ErrMalformedUpdate if the payload cannot be
// merged; the document is left unchanged in that case.
func (d *Document) ApplyUpdate(fragment []byte) error {
	if len(fragment) == 0 {
		return fmt.Errorf("%w: empty payload", ErrMalformedUpdate)
	}

	if err := d.doc.LoadIncremental(fragment); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedUpdate, err)
	}

	return nil
}

// Save returns the full serialized document, suitable for Load.
func (d *Document) Save() []byte {
	return d.doc.Save()
}

// IncrementalSave returns the changes made since the last Save or
// IncrementalSave call, as an update fragment.
func (d *Document) IncrementalSave() []byte {
	return d.doc.SaveIncremental()
}

// Empty reports whether the document has no committed changes.
func (d *Document) Empty() bool {
	return len(d.doc.Heads()) == 0
}

// SetMarkup replaces the document content with the given markup string,
// creating the content text object. Used at hydration time.
func (d *Document) SetMarkup(markup string) error {
	if err := d.doc.Path(contentKey).Set(automerge.NewText(markup)); err != nil {
		return fmt.Errorf("set content: %w", err)
	}

	return nil
}

// Markup renders the current content as a markup string. The rendering is
// deterministic: identical state yields byte-identical markup.
func (d *Document) Markup() (string, error) {
	v, err := d.doc.Path(contentKey).Get()
	if err != nil {
		return "", fmt.Errorf("read content: %w", err)
	}

	if v.Kind() == automerge.KindVoid {
		return "", nil
	}

	if v.Kind() != automerge.KindText {
		return "", fmt.Errorf("content is %v, expected text", v.Kind())
	}

	text, err := v.Text().Get()
	if err != nil {
		return "", fmt.Errorf("read content text: %w", err)
	}

	return text, nil
}

// InsertText inserts a string into the content text at the given rune
// position. Primarily used by peers producing update fragments.
func (d *Document) InsertText(pos int, s string) error {
	return d.doc.Path(contentKey).Text().Insert(pos, s)
}

// DeleteText removes count runes of content text starting at pos.
func (d *Document) DeleteText(pos, count int) error {
	return d.doc.Path(contentKey).Text().Delete(pos, count)
}

// AppendText appends a string to the end of the content text.
func (d *Document) AppendText(s string) error {
	return d.doc.Path(contentKey).Text().Append(s)
}

// Fork returns an independent copy of the document sharing its history.
func (d *Document) Fork() (*Document, error) {
	fork, err := d.doc.Fork()
	if err != nil {
		return nil, fmt.Errorf("fork document: %w", err)
	}

	return &Document{doc: fork}, nil
}
