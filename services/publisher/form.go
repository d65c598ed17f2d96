package publisher

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"strings"
)

// Entry is the normalized unit transmitted for a resource.
type Entry struct {
	Key string
	// Filename is always empty: parts are sent without a filename parameter.
	Filename    string
	Content     []byte
	ContentType string
	Headers     textproto.MIMEHeader
}

// NewEntry resolves a resource's identity and content.
func NewEntry(r Resource) (Entry, error) {
	id, err := r.ID()
	if err != nil {
		return Entry{}, err
	}
	content, err := r.Content()
	if err != nil {
		return Entry{}, err
	}
	return Entry{
		Key:         id,
		Content:     content,
		ContentType: r.ContentType(),
		Headers:     r.Headers(),
	}, nil
}

// Form is an ordered set of entries keyed by identity.
type Form struct {
	entries []Entry
	index   map[string]int
}

// Add stores e. An existing entry with the same key is replaced in place;
// the return value reports whether that happened.
func (f *Form) Add(e Entry) (replaced bool) {
	if f.index == nil {
		f.index = map[string]int{}
	}
	if i, ok := f.index[e.Key]; ok {
		f.entries[i] = e
		return true
	}
	f.index[e.Key] = len(f.entries)
	f.entries = append(f.entries, e)
	return false
}

// Entries returns the entries in insertion order.
func (f *Form) Entries() []Entry {
	return f.entries
}

func (f *Form) Len() int { return len(f.entries) }

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// Encode writes the form as multipart/form-data and returns its content type.
func (f *Form) Encode(w io.Writer) (string, error) {
	mw := multipart.NewWriter(w)
	for _, e := range f.entries {
		h := textproto.MIMEHeader{}
		for k, v := range e.Headers {
			h[k] = append([]string(nil), v...)
		}
		disposition := fmt.Sprintf(`form-data; name="%s"`, quoteEscaper.Replace(e.Key))
		if e.Filename != "" {
			disposition += fmt.Sprintf(`; filename="%s"`, quoteEscaper.Replace(e.Filename))
		}
		h.Set("Content-Disposition", disposition)
		h.Set("Content-Type", e.ContentType)

		part, err := mw.CreatePart(h)
		if err != nil {
			return "", fmt.Errorf("create part %q: %w", e.Key, err)
		}
		if _, err := part.Write(e.Content); err != nil {
			return "", fmt.Errorf("write part %q: %w", e.Key, err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("close multipart writer: %w", err)
	}
	return mw.FormDataContentType(), nil
}
