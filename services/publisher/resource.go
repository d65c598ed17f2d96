package publisher

import (
	"encoding/json"
	"fmt"
	"net/textproto"
	"os"
	"strings"
)

const (
	defaultContentType          = "text/plain"
	connectorProfileContentType = "application/vnd.matillion.connector-profile+json"
)

// Resource is one part of an artifact. The set of implementations is closed:
// *FileResource and *ConnectorResource.
type Resource interface {
	ID() (string, error)
	Content() ([]byte, error)
	ContentType() string
	Headers() textproto.MIMEHeader

	resource()
}

// FileResource is a file from the project directory.
type FileResource struct {
	// Name is the slash-separated path relative to the project root.
	Name string
	// Path is where the content is read from.
	Path string
	Type string
}

func (f *FileResource) resource() {}

// ID returns the logical name of the file.
func (f *FileResource) ID() (string, error) {
	return f.Name, nil
}

// Content reads the file from disk.
func (f *FileResource) Content() ([]byte, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("read %q: %w", f.Path, err)
	}
	return data, nil
}

func (f *FileResource) ContentType() string {
	if f.Type == "" {
		return defaultContentType
	}
	return f.Type
}

func (f *FileResource) Headers() textproto.MIMEHeader { return textproto.MIMEHeader{} }

// ConnectorKind describes one family of connector profiles.
type ConnectorKind struct {
	Name     string
	IDField  string
	Prefix   string
	Endpoint string
}

var (
	FlexConnectors = ConnectorKind{
		Name:     "flex",
		IDField:  "alternateId",
		Prefix:   "flex",
		Endpoint: "/flex-connectors",
	}
	CustomConnectors = ConnectorKind{
		Name:     "custom",
		IDField:  "id",
		Prefix:   "custom",
		Endpoint: "/custom-connectors",
	}
)

// ConnectorKinds lists every kind in fetch order.
func ConnectorKinds() []ConnectorKind {
	return []ConnectorKind{FlexConnectors, CustomConnectors}
}

// ConnectorResource is a connector profile fetched from the platform.
type ConnectorResource struct {
	Kind      ConnectorKind
	Connector map[string]any
}

func (c *ConnectorResource) resource() {}

// ID derives connector-profile:{prefix}-{id}.json from the kind's identifying
// field. A null field counts as missing.
func (c *ConnectorResource) ID() (string, error) {
	v, ok := c.Connector[c.Kind.IDField]
	if !ok || v == nil {
		return "", &MissingFieldError{Kind: c.Kind.Name, Field: c.Kind.IDField}
	}
	return fmt.Sprintf("connector-profile:%s-%v.json", c.Kind.Prefix, v), nil
}

// Content is the connector serialized as JSON.
func (c *ConnectorResource) Content() ([]byte, error) {
	data, err := json.Marshal(c.Connector)
	if err != nil {
		return nil, fmt.Errorf("marshal %s connector: %w", c.Kind.Name, err)
	}
	return data, nil
}

func (c *ConnectorResource) ContentType() string { return connectorProfileContentType }

func (c *ConnectorResource) Headers() textproto.MIMEHeader { return textproto.MIMEHeader{} }

// MissingFieldError is returned when a connector lacks its identifying field.
type MissingFieldError struct {
	Kind  string
	Field string
}

func (e *MissingFieldError) Error() string {
	kind := e.Kind
	if kind != "" {
		kind = strings.ToUpper(kind[:1]) + kind[1:]
	}
	return fmt.Sprintf("%s connector does not have an %s field", kind, e.Field)
}

// describe labels a resource for logs and the archive manifest.
func describe(r Resource) (kind, source string) {
	switch v := r.(type) {
	case *FileResource:
		return "file", v.Path
	case *ConnectorResource:
		return "connector-profile", v.Kind.Name
	default:
		panic(fmt.Sprintf("publisher: unknown resource type %T", r))
	}
}
