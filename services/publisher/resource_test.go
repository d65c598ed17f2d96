package publisher

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectorResourceID(t *testing.T) {
	tests := []struct {
		name      string
		kind      ConnectorKind
		connector map[string]any
		want      string
	}{
		{
			name:      "flex uses alternateId",
			kind:      FlexConnectors,
			connector: map[string]any{"alternateId": "abc", "id": "ignored"},
			want:      "connector-profile:flex-abc.json",
		},
		{
			name:      "custom uses id",
			kind:      CustomConnectors,
			connector: map[string]any{"id": "c-123"},
			want:      "connector-profile:custom-c-123.json",
		},
		{
			name:      "numeric ids keep their text",
			kind:      CustomConnectors,
			connector: map[string]any{"id": json.Number("42")},
			want:      "connector-profile:custom-42.json",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &ConnectorResource{Kind: tt.kind, Connector: tt.connector}
			got, err := r.ID()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, "application/vnd.matillion.connector-profile+json", r.ContentType())
		})
	}
}

func TestConnectorResourceMissingField(t *testing.T) {
	for _, kind := range ConnectorKinds() {
		t.Run(kind.Name, func(t *testing.T) {
			r := &ConnectorResource{Kind: kind, Connector: map[string]any{"name": "no id"}}
			_, err := r.ID()
			var missing *MissingFieldError
			require.True(t, errors.As(err, &missing))
			assert.Equal(t, kind.IDField, missing.Field)

			_, err = NewEntry(r)
			assert.True(t, errors.As(err, &missing))
		})
	}
}

func TestConnectorResourceNullField(t *testing.T) {
	for _, kind := range ConnectorKinds() {
		t.Run(kind.Name, func(t *testing.T) {
			r := &ConnectorResource{Kind: kind, Connector: map[string]any{kind.IDField: nil, "name": "null id"}}
			_, err := r.ID()
			var missing *MissingFieldError
			require.ErrorAs(t, err, &missing)
			assert.Equal(t, kind.IDField, missing.Field)
		})
	}
}

func TestMissingFieldErrorMessage(t *testing.T) {
	err := &MissingFieldError{Kind: "flex", Field: "alternateId"}
	assert.Equal(t, "Flex connector does not have an alternateId field", err.Error())
}

func TestConnectorResourceContent(t *testing.T) {
	r := &ConnectorResource{Kind: FlexConnectors, Connector: map[string]any{"alternateId": "abc", "port": 5432}}
	data, err := r.Content()
	require.NoError(t, err)
	assert.JSONEq(t, `{"alternateId":"abc","port":5432}`, string(data))
}

func TestFileResource(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.orch.yaml")
	require.NoError(t, os.WriteFile(path, []byte("type: orchestration\n"), 0o644))

	r := &FileResource{Name: "a.orch.yaml", Path: path}
	id, err := r.ID()
	require.NoError(t, err)
	assert.Equal(t, "a.orch.yaml", id)
	assert.Equal(t, "text/plain", r.ContentType())

	entry, err := NewEntry(r)
	require.NoError(t, err)
	assert.Equal(t, "a.orch.yaml", entry.Key)
	assert.Empty(t, entry.Filename)
	assert.Equal(t, "type: orchestration\n", string(entry.Content))

	typed := &FileResource{Name: "x.json", Path: path, Type: "application/json"}
	assert.Equal(t, "application/json", typed.ContentType())

	_, err = (&FileResource{Name: "gone", Path: filepath.Join(dir, "gone")}).Content()
	assert.ErrorIs(t, err, os.ErrNotExist)
}
