package flow

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bookFlightYAML = `flows:
  - name: book_flight
    description: Book a flight between two cities
    slots:
      - name: origin
        type: string
        validator: nonempty
        prompt: "Where are you flying from?"
      - name: destination
        type: string
        validator: nonempty
        prompt: "Where are you flying to?"
    outputs: [results]
    steps:
      - id: ask_origin
        collect:
          slot: origin
      - id: ask_destination
        collect:
          slot: destination
      - id: search
        action:
          name: search_flights
          inputs: [origin, destination]
          outputs: [results]
      - id: finish
        end:
          outputs: [results]
`

func TestParseYAMLDocument(t *testing.T) {
	t.Parallel()

	defs, err := ParseYAML([]byte(bookFlightYAML))
	require.NoError(t, err)
	require.Len(t, defs, 1)

	def := defs[0]
	assert.Equal(t, "book_flight", def.Name)
	assert.Equal(t, "Book a flight between two cities", def.Description)
	require.Len(t, def.Slots, 2)
	assert.Equal(t, "nonempty", def.Slots[0].Validator)
	assert.Equal(t, []string{"results"}, def.Outputs)
	require.Len(t, def.Steps, 4)

	// Sequence shorthand expands to identity mappings.
	search := def.Steps[2]
	require.NotNil(t, search.Action)
	assert.Equal(t, Mapping{"origin": "", "destination": ""}, search.Action.Inputs)
	assert.Equal(t, Mapping{"results": ""}, search.Action.Outputs)

	// The parsed document compiles as-is.
	_, err = Compile(defs, NewValidators(), searchActions())
	require.NoError(t, err)
}

func TestParseYAMLBareList(t *testing.T) {
	t.Parallel()

	src := `- name: tiny
  description: Smallest possible flow
  steps:
    - id: greet
      say:
        template: hello
      next: stop
    - id: stop
      end: {}
`
	defs, err := ParseYAML([]byte(src))
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "tiny", defs[0].Name)
	require.NotNil(t, defs[0].Steps[1].End)
}

func TestParseYAMLMappingForm(t *testing.T) {
	t.Parallel()

	src := `flows:
  - name: rename
    slots:
      - name: from_city
        prompt: "From?"
    outputs: [origin]
    steps:
      - id: ask
        collect:
          slot: from_city
      - id: stop
        end:
          outputs:
            origin: from_city
`
	defs, err := ParseYAML([]byte(src))
	require.NoError(t, err)
	require.NotNil(t, defs[0].Steps[1].End)
	assert.Equal(t, Mapping{"origin": "from_city"}, defs[0].Steps[1].End.Outputs)
}

func TestParseYAMLRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	src := `flows:
  - name: typo
    stepz:
      - id: greet
`
	_, err := ParseYAML([]byte(src))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stepz")
}

func TestParseYAMLRejectsDuplicateShorthand(t *testing.T) {
	t.Parallel()

	src := `flows:
  - name: dup
    steps:
      - id: run
        action:
          name: a
          inputs: [origin, origin]
`
	_, err := ParseYAML([]byte(src))
	require.Error(t, err)
}

func TestParseYAMLEmpty(t *testing.T) {
	t.Parallel()

	defs, err := ParseYAML(nil)
	require.NoError(t, err)
	assert.Empty(t, defs)
}

func TestLoadDir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	second := `flows:
  - name: second
    steps:
      - id: stop
        end: {}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b_second.yaml"), []byte(second), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a_first.yaml"), []byte(bookFlightYAML), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.txt"), []byte("not yaml"), 0o600))

	defs, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, "book_flight", defs[0].Name, "files load in lexical order")
	assert.Equal(t, "second", defs[1].Name)
}

func TestLoadYAMLMissingFile(t *testing.T) {
	t.Parallel()

	_, err := LoadYAML(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
