package fountain

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/scenedex/internal/scene"
)

const sampleScript = `Title: The Drop
Author: J. Doe

INT. WAREHOUSE - NIGHT

Sarah moves between the crates, flashlight low.

SARAH
(whispering)
Anyone here?

The beam catches movement near the far wall.

CUT TO:

EXT. PARKING LOT - DAY

A sedan idles near the loading dock.

MARCUS
You're late.

SARAH
Traffic.
`

func parseScript(t *testing.T, src string) []*scene.Scene {
	t.Helper()
	scenes, err := New().Parse(context.Background(), "script.fountain", []byte(src))
	require.NoError(t, err)
	return scenes
}

func TestParse_SceneHeadings(t *testing.T) {
	scenes := parseScript(t, sampleScript)
	require.Len(t, scenes, 2)

	assert.Equal(t, scene.SceneTypeInterior, scenes[0].Heading.Type)
	assert.Equal(t, "WAREHOUSE", scenes[0].Heading.Location)
	assert.Equal(t, "NIGHT", scenes[0].Heading.TimeOfDay)
	assert.Equal(t, "INT. WAREHOUSE - NIGHT", scenes[0].Heading.Raw)

	assert.Equal(t, scene.SceneTypeExterior, scenes[1].Heading.Type)
	assert.Equal(t, "PARKING LOT", scenes[1].Heading.Location)
	assert.Equal(t, "DAY", scenes[1].Heading.TimeOfDay)
}

func TestParse_Elements(t *testing.T) {
	scenes := parseScript(t, sampleScript)
	require.Len(t, scenes, 2)

	first := scenes[0].Elements
	require.Len(t, first, 3)

	assert.Equal(t, scene.ElementAction, first[0].Kind)
	assert.Contains(t, first[0].Text, "flashlight low")

	assert.Equal(t, scene.ElementDialogue, first[1].Kind)
	assert.Equal(t, "SARAH", first[1].Character)
	assert.Equal(t, "whispering", first[1].Parenthetical)
	assert.Equal(t, "Anyone here?", first[1].Text)

	assert.Equal(t, scene.ElementAction, first[2].Kind)

	second := scenes[1].Elements
	require.Len(t, second, 3)
	assert.Equal(t, "MARCUS", second[1].Character)
	assert.Equal(t, "You're late.", second[1].Text)
	assert.Equal(t, "SARAH", second[2].Character)
}

func TestParse_TransitionsSkipped(t *testing.T) {
	for _, s := range parseScript(t, sampleScript) {
		for _, el := range s.Elements {
			assert.NotContains(t, el.Text, "CUT TO:")
		}
	}
}

func TestParse_TitlePageSkipped(t *testing.T) {
	scenes := parseScript(t, sampleScript)
	for _, s := range scenes {
		for _, el := range s.Elements {
			assert.NotContains(t, el.Text, "Title:")
		}
	}
}

func TestParse_SpanCoversScene(t *testing.T) {
	scenes := parseScript(t, sampleScript)
	require.Len(t, scenes, 2)

	span := scenes[0].Span
	assert.True(t, strings.HasPrefix(span.Text, "INT. WAREHOUSE - NIGHT"))
	assert.Contains(t, span.Text, "Anyone here?")
	assert.NotContains(t, span.Text, "PARKING LOT")
}

func TestParse_BoneyardInvisible(t *testing.T) {
	withBlock := `INT. WAREHOUSE - NIGHT

Sarah moves between the crates, flashlight low.

/* scenedex:meta
{"content_hash":"abc","properties":{}}
*/

EXT. PARKING LOT - DAY

A sedan idles.
`
	without := `INT. WAREHOUSE - NIGHT

Sarah moves between the crates, flashlight low.

EXT. PARKING LOT - DAY

A sedan idles.
`
	a := parseScript(t, withBlock)
	b := parseScript(t, without)
	require.Len(t, a, 2)
	require.Len(t, b, 2)

	ha := scene.ComputeHashes(a)
	hb := scene.ComputeHashes(b)
	assert.Equal(t, hb, ha)
}

func TestParse_NotesStripped(t *testing.T) {
	src := `INT. OFFICE - DAY

The phone rings. [[check continuity with scene 4]]
`
	scenes := parseScript(t, src)
	require.Len(t, scenes, 1)
	require.Len(t, scenes[0].Elements, 1)
	assert.NotContains(t, scenes[0].Elements[0].Text, "continuity")
}

func TestParse_HeadingVariants(t *testing.T) {
	tests := []struct {
		line     string
		wantType scene.SceneType
		wantLoc  string
		wantTime string
	}{
		{"INT. COFFEE SHOP - DAY", scene.SceneTypeInterior, "COFFEE SHOP", "DAY"},
		{"EXT. RIVERBANK - DUSK", scene.SceneTypeExterior, "RIVERBANK", "DUSK"},
		{"INT./EXT. CAR - NIGHT", scene.SceneTypeIntExt, "CAR", "NIGHT"},
		{"I/E. DOORWAY - CONTINUOUS", scene.SceneTypeIntExt, "DOORWAY", "CONTINUOUS"},
		{"EST. CITY SKYLINE - DAWN", scene.SceneTypeEstablished, "CITY SKYLINE", "DAWN"},
		{"INT. BASEMENT", scene.SceneTypeInterior, "BASEMENT", ""},
		{".FLASHBACK - 1987", scene.SceneTypeOther, "FLASHBACK", "1987"},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			h, ok := parseHeading(tt.line)
			require.True(t, ok)
			assert.Equal(t, tt.wantType, h.Type)
			assert.Equal(t, tt.wantLoc, h.Location)
			assert.Equal(t, tt.wantTime, h.TimeOfDay)
		})
	}
}

func TestParse_NotAHeading(t *testing.T) {
	for _, line := range []string{
		"Sarah moves between the crates.",
		"INTERIOR THOUGHTS",
		"...an ellipsis line",
		"",
	} {
		_, ok := parseHeading(line)
		assert.False(t, ok, "line %q", line)
	}
}

func TestParse_EmptyDocument(t *testing.T) {
	scenes := parseScript(t, "")
	assert.Empty(t, scenes)
}

func TestParse_BinaryRejected(t *testing.T) {
	_, err := New().Parse(context.Background(), "blob.bin", []byte{0x00, 0x01, 0x02})
	require.Error(t, err)
}

func TestTitle(t *testing.T) {
	assert.Equal(t, "The Drop", Title([]byte(sampleScript)))
	assert.Equal(t, "", Title([]byte("INT. NOWHERE - DAY\n\nNothing.\n")))
}
