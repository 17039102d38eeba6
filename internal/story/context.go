package story

import "fmt"

// CharacterContext builds the fixed character-consistency block appended to
// every illustration call for one book — pages and cover alike. Keeping this
// block byte-identical across calls is what makes the child look the same on
// every page, so it is derived from the input once and never varies per page.
func CharacterContext(in UserInput) string {
	return fmt.Sprintf(`MAIN CHARACTER REFERENCE:
- Name: %s
- Age: %d years old
- Gender: %s
- Appearance: %s
- STYLE: Black and white line art coloring book style.
CONSISTENCY RULES:
- The character must look identical in every image.
- Simple, thick outlines.
- No shading or gray fill.`,
		in.ChildName, in.ChildAge, in.ChildGender, in.CharacterDescription)
}
