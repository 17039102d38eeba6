package story

import (
	"strings"
	"testing"
)

func validInput() UserInput {
	return UserInput{
		Category:             CategoryAdventure,
		ChildName:            "Leo",
		ChildAge:             6,
		ChildGender:          "Boy",
		CharacterDescription: "curly brown hair, red glasses",
		Prompt:               "space trip",
		PageCount:            SamplePageCount,
	}
}

func TestValidate_OK(t *testing.T) {
	if err := validInput().Validate(); err != nil {
		t.Fatalf("expected valid input, got %v", err)
	}
}

func TestValidate_MissingName(t *testing.T) {
	in := validInput()
	in.ChildName = ""
	if err := in.Validate(); err == nil {
		t.Error("expected error for empty childName")
	}
}

func TestValidate_MissingPrompt(t *testing.T) {
	in := validInput()
	in.Prompt = ""
	if err := in.Validate(); err == nil {
		t.Error("expected error for empty prompt")
	}
}

func TestValidate_UnknownCategory(t *testing.T) {
	in := validInput()
	in.Category = "SCIFI"
	if err := in.Validate(); err == nil {
		t.Error("expected error for unknown category")
	}
}

func TestValidate_PageCount(t *testing.T) {
	in := validInput()
	for _, count := range []int{0, 1, 10, 24, 26} {
		in.PageCount = count
		if err := in.Validate(); err == nil {
			t.Errorf("expected error for pageCount %d", count)
		}
	}
	for _, count := range []int{SamplePageCount, FullPageCount} {
		in.PageCount = count
		if err := in.Validate(); err != nil {
			t.Errorf("pageCount %d should be valid, got %v", count, err)
		}
	}
}

func TestIsSample(t *testing.T) {
	in := validInput()
	if !in.IsSample() {
		t.Error("5-page input should be a sample")
	}
	in.PageCount = FullPageCount
	if in.IsSample() {
		t.Error("25-page input should not be a sample")
	}
}

func TestCharacterContext_Stable(t *testing.T) {
	in := validInput()
	first := CharacterContext(in)
	second := CharacterContext(in)
	if first != second {
		t.Error("character context must be identical across calls for the same input")
	}

	for _, want := range []string{"Leo", "6 years old", "Boy", "red glasses", "line art"} {
		if !strings.Contains(first, want) {
			t.Errorf("character context missing %q:\n%s", want, first)
		}
	}
}

func TestCharacterContext_VariesByChild(t *testing.T) {
	a := validInput()
	b := validInput()
	b.ChildName = "Mia"
	if CharacterContext(a) == CharacterContext(b) {
		t.Error("different children must produce different contexts")
	}
}
