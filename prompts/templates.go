package prompts

import "novel_ai/story"

// Template holds the fixed, labeled sections of an image prompt for one task type.
type Template struct {
	Role                string
	Mission             string
	OutputDefinition    string
	StyleDirective      string
	FormatDirective     string
	CommonRules         string
	DetailFocus         string
	SizeDirective       string
	SituationalOverride string
	CompositionRule     string
	// AttachmentMapping is filled per task from the references actually attached.
	AttachmentMapping   string
	QualityRequirements string
	TechnicalSpecs      string
	ContentPolicy       string
}

const (
	centerPlacement  = "Place the main characters and objects in the center of the image."
	ethicsPolicy     = "The generated image must follow the API's guidelines and ethics policy."
	negativeKeywords = "The output must not contain text, watermarks, letterboxing or signatures."
)

func withGlobalRules(t Template) Template {
	t.QualityRequirements = negativeKeywords
	t.TechnicalSpecs = centerPlacement
	t.ContentPolicy = ethicsPolicy
	return t
}

// Templates maps each task type to its image prompt template.
var Templates = map[story.TaskType]Template{
	story.TaskKeyVisual: withGlobalRules(Template{
		Role:             "You are the lead art director of this world.",
		Mission:          "Read the campaign setting as a whole and create a single representative image that captures the core mood and essence of this story.",
		OutputDefinition: "This is not a portrait of one character but concept or promotional art that defines the world's aesthetic. Freely combine characters, setting and hints of key events into the most striking composition.",
	}),
	story.TaskThreeView: withGlobalRules(Template{
		Role:            "You are a concept artist producing a reference sheet for a new asset.",
		StyleDirective:  "Use the attached key visual as the absolute style guide. Render the output in the same art style, color palette and texture.",
		FormatDirective: "Create a three-view image that clearly shows the front, side and back of the target asset.",
		CommonRules:     "The background must be pure white, and the asset must be in a neutral state or pose without emotion.",
	}),
	story.TaskHeadPortrait: withGlobalRules(Template{
		Role:            "You are a character portrait artist.",
		StyleDirective:  "Keep the same style as the attached key visual.",
		FormatDirective: "Create a close-up bust shot (head and shoulders) of the character at a three-quarter angle.",
		DetailFocus:     "Focus on facial detail so the character's features and subtle expression read clearly.",
	}),
	story.TaskIllustration: withGlobalRules(Template{
		Mission:             "Create an illustration depicting the following scene.",
		StyleDirective:      "Follow the attached key visual for the overall art style, and match each asset's specific appearance to its attached reference sheet.",
		SizeDirective:       "Use the size given for each asset as a hint to show natural relative size differences. This is a guideline, not a strict rule.",
		SituationalOverride: "The story text takes precedence over the reference material, for example for disguises or injuries.",
		CompositionRule:     "When several characters are present, describe each character's position and action in a separate sentence to avoid blending their features.",
	}),
}
