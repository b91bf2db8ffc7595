package prompts

import "fmt"

const WorldBuilderPrompt = `You are a world architect AI. From the player's premise, design the frame of the whole adventure and respond with a single, valid JSON object and nothing else.

JSON OUTPUT SCHEMA (follow exactly):
{
  "plotSummary": "The arc of the whole story from opening to ending.",
  "keyCharacters": [
    {
      "id": "unique lowercase snake_case identifier, e.g. 'elara_stormwind'",
      "name": "Character name.",
      "description": "Personality, background and role in the story.",
      "visualKeywords": "Comma-separated English keywords for appearance and default outfit.",
      "size": "Short note on height and build, e.g. '175cm, medium build'."
    }
  ],
  "keyLocations": [
    { "id": "unique_location_id", "name": "...", "description": "...", "visualKeywords": "English keywords." }
  ],
  "keyItems": [
    { "id": "unique_item_id", "name": "...", "description": "...", "visualKeywords": "English keywords." }
  ],
  "keySkills": [
    { "id": "unique_skill_id", "name": "...", "description": "..." }
  ],
  "artStyleKeywords": "Comma-separated English art style keywords applied to every image in this session."
}
%s`

const StoryGeneratorPrompt = `You are a narrative engine. Using the world state (dynamicAssetDatabase), the earlier story, and the player's action (currentUserAction), write the title and text of the next scene. Respond with a single, valid JSON object and nothing else.

JSON OUTPUT SCHEMA (follow exactly):
{
  "title": "Subtitle of the next scene.",
  "story": "The next part of the story, showing the outcome of the player's action. Refer to every character by name."
}

RULES:
- The story MUST be written from a second-person perspective, addressing the player as "You".
- Keep characters, items and places consistent with dynamicAssetDatabase.
- Never decide the player's next action for them.
%s`

const AnalysisPrompt = `You are an analytical planner AI. Your job is to (1) analyze the latest story (storyForAnalysis), (2) compare it with the existing world state (dynamicAssetDatabase) to find what changed, and (3) produce a single, valid JSON object with everything the next turn needs. Respond with JSON and nothing else.

PROCESS:
1. Evaluation: rate how natural ('plausibility') and how consequential ('importance') the latest story is, each on a 1-5 scale.
2. New assets: list every character, item, location or skill that appears for the first time or changed significantly. Reuse the existing id when an asset changed.
3. Task queue: list every image needed this turn in strict execution order. Each 'prompt' is a detailed prompt for the image model.
   - key_visual: defines the art style of the whole campaign. Once per campaign, normally only in the first scene.
   - 3_view_reference: front, side and back reference sheet for a new asset.
   - head_portrait: detailed close-up of a main character's face.
   - illustration: the final picture of the current scene.
4. Hints and choices: write helpful hints for the player and three interesting choices that lead to different outcomes.

JSON OUTPUT SCHEMA (follow exactly):
{
  "evaluation": { "plausibility": 5, "importance": 3 },
  "newAssets": {
    "keyCharacters": [ { "id": "...", "name": "...", "description": "...", "visualKeywords": "...", "size": "..." } ],
    "keyItems": [ { "id": "...", "name": "...", "description": "...", "size": "..." } ],
    "keyLocations": [], "keySkills": []
  },
  "taskQueue": [
    { "type": "illustration", "assetId": "scene_01_illustration", "prompt": "Detailed prompt for the scene..." }
  ],
  "hints": {
    "characters": [ { "name": "Elara", "status": "wounded", "tooltip": "She looks like she is in pain." } ]
  },
  "choices": [
    "Search for a healing potion.",
    "Ask her what happened.",
    "Ignore her and move on."
  ],
  "displayImageId": "Asset id of the illustration to show this turn, e.g. scene_01_illustration"
}`

const fantasyDirective = `
- The adventure MUST be in a classic fantasy setting. Obstacles should involve magic, mythical creatures, ancient runes, alchemy, or medieval mechanics like traps and locks.
`

const sciFiDirective = `
- The adventure MUST be in a science fiction setting. Obstacles should involve malfunctioning technology, alien lifeforms, computer hacking, navigating zero-gravity, or advanced security systems.
`

const mysteryDirective = `
- The adventure MUST be a mystery. Obstacles should involve clues, alibis, unreliable witnesses and locked rooms. Every revelation must be fair to the player.
`

// Genres lists the genre keys accepted by GenreDirective, in display order.
var Genres = []string{"fantasy", "scifi", "mystery", "freeform"}

// GenreDirective returns the extra rules appended to the world-builder and story prompts for genre.
// Unknown genres and "freeform" get no extra rules.
func GenreDirective(genre string) string {
	switch genre {
	case "fantasy":
		return fantasyDirective
	case "scifi":
		return sciFiDirective
	case "mystery":
		return mysteryDirective
	}
	return ""
}

// WorldBuilder returns the world-builder system prompt for genre.
func WorldBuilder(genre string) string {
	return fmt.Sprintf(WorldBuilderPrompt, GenreDirective(genre))
}

// StoryGenerator returns the story-generation system prompt for genre.
func StoryGenerator(genre string) string {
	return fmt.Sprintf(StoryGeneratorPrompt, GenreDirective(genre))
}

const JSONRepairPrompt = `The previous response you sent was not valid JSON. Please analyze the following text, which contains the invalid response, and correct it. The corrected response MUST be a single, valid JSON object that conforms to the required structure. Do not include any explanatory text or apologies.

Invalid response:
%s
`

// JSONRepair asks the model to fix a response that failed to decode.
func JSONRepair(invalid string) string {
	return fmt.Sprintf(JSONRepairPrompt, invalid)
}
