package parser

import (
	"fmt"

	"github.com/invopop/jsonschema"
	"github.com/raphaelgruber/intake-go/internal/llm"
)

// scored wraps an extracted string with self-reported confidence. Parsers
// using scored fields force the model to rate its own certainty; bare fields
// default to medium instead.
type scored struct {
	Value      string `json:"value" jsonschema:"description=The extracted value"`
	Confidence string `json:"confidence" jsonschema:"enum=low,enum=medium,enum=high,description=How directly the text supports this value"`
	Reasoning  string `json:"reasoning,omitempty" jsonschema:"description=Short quote or justification from the text"`
}

// scoredList is the multi-value variant of scored.
type scoredList struct {
	Value      []string `json:"value" jsonschema:"description=The extracted values"`
	Confidence string   `json:"confidence" jsonschema:"enum=low,enum=medium,enum=high,description=How directly the text supports these values"`
	Reasoning  string   `json:"reasoning,omitempty" jsonschema:"description=Short quote or justification from the text"`
}

type priceTier struct {
	Value      string `json:"value" jsonschema:"enum=budget,enum=mid,enum=premium,description=Where the business positions itself on price"`
	Confidence string `json:"confidence" jsonschema:"enum=low,enum=medium,enum=high"`
	Reasoning  string `json:"reasoning,omitempty"`
}

type brandTone struct {
	Value      string `json:"value" jsonschema:"enum=playful,enum=professional,enum=bold,enum=warm,description=The overall voice the owner uses"`
	Confidence string `json:"confidence" jsonschema:"enum=low,enum=medium,enum=high"`
	Reasoning  string `json:"reasoning,omitempty"`
}

type fontStyle struct {
	Value      string `json:"value" jsonschema:"enum=serif,enum=sans,enum=script,enum=mixed,description=The typography direction the owner leans toward"`
	Confidence string `json:"confidence" jsonschema:"enum=low,enum=medium,enum=high"`
	Reasoning  string `json:"reasoning,omitempty"`
}

// Per-parser argument shapes. Every top-level field is optional: the model
// fills what the text supports and omits the rest.

type basicsArgs struct {
	BusinessName    *scored    `json:"business_name,omitempty" jsonschema:"description=The business's name as stated by the owner"`
	BusinessSummary *scored    `json:"business_summary,omitempty" jsonschema:"description=One-sentence summary of what the business does"`
	TargetAudience  *scored    `json:"target_audience,omitempty" jsonschema:"description=Who the business serves"`
	PriceTier       *priceTier `json:"price_tier,omitempty"`
	Industry        string     `json:"industry,omitempty" jsonschema:"description=The industry or category the business operates in"`
}

type assetsArgs struct {
	HasLogo      *bool    `json:"has_logo,omitempty" jsonschema:"description=Whether the owner says they already have a logo"`
	AssetTypes   []string `json:"asset_types,omitempty" jsonschema:"description=Kinds of existing brand assets mentioned (logo / photos / video / copy)"`
	PhotoSources []string `json:"photo_sources,omitempty" jsonschema:"description=Where the owner's photos come from"`
}

type storyArgs struct {
	OriginStory       *scored  `json:"origin_story,omitempty" jsonschema:"description=How and why the business was started"`
	FounderMotivation *scored  `json:"founder_motivation,omitempty" jsonschema:"description=What drives the founder personally"`
	Milestones        []string `json:"milestones,omitempty" jsonschema:"description=Concrete milestones mentioned in the story"`
}

type wordsArgs struct {
	BrandWords   *scoredList `json:"brand_words,omitempty" jsonschema:"description=Values and words the owner wants the brand associated with"`
	TaglineIdeas []string    `json:"tagline_ideas,omitempty" jsonschema:"description=Phrases from the conversation that could work as taglines"`
	Tone         *brandTone  `json:"tone,omitempty"`
}

type styleArgs struct {
	ColorPreferences []string   `json:"color_preferences,omitempty" jsonschema:"description=Colors the owner likes or uses"`
	FontStyle        *fontStyle `json:"font_style,omitempty"`
	VisualReferences []string   `json:"visual_references,omitempty" jsonschema:"description=Brands or sites the owner points to as visual references"`
}

type hubArgs struct {
	HubSections     []string `json:"hub_sections,omitempty" jsonschema:"description=Sections the owner wants on their brand hub page"`
	PrimaryCTA      string   `json:"primary_cta,omitempty" jsonschema:"description=The main action visitors should take"`
	ContactChannels []string `json:"contact_channels,omitempty" jsonschema:"description=Channels customers use to reach the business"`
}

// reflectSchema turns a tagged args struct into an inline JSON schema.
func reflectSchema(v any) *jsonschema.Schema {
	r := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	return r.Reflect(v)
}

// Function returns the single callable function handed to the extraction
// capability for this parser.
func (d Definition) Function() llm.FunctionSchema {
	return llm.FunctionSchema{
		Name:        fmt.Sprintf("record_%s_fields", d.ID),
		Description: d.Description,
		Parameters:  d.schema,
	}
}
