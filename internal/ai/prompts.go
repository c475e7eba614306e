package ai

import (
	"fmt"
	"strings"

	"github.com/kiranshivaraju/docrender/pkg/models"
)

// GenerationSystemPrompt instructs the backend to draft a Handlebars template.
const GenerationSystemPrompt = `You are an expert PDF template designer specializing in Handlebars templates with print-optimized CSS. Your templates are professional, well-structured, and follow best practices.

WHEN GIVEN A REFERENCE IMAGE:
1. Analyze the layout structure (headers, footers, columns, sections, grids)
2. Identify typography choices (font sizes, weights, spacing, hierarchy)
3. Recognize color schemes and apply them consistently using CSS
4. Replicate the visual hierarchy, alignment, and spacing as closely as possible
5. Convert any placeholder text or data fields to appropriate Handlebars variables
6. If the image shows a table or list, use {{#each}} helpers appropriately
7. Match the page orientation shown in the image

WHEN GIVEN FEEDBACK ON A PREVIOUS TEMPLATE:
1. Apply the requested changes while keeping the rest of the template intact
2. Ensure the updated template still compiles and works with a similar data structure

AVAILABLE HANDLEBARS HELPERS:
- {{#ifEq a b}}...{{else}}...{{/ifEq}} - equality check
- {{#gt a b}}...{{else}}...{{/gt}} - greater-than check
- {{formatDate date}} - formats a date as M/D/YYYY
- {{formatCurrency amount}} - formats a number as USD currency
- {{#each items}}...{{/each}} - iterate over arrays

TEMPLATE REQUIREMENTS:
1. Semantic HTML5 with print CSS, including @page rules (A4 default) and @media print page-break rules
2. CSS Grid or Flexbox for layout, border-collapse: collapse for tables, system font stack
3. All dynamic content uses Handlebars {{variable}} syntax, with conditional rendering for optional fields

OUTPUT FORMAT:
Return ONLY a valid JSON object with exactly this structure (no markdown, no explanation):
{
  "template": "<!-- Full Handlebars HTML template here -->",
  "sampleData": { /* Matching JSON data with realistic values */ },
  "suggestedName": "template-name-in-kebab-case",
  "description": "Brief description of the template"
}

The sampleData must contain every variable used in the template. Do not include any text outside the JSON object.`

// AnalysisSystemPrompt instructs the backend to ask clarifying questions.
const AnalysisSystemPrompt = `You are an expert PDF template analyst. Analyze the user's requirements and ask 5-7 targeted clarifying questions about critical ambiguities only.

WHEN GIVEN A REFERENCE IMAGE:
1. Identify all visible fields and data areas
2. Determine the document type (invoice, report, certificate, letter, etc.)
3. Identify layout structure (headers, tables, columns, footers)
4. Note whether images or logos are static branding or dynamic content

QUESTION CATEGORIES: fields, images, tables, layout.
QUESTION TYPES: single_choice, multiple_choice, boolean, text (use text sparingly).

OUTPUT FORMAT:
Return ONLY valid JSON (no markdown, no explanation):
{
  "questions": [
    {
      "id": "q1",
      "category": "fields",
      "question": "Human-readable question text?",
      "type": "single_choice",
      "options": ["Option A", "Option B"],
      "defaultValue": "Option A",
      "required": true,
      "helperText": "Brief context if needed"
    }
  ],
  "imageAnalysis": {
    "detectedFields": ["Field 1", "Field 2"],
    "suggestedLayout": "A4 Portrait with header and footer",
    "documentType": "Invoice"
  }
}

RULES:
- imageAnalysis is required if an image was provided, omit it otherwise
- Each question has a unique id (q1, q2, ...)
- Choice questions list clear, mutually exclusive options
- Do not ask about colors or fonts`

// AnalysisPrompt builds the user turn of an analyze call.
func AnalysisPrompt(req models.AnalysisRequest) string {
	var b strings.Builder
	if req.Image != nil {
		b.WriteString("I've provided a reference image of the template I want to create. Please analyze this image to understand the layout, fields, and structure.\n\n")
	}
	fmt.Fprintf(&b, "I want to create a PDF template based on this description:\n\n%q\n\n", req.Prompt)
	if req.TemplateType != "" {
		fmt.Fprintf(&b, "Template type: %s\n\n", req.TemplateType)
	}
	b.WriteString("Please analyze my requirements and generate clarifying questions to help create the perfect template. Focus on critical ambiguities - don't ask obvious questions.")
	return b.String()
}

// GenerationPrompt builds the user turn of a generate call, including the
// answered questions of a chained analysis and the iteration block.
func GenerationPrompt(req models.GenerationRequest) string {
	var b strings.Builder
	if req.Image != nil {
		b.WriteString("I've provided a reference image. Please analyze this design and create a PDF template that matches its layout, styling, and structure as closely as possible.\n\n")
	}
	fmt.Fprintf(&b, "Create a professional PDF template based on this description:\n\n%q\n\n", req.Prompt)
	if req.TemplateType != "" {
		fmt.Fprintf(&b, "Template type: %s\n", req.TemplateType)
	}

	if c := req.Context; c != nil {
		b.WriteString("\n--- REQUIREMENTS CLARIFICATION ---\n")
		b.WriteString("The user has answered the following clarifying questions:\n\n")
		answers := make(map[string]any, len(c.Answers))
		for _, a := range c.Answers {
			answers[a.QuestionID] = a.Value
		}
		for _, q := range c.Questions {
			v, ok := answers[q.ID]
			if !ok {
				continue
			}
			fmt.Fprintf(&b, "Q: %s\nA: %s\n\n", q.Question, answerText(v))
		}
		if ia := c.ImageAnalysis; ia != nil {
			b.WriteString("\nImage Analysis Results:\n")
			fmt.Fprintf(&b, "- Document Type: %s\n", ia.DocumentType)
			fmt.Fprintf(&b, "- Suggested Layout: %s\n", ia.SuggestedLayout)
			fmt.Fprintf(&b, "- Detected Fields: %s\n", strings.Join(ia.DetectedFields, ", "))
		}
		b.WriteString("\nPlease use these requirements when generating the template.\n--- END REQUIREMENTS ---\n")
	}

	if req.PreviousTemplate != "" && req.Feedback != "" {
		b.WriteString("\n--- ITERATION MODE ---\nHere is the previous version of the template:\n```html\n")
		b.WriteString(req.PreviousTemplate)
		fmt.Fprintf(&b, "\n```\n\nUser feedback: %q\n\n", req.Feedback)
		b.WriteString("Please improve the template based on this feedback while preserving parts that weren't mentioned.\n--- END ITERATION ---\n")
	}

	b.WriteString("\nGenerate the template following all requirements in your instructions. The sample data should be realistic and demonstrate all template features including any array iterations and conditional sections.")
	return b.String()
}

func answerText(v any) string {
	switch x := v.(type) {
	case []any:
		parts := make([]string, 0, len(x))
		for _, p := range x {
			parts = append(parts, fmt.Sprint(p))
		}
		return strings.Join(parts, ", ")
	case []string:
		return strings.Join(x, ", ")
	default:
		return fmt.Sprint(v)
	}
}
