// Package idea provides the idea stage: a Gemini-backed generator that
// turns a theme into a title, description, keywords, and one image prompt
// per planned image. Model output is JSON-schema validated before the rest
// of the pipeline may consume it.
package idea

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/xeipuuv/gojsonschema"
	"google.golang.org/api/option"

	"github.com/stoney2759/autotube/internal/provider"
	"github.com/stoney2759/autotube/internal/types"
)

const defaultModel = "gemini-2.0-flash"

// Options tunes idea generation.
type Options struct {
	// Model overrides the default Gemini model name.
	Model string
	// ImageCount is how many image prompts the idea must carry.
	ImageCount int
}

// Generator implements the idea stage capability.
type Generator struct {
	client *genai.Client
	model  string
	count  int
}

// NewGenerator creates the Gemini client. A missing API key is a
// construction-time error; the engine never sees an unusable idea stage.
func NewGenerator(ctx context.Context, apiKey string, opts Options) (*Generator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	model := opts.Model
	if model == "" {
		model = defaultModel
	}
	count := opts.ImageCount
	if count <= 0 {
		count = 5
	}
	return &Generator{client: client, model: model, count: count}, nil
}

// Name identifies the stage.
func (g *Generator) Name() string { return types.StageIdea }

// Close releases the underlying client.
func (g *Generator) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

// Run asks the model for an idea and validates it. A model response that
// cannot be parsed falls back to a deterministic theme-templated idea so a
// flaky model does not burn the whole run; transport failures are reported
// retryable.
func (g *Generator) Run(ctx context.Context, in *provider.Input) (*provider.Output, error) {
	theme := in.Request.Theme
	if theme == "" {
		theme = "general"
	}

	model := g.client.GenerativeModel(g.model)
	model.SetTemperature(0.7)
	model.ResponseMIMEType = "application/json"

	resp, err := model.GenerateContent(ctx, genai.Text(buildPrompt(theme, g.count)))
	if err != nil {
		return nil, provider.Retryable(types.StageIdea, "content generation request failed", err)
	}

	parsed, err := ParseIdea(extractText(resp), g.count)
	if err != nil {
		parsed = BackupIdea(theme, g.count)
	}
	if parsed.Theme == "" {
		parsed.Theme = theme
	}

	ref, err := writeArtifact(in.WorkDir, parsed)
	if err != nil {
		return nil, provider.Retryable(types.StageIdea, "failed to write idea artifact", err)
	}

	return &provider.Output{ArtifactRef: ref, Payload: parsed}, nil
}

func buildPrompt(theme string, count int) string {
	return fmt.Sprintf(`You write concepts for 60-second vertical short-form videos.
Produce one concept for the theme %q as a JSON object with these fields:
  title          - catchy, at most 100 characters
  description    - 2-3 sentences, ends with 3-5 hashtags
  theme          - the theme you were given
  mood           - one word (upbeat, calm, dramatic, ...)
  keywords       - 4-8 short strings
  image_prompts  - exactly %d vivid text-to-image prompts telling one visual story

Return only the JSON object.`, theme, count)
}

// ParseIdea cleans, schema-validates, and decodes a model response.
func ParseIdea(text string, count int) (*provider.Idea, error) {
	text = CleanJSONBlock(text)
	if text == "" {
		return nil, fmt.Errorf("empty model response")
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(ideaSchema),
		gojsonschema.NewStringLoader(text),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to validate idea JSON: %w", err)
	}
	if !result.Valid() {
		var msgs []string
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.String())
		}
		return nil, fmt.Errorf("idea JSON failed schema validation: %s", strings.Join(msgs, "; "))
	}

	var idea provider.Idea
	if err := json.Unmarshal([]byte(text), &idea); err != nil {
		return nil, fmt.Errorf("failed to decode idea JSON: %w", err)
	}

	idea.ImagePrompts = normalizePrompts(idea.ImagePrompts, idea.Theme, count)
	return &idea, nil
}

// BackupIdea builds a deterministic theme-templated idea, used when the
// model returns unusable output.
func BackupIdea(theme string, count int) *provider.Idea {
	title := strings.ToUpper(theme[:1]) + theme[1:]
	return &provider.Idea{
		Title:        fmt.Sprintf("Amazing %s video that will surprise you", title),
		Description:  fmt.Sprintf("Check out this incredible %s content! #shorts #%s #trending", theme, theme),
		Theme:        theme,
		Mood:         "upbeat",
		Keywords:     []string{theme, "amazing", "shorts", "viral"},
		ImagePrompts: normalizePrompts(nil, theme, count),
	}
}

// normalizePrompts pads or trims the prompt list to exactly count entries.
func normalizePrompts(prompts []string, theme string, count int) []string {
	var out []string
	for _, p := range prompts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) > count {
		out = out[:count]
	}
	for len(out) < count {
		out = append(out, fmt.Sprintf("Beautiful %s scene, vibrant colors, high quality, detailed", theme))
	}
	return out
}

// CleanJSONBlock removes markdown code block wrappers from model responses.
// Models often wrap JSON in ```json ... ``` blocks even when instructed not
// to.
func CleanJSONBlock(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		return strings.TrimSpace(text)
	}

	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.Index(text, "\n"); idx >= 0 {
			firstLine := text[:idx]
			if len(firstLine) < 20 && !strings.Contains(firstLine, " ") && !strings.Contains(firstLine, "{") {
				text = text[idx+1:]
			}
		}
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		return strings.TrimSpace(text)
	}

	return text
}

func extractText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var sb strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				sb.WriteString(string(text))
			}
		}
	}
	return sb.String()
}

func writeArtifact(workDir string, idea *provider.Idea) (string, error) {
	if workDir == "" {
		return "", nil
	}
	data, err := json.MarshalIndent(idea, "", "  ")
	if err != nil {
		return "", err
	}
	path := filepath.Join(workDir, "idea.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
