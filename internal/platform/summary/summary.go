// Package summary produces structured clinical summaries (SOAP, progress
// note, discharge summary) from free text through a chat model with
// JSON-schema constrained output, and renders them as plain text.
package summary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gpt-4.1"

// Template selects the summary layout.
type Template string

const (
	TemplateSOAP      Template = "soap"
	TemplateProgress  Template = "progress"
	TemplateDischarge Template = "discharge"
)

// ErrUnknownTemplate is returned for a template outside the known set.
var ErrUnknownTemplate = errors.New("unknown template type")

// ParseTemplate validates s. The empty string selects SOAP.
func ParseTemplate(s string) (Template, error) {
	switch Template(s) {
	case "":
		return TemplateSOAP, nil
	case TemplateSOAP, TemplateProgress, TemplateDischarge:
		return Template(s), nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownTemplate, s)
}

// SOAPNote is the SOAP layout.
type SOAPNote struct {
	Subjective string `json:"subjective" description:"Patient complaints, symptoms, and history from their perspective"`
	Objective  string `json:"objective" description:"Observable and measurable findings (vital signs, physical exam, lab results)"`
	Assessment string `json:"assessment" description:"Clinical diagnosis or professional assessment of the condition"`
	Plan       string `json:"plan" description:"Treatment plan, medications, follow-up, and next steps"`
}

// ProgressNote is the progress-note layout.
type ProgressNote struct {
	History    string `json:"history" description:"Relevant history including chief complaint, history of present illness, and review of systems"`
	Exam       string `json:"exam" description:"Physical examination findings and vital signs"`
	Assessment string `json:"assessment" description:"Clinical assessment and diagnosis"`
	Plan       string `json:"plan" description:"Treatment plan, medications, and follow-up instructions"`
}

// DischargeSummary is the discharge layout.
type DischargeSummary struct {
	AdmissionDiagnosis    string `json:"admissionDiagnosis" description:"Primary diagnosis at time of admission"`
	HospitalCourse        string `json:"hospitalCourse" description:"Summary of hospital stay, procedures, treatments, and clinical course"`
	DischargeCondition    string `json:"dischargeCondition" description:"Patient condition at discharge and current status"`
	DischargeInstructions string `json:"dischargeInstructions" description:"Discharge medications, follow-up appointments, and patient instructions"`
}

type section struct {
	title string
	body  string
}

func render(header string, sections ...section) string {
	var b strings.Builder
	b.WriteString(header)
	for _, s := range sections {
		b.WriteString("\n\n")
		b.WriteString(s.title)
		b.WriteString(":\n")
		b.WriteString(s.body)
	}
	return b.String()
}

// Text renders the note under a "SOAP NOTE" header.
func (n SOAPNote) Text() string {
	return render("SOAP NOTE",
		section{"Subjective", n.Subjective},
		section{"Objective", n.Objective},
		section{"Assessment", n.Assessment},
		section{"Plan", n.Plan},
	)
}

// Text renders the note under a "PROGRESS NOTE" header.
func (n ProgressNote) Text() string {
	return render("PROGRESS NOTE",
		section{"History", n.History},
		section{"Exam", n.Exam},
		section{"Assessment", n.Assessment},
		section{"Plan", n.Plan},
	)
}

// Text renders the summary under a "DISCHARGE SUMMARY" header.
func (n DischargeSummary) Text() string {
	return render("DISCHARGE SUMMARY",
		section{"Admission Diagnosis", n.AdmissionDiagnosis},
		section{"Hospital Course", n.HospitalCourse},
		section{"Discharge Condition", n.DischargeCondition},
		section{"Discharge Instructions", n.DischargeInstructions},
	)
}

// Summarizer turns clinical text into a rendered summary.
type Summarizer interface {
	Generate(ctx context.Context, content string, tmpl Template) (string, error)
}

type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Config configures the OpenAI summarizer.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

// OpenAI is a Summarizer backed by the chat completions API.
type OpenAI struct {
	client chatClient
	model  string
	logger zerolog.Logger
}

// NewOpenAI builds an OpenAI summarizer.
func NewOpenAI(cfg Config, logger zerolog.Logger) *OpenAI {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	return &OpenAI{
		client: openai.NewClientWithConfig(oc),
		model:  model,
		logger: logger.With().Str("component", "summary").Str("model", model).Logger(),
	}
}

type layout struct {
	name   string
	format string
	target interface{ Text() string }
}

func layoutFor(tmpl Template) (layout, error) {
	switch tmpl {
	case TemplateSOAP:
		return layout{"soap_note", "SOAP format (Subjective, Objective, Assessment, Plan)", &SOAPNote{}}, nil
	case TemplateProgress:
		return layout{"progress_note", "a Progress Note format (History, Exam, Assessment, Plan)", &ProgressNote{}}, nil
	case TemplateDischarge:
		return layout{"discharge_summary", "a Discharge Summary format (Admission Diagnosis, Hospital Course, Discharge Condition, Discharge Instructions)", &DischargeSummary{}}, nil
	}
	return layout{}, fmt.Errorf("%w: %s", ErrUnknownTemplate, tmpl)
}

func prompt(format, content string) string {
	return "You are a medical documentation specialist. Analyze the following clinical note and structure it into " +
		format + ".\n\nClinical Note:\n" + content +
		"\n\nExtract or infer the relevant information for each section. If a section has no information, write \"Not documented\" for that section."
}

// Generate asks the model for the template's structure and renders it.
func (o *OpenAI) Generate(ctx context.Context, content string, tmpl Template) (string, error) {
	l, err := layoutFor(tmpl)
	if err != nil {
		return "", err
	}

	schema, err := jsonschema.GenerateSchemaForType(l.target)
	if err != nil {
		return "", fmt.Errorf("build %s schema: %w", tmpl, err)
	}

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt(l.format, content)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   l.name,
				Schema: schema,
				Strict: true,
			},
		},
	})
	if err != nil {
		o.logger.Error().Err(err).Str("template", string(tmpl)).Msg("summary request failed")
		return "", fmt.Errorf("generate %s summary: %w", tmpl, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("generate %s summary: model returned no choices", tmpl)
	}

	raw := resp.Choices[0].Message.Content
	if err := json.Unmarshal([]byte(raw), l.target); err != nil {
		return "", fmt.Errorf("decode %s summary: %w", tmpl, err)
	}
	o.logger.Debug().Str("template", string(tmpl)).Str("finish_reason", string(resp.Choices[0].FinishReason)).Msg("summary generated")
	return l.target.Text(), nil
}
