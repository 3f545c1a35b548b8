package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/responses"
	"github.com/tidwall/gjson"

	"github.com/Avis2912/magnus/internal/logging"
)

type OpenAIConfig struct {
	BaseURL      string
	Model        string
	APIKey       string
	Instructions string
}

// OpenAI answers a prompt with one Responses API call. Reasoning summaries
// and tool calls found in the response are logged as typed steps.
type OpenAI struct {
	cfg     OpenAIConfig
	service responses.ResponseService
}

func NewOpenAI(cfg OpenAIConfig, httpClient *http.Client) *OpenAI {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	opts := []option.RequestOption{option.WithHTTPClient(httpClient)}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	if key := strings.TrimSpace(cfg.APIKey); key != "" {
		opts = append(opts, option.WithAPIKey(key))
	}
	return &OpenAI{cfg: cfg, service: responses.NewResponseService(opts...)}
}

func (o *OpenAI) Run(ctx context.Context, prompt string) (string, error) {
	lg := logging.FromContext(ctx)
	var params responses.ResponseNewParams
	if model := strings.TrimSpace(o.cfg.Model); model != "" {
		params.Model = model
	}
	params.Input = responses.ResponseNewParamsInputUnion{OfString: param.NewOpt(prompt)}
	if instr := strings.TrimSpace(o.cfg.Instructions); instr != "" {
		params.Instructions = param.NewOpt(instr)
	}

	lg.Info("Calling model "+o.cfg.Model, logging.EventKindKey, "tool", "model", o.cfg.Model)
	var rawBody []byte
	if _, err := o.service.New(ctx, params, option.WithResponseBodyInto(&rawBody)); err != nil {
		var apiErr *responses.Error
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("responses api status %d: %s", apiErr.StatusCode, strings.TrimSpace(apiErr.RawJSON()))
		}
		return "", fmt.Errorf("responses request failed: %w", err)
	}
	if len(rawBody) == 0 {
		return "", errors.New("responses api returned empty response")
	}
	return parseOutput(lg, rawBody)
}

func parseOutput(lg *slog.Logger, raw []byte) (string, error) {
	if !gjson.ValidBytes(raw) {
		return "", errors.New("responses api returned invalid json")
	}
	doc := gjson.ParseBytes(raw)
	if msg := strings.TrimSpace(doc.Get("error.message").String()); msg != "" {
		return "", fmt.Errorf("responses api error: %s", msg)
	}

	var texts []string
	doc.Get("output").ForEach(func(_, item gjson.Result) bool {
		switch item.Get("type").String() {
		case "message":
			item.Get("content").ForEach(func(_, part gjson.Result) bool {
				if part.Get("type").String() == "output_text" {
					texts = append(texts, part.Get("text").String())
				}
				return true
			})
		case "reasoning":
			for _, s := range item.Get("summary.#.text").Array() {
				if text := strings.TrimSpace(s.String()); text != "" {
					lg.Info(text, logging.EventKindKey, "think")
				}
			}
		case "function_call", "web_search_call", "file_search_call":
			name := item.Get("name").String()
			if name == "" {
				name = item.Get("type").String()
			}
			lg.Info("Tool "+name+" completed", logging.EventKindKey, "act", "call_id", item.Get("call_id").String())
		}
		return true
	})
	out := strings.TrimSpace(strings.Join(texts, "\n"))
	if out == "" {
		if status := doc.Get("status").String(); status != "" && status != "completed" {
			return "", fmt.Errorf("response %s ended with status %s", doc.Get("id").String(), status)
		}
		return "", errors.New("response has no output text")
	}
	return out, nil
}
