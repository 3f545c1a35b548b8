package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/Avis2912/magnus/internal/logging"
)

// Demo replays a short scripted agent run through the task logger. It is the
// engine used when nothing else is configured.
type Demo struct {
	Agent string
	Delay time.Duration
}

func NewDemo(delay time.Duration) *Demo {
	return &Demo{Agent: "TaskAgent", Delay: delay}
}

func (d *Demo) Run(ctx context.Context, prompt string) (string, error) {
	lg := logging.FromContext(ctx)
	agent := d.Agent
	if agent == "" {
		agent = "TaskAgent"
	}
	script := []string{
		fmt.Sprintf("✨ %s's thoughts: Analyzing the user's request", agent),
		fmt.Sprintf("🛠️ %s selected Tool: WebSearch", agent),
		"🎯 Tool execution: Searching the web for information",
		"Task execution completed successfully",
	}
	lg.Info("Task prompt: " + prompt)
	for _, line := range script {
		if err := sleep(ctx, d.Delay); err != nil {
			return "", err
		}
		lg.Info(line)
	}
	return fmt.Sprintf("Finished: %s", prompt), nil
}
