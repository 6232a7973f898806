package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/anzal1/unclaude/pkg/daemon"
	"github.com/pkoukk/tiktoken-go"
)

// tokenBudget caps how many trailing messages passthroughCompactor keeps
// verbatim; the rest are folded into the summary line. Counted with the
// same cl100k_base encoding the teacher's conversation package used for
// context-window accounting.
const tokenBudget = 2000

var (
	tokenEncoder *tiktoken.Tiktoken
	encoderOnce  sync.Once
)

func countTokens(s string) int {
	encoderOnce.Do(func() {
		tokenEncoder, _ = tiktoken.GetEncoding("cl100k_base")
	})
	if tokenEncoder == nil {
		return len(s) / 4
	}
	return len(tokenEncoder.Encode(s, nil, nil))
}

// passthroughCompactor summarizes by keeping as many trailing messages as
// fit under tokenBudget and folding the rest into a one-line summary; the
// real semantic-summarization strategy is an external collaborator out of
// scope for this core (spec §1).
type passthroughCompactor struct{}

func (passthroughCompactor) Compact(ctx context.Context, messages []daemon.Message) (string, error) {
	kept := 0
	used := 0
	for i := len(messages) - 1; i >= 0; i-- {
		used += countTokens(messages[i].Content) + 4
		if used > tokenBudget {
			break
		}
		kept++
	}
	dropped := messages[:len(messages)-kept]
	tail := messages[len(messages)-kept:]

	summary := fmt.Sprintf("Earlier %d turn(s) summarized (compaction placeholder); recent turns: ", len(dropped))
	for _, m := range tail {
		summary += "[" + m.Role + "] " + truncate(m.Content, 80) + " "
	}
	return summary, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
