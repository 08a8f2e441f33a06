package orchestrator

import (
	"fmt"
	"strings"

	"github.com/lazuer/tabulate-analysis-core/internal/llm"
	"github.com/lazuer/tabulate-analysis-core/internal/sandbox"
	"github.com/lazuer/tabulate-analysis-core/internal/schema"
)

const systemPrompt = `You are a data analysis assistant. You answer questions about tabular data files by writing and running one short Python program at a time.

Rules:
- Data files are mounted read-only under /data, named exactly as listed below. Load them with from tabular_loader import load_frame; df = load_frame("<file name>"); never write your own CSV/JSON/Excel parser by hand.
- Each reply is either exactly one fenced python code block, or a final plain-text answer with no code at all.
- The last thing your code prints must be the computed result: print("__RESULT__:" + str(result))
- If your code raises, catch it, print("__ERROR__:" + str(exception)), and stop; you will see the error and get another attempt.
- Do not guess at file contents beyond what the schema below tells you; read the actual file.`

// buildInitialConversation assembles the prompt from: the question,
// primary-file hint, file listing with sizes and formats, schema and
// semantic hints, the normalization guide when two or more files are
// present, the inflation summary when the question needs one, and the
// instruction to route parsing through the Loader's conventions.
func buildInitialConversation(question, primaryFile string, schemas []schema.FileSchema, guide, inflationSummary string) []llm.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n", question)
	if primaryFile != "" {
		fmt.Fprintf(&b, "Primary file: %s\n", primaryFile)
	}

	b.WriteString("\nAvailable files:\n")
	for _, fs := range schemas {
		fmt.Fprintf(&b, "- %s (%s, %d bytes, ~%d rows)\n", fs.File.Name, fs.File.Format, fs.File.Size, fs.RowCountEstimate)
		for _, col := range fs.Columns {
			sample := ""
			if len(col.SampleValues) > 0 {
				sample = fmt.Sprintf(", e.g. %s", strings.Join(col.SampleValues, ", "))
			}
			if len(col.Concepts) == 0 {
				fmt.Fprintf(&b, "    %s: %s%s\n", col.Name, col.Type, sample)
				continue
			}
			hints := make([]string, len(col.Concepts))
			for i, cm := range col.Concepts {
				hints[i] = fmt.Sprintf("%s [%s]", cm.Concept, strings.Join(cm.Synonyms, "/"))
			}
			fmt.Fprintf(&b, "    %s: %s (%s)%s\n", col.Name, col.Type, strings.Join(hints, ", "), sample)
		}
	}

	if guide != "" {
		b.WriteString("\n" + guide)
	}
	if inflationSummary != "" {
		b.WriteString("\n" + inflationSummary)
	}

	return []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt},
		{Role: llm.RoleUser, Content: b.String()},
	}
}

// renderObservation turns one sandbox Result into the user-role message
// fed back to the model. Both a clean run and a caught exception flow
// through this one function: a code-level exception is an observation,
// never a failure, so there is no separate error-formatting path here.
func renderObservation(result sandbox.Result) string {
	var b strings.Builder
	if result.Succeeded() {
		b.WriteString("Execution finished.\n")
	} else {
		fmt.Fprintf(&b, "Execution failed with exit code %d.\n", result.ExitCode)
	}
	if result.Stdout != "" {
		fmt.Fprintf(&b, "stdout:\n%s\n", result.Stdout)
	}
	if result.Stderr != "" {
		fmt.Fprintf(&b, "stderr:\n%s\n", result.Stderr)
	}
	if result.FinalValue != "" {
		fmt.Fprintf(&b, "final value: %s\n", result.FinalValue)
	}
	return b.String()
}

func tailOf(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
