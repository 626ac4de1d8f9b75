// Debategraph - Resumable LLM Debates on a Checkpointed Task Graph
//
// Debategraph runs a two-sided debate as a fixed directed acyclic graph of
// stages: stances, opening arguments, rebuttals, a verdict and a markdown
// summary. Independent stages run concurrently, every completed stage is
// checkpointed, and an interrupted session resumes from its last checkpoint
// without running finished stages again.
//
// # Quick Start
//
// Run a debate with the command line tool:
//
//	go install github.com/smallnest/debategraph/cmd/debate@latest
//	debate run "Remote work is better than office work"
//
// Or embed the engine:
//
//	package main
//
//	import (
//		"context"
//		"fmt"
//
//		"github.com/smallnest/debategraph/debate"
//		"github.com/smallnest/debategraph/graph"
//		"github.com/smallnest/debategraph/llm"
//		"github.com/smallnest/debategraph/store/sqlite"
//	)
//
//	func main() {
//		gen, _ := llm.NewOllama("qwen2.5:1.5b", "", 0.4)
//		g, _ := debate.NewGraph(gen, debate.DefaultOptions())
//
//		st, _ := sqlite.NewSqliteCheckpointStore(sqlite.SqliteOptions{Path: "memory.db"})
//		defer st.Close()
//
//		runnable, _ := g.Compile(st)
//		input, _ := debate.Input("Should homework be abolished?")
//
//		for ev := range runnable.Stream(context.Background(), graph.NewSessionID(), input) {
//			switch ev.Kind {
//			case graph.EventStageComplete:
//				fmt.Println("done:", ev.Stage)
//			case graph.EventTerminal:
//				fmt.Println(ev.Output.String(debate.FieldFinalMarkdown))
//			case graph.EventError:
//				fmt.Println("failed:", ev.Err)
//			}
//		}
//	}
//
// # Packages
//
//   - graph: graph definition, freeze-time validation, the concurrent
//     executor, event streams and the session API
//   - store: the checkpoint store contract and its memory, file, sqlite,
//     postgres and redis backends
//   - debate: the debate stages, prompts, answer parsing and the markdown
//     and HTML summary
//   - llm: text generation over langchaingo, go-openai or a local echo
//   - config: viper-backed configuration
//   - metrics: Prometheus stage, session and generation metrics
//   - server: HTTP API with server-sent events
//   - log: logging interface with golog and standard library backends
//
// # Resuming
//
// Sessions are keyed by id. Calling Stream or Run again with the id of an
// unfinished session continues it: stages recorded as completed are skipped
// and their outputs are taken from the checkpoint. The input of a resumed
// call is ignored. Running a finished session emits its terminal event
// again and executes nothing.
package debategraph // import "github.com/smallnest/debategraph"
