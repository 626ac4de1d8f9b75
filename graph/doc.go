// Package graph is the execution engine of debategraph: a fixed, acyclic
// graph of stages over a shared, typed state, executed with fan-out of
// independent stages and a single serialized merge point.
//
// # Building a graph
//
// Fields are declared up front with their kind. Each stage names the stages
// it depends on and the fields it may write:
//
//	g := graph.NewGraph()
//	g.AddInputField("x", graph.KindString)
//	g.AddField("y", graph.KindString)
//	g.AddField("z", graph.KindString)
//	g.AddField("out", graph.KindString)
//	g.AddStage("start", "", nil, nil, noop)
//	g.AddStage("a", "", []string{"start"}, []string{"y"}, writeY)
//	g.AddStage("b", "", []string{"start"}, []string{"z"}, writeZ)
//	g.AddStage("c", "", []string{"a", "b"}, []string{"out"}, join)
//	g.SetOutputField("out")
//
// Freeze validates the graph: it must be acyclic with exactly one source and
// one terminal stage, and two stages that may run concurrently must not
// declare the same field. All such errors match ErrInvalidGraph.
//
// # Sessions
//
// Compile binds a frozen graph to a store.CheckpointStore. Every run is
// keyed by a session id. A checkpoint holding the merged state and the set of
// completed stages is written after every stage, so a session interrupted by
// a crash, a failing stage or cancellation resumes at the first stages that
// have not completed. Completed stages are never invoked again; a failed
// stage is retried on resume.
//
//	r, _ := g.Compile(sqliteStore, graph.WithLogger(logger))
//	final, err := r.Run(ctx, "s1", graph.State{"x": "go"})
//	for ev := range r.Stream(ctx, "s2", graph.State{"x": "go"}) {
//		fmt.Println(ev.Kind, ev.Stage)
//	}
//	snap, err := r.GetState(ctx, "s1")
//
// Stream delivers stage completions in the order the stages finished,
// followed by exactly one terminal or error event.
package graph
