// Package safety provides the static pre-execution filter for submitted code.
//
// The filter is an ordered denylist of case-insensitive regular expressions
// evaluated against the raw source text. It is a fast-reject heuristic that
// runs before any sandbox is provisioned; it is never the isolation boundary.
//
// Usage:
//
//	filter, err := safety.New(nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if ok, rule := filter.Check(source); !ok {
//	    fmt.Printf("rejected by %s\n", rule)
//	}
package safety
