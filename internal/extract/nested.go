package extract

import "golang.org/x/net/html"

// dropNested resolves candidates that contain other candidates. An ancestor holding at
// least two inner candidates with distinct names of their own is a wrapper around several
// items and is dropped; otherwise the inner candidates are fragments of the ancestor and
// are dropped instead.
func dropNested[T any](items []T, nodeOf func(T) *html.Node, nameOf func(T) string) []T {
	drop := make([]bool, len(items))
	for i := range items {
		outer := nodeOf(items[i])
		var inner []int
		for j := range items {
			if i != j && isAncestor(outer, nodeOf(items[j])) {
				inner = append(inner, j)
			}
		}
		if len(inner) == 0 {
			continue
		}
		others := make(map[string]bool)
		for _, j := range inner {
			if name := nameOf(items[j]); name != nameOf(items[i]) {
				others[name] = true
			}
		}
		if len(others) >= 2 {
			drop[i] = true
			continue
		}
		for _, j := range inner {
			drop[j] = true
		}
	}

	out := make([]T, 0, len(items))
	for i, item := range items {
		if !drop[i] {
			out = append(out, item)
		}
	}
	return out
}

func isAncestor(ancestor, n *html.Node) bool {
	if ancestor == nil || n == nil {
		return false
	}
	for p := n.Parent; p != nil; p = p.Parent {
		if p == ancestor {
			return true
		}
	}
	return false
}
