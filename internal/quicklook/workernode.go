package quicklook

import (
	"cmp"
	"fmt"
	"net"
	"strconv"
)

// WorkerNode identifies one worker process by (host, port). Identity is the
// tuple itself: two nodes with the same host and port are the same node.
type WorkerNode struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// String renders the node as "host:port", matching the log/span attribute
// format used across the coordinator.
func (w WorkerNode) String() string {
	return fmt.Sprintf("%s:%d", w.Host, w.Port)
}

// ParseWorkerNode parses the "host:port" form produced by String, used to
// reconstruct a JobSnapshot's CcdGeneratorMap after a coordinator restart.
func ParseWorkerNode(s string) (WorkerNode, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return WorkerNode{}, fmt.Errorf("parse worker node %q: %w", s, err)
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return WorkerNode{}, fmt.Errorf("parse worker node %q: %w", s, err)
	}

	return WorkerNode{Host: host, Port: port}, nil
}

// CompareWorkerNodes orders two nodes by (host, port), the sort used by the
// tile-to-worker router (C4) before computing a primary index. It must be
// stable across processes: it never consults hashing or map iteration order.
func CompareWorkerNodes(a, b WorkerNode) int {
	if c := cmp.Compare(a.Host, b.Host); c != 0 {
		return c
	}

	return cmp.Compare(a.Port, b.Port)
}

// SortWorkerNodes returns a new, ascending-sorted copy of nodes, deduplicated
// by identity. The input is not mutated.
func SortWorkerNodes(nodes []WorkerNode) []WorkerNode {
	seen := make(map[WorkerNode]struct{}, len(nodes))
	unique := make([]WorkerNode, 0, len(nodes))

	for _, n := range nodes {
		if _, ok := seen[n]; ok {
			continue
		}

		seen[n] = struct{}{}
		unique = append(unique, n)
	}

	insertionSortWorkerNodes(unique)

	return unique
}

// insertionSortWorkerNodes sorts in place; the slices involved are small
// (bounded by the number of registered workers), so a simple insertion sort
// keeps the router free of an extra import.
func insertionSortWorkerNodes(nodes []WorkerNode) {
	for i := 1; i < len(nodes); i++ {
		for j := i; j > 0 && CompareWorkerNodes(nodes[j-1], nodes[j]) > 0; j-- {
			nodes[j-1], nodes[j] = nodes[j], nodes[j-1]
		}
	}
}
