package pipeline

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rpattn/canvasdb/internal/domain"
	"github.com/rpattn/canvasdb/internal/expression"
)

// plan is the per-run view of a canvas: an adjacency map built fresh from the
// flat node and edge lists, the execution order and the compiled filters.
type plan struct {
	nodes      map[string]domain.Node
	order      []domain.Node
	inputs     map[string][]string
	outputs    map[string][]string
	terminals  []string
	conditions map[string]*expression.Condition
}

// buildPlan validates the canvas and orders its nodes. Errors are returned
// before any node executes.
func buildPlan(canvas domain.Canvas) (*plan, error) {
	p := &plan{
		nodes:      make(map[string]domain.Node, len(canvas.Nodes)),
		inputs:     make(map[string][]string, len(canvas.Nodes)),
		outputs:    make(map[string][]string, len(canvas.Nodes)),
		conditions: make(map[string]*expression.Condition),
	}

	for _, node := range canvas.Nodes {
		if strings.TrimSpace(node.ID) == "" {
			return nil, &domain.InvalidGraphError{Reason: "node id is required"}
		}
		if _, exists := p.nodes[node.ID]; exists {
			return nil, &domain.InvalidGraphError{NodeID: node.ID, Reason: "duplicate node id"}
		}
		if err := validateNodeConfig(node); err != nil {
			return nil, err
		}
		p.nodes[node.ID] = node
	}

	seenEdges := make(map[[2]string]struct{}, len(canvas.Edges))
	for _, edge := range canvas.Edges {
		if _, ok := p.nodes[edge.Source]; !ok {
			return nil, &domain.InvalidGraphError{NodeID: edge.Source, Reason: fmt.Sprintf("edge %q references unknown source node", edge.ID)}
		}
		if _, ok := p.nodes[edge.Target]; !ok {
			return nil, &domain.InvalidGraphError{NodeID: edge.Target, Reason: fmt.Sprintf("edge %q references unknown target node", edge.ID)}
		}
		key := [2]string{edge.Source, edge.Target}
		if _, dup := seenEdges[key]; dup {
			continue
		}
		seenEdges[key] = struct{}{}
		p.inputs[edge.Target] = append(p.inputs[edge.Target], edge.Source)
		p.outputs[edge.Source] = append(p.outputs[edge.Source], edge.Target)
	}
	for id := range p.inputs {
		sort.Strings(p.inputs[id])
	}
	for id := range p.outputs {
		sort.Strings(p.outputs[id])
	}

	order, err := topologicalOrder(p)
	if err != nil {
		return nil, err
	}
	p.order = order

	for _, node := range order {
		if len(p.outputs[node.ID]) == 0 {
			p.terminals = append(p.terminals, node.ID)
		}
		if node.Kind != domain.NodeKindFilter {
			continue
		}
		cond, err := expression.Parse(node.Filter.Condition)
		if err != nil {
			var exprErr *domain.InvalidExpressionError
			if errors.As(err, &exprErr) {
				exprErr.NodeID = node.ID
				return nil, exprErr
			}
			return nil, fmt.Errorf("compile filter %s: %w", node.ID, err)
		}
		p.conditions[node.ID] = cond
	}
	sort.Strings(p.terminals)
	return p, nil
}

func validateNodeConfig(node domain.Node) error {
	missing := func(what string) error {
		return &domain.InvalidGraphError{NodeID: node.ID, Reason: fmt.Sprintf("%s node requires %s", strings.ToLower(string(node.Kind)), what)}
	}
	switch node.Kind {
	case domain.NodeKindTable:
		if node.Table == nil || strings.TrimSpace(node.Table.TableName) == "" {
			return missing("tableName")
		}
	case domain.NodeKindFilter:
		if node.Filter == nil {
			return missing("a condition")
		}
	case domain.NodeKindJoin:
		if node.Join == nil || strings.TrimSpace(node.Join.JoinTable) == "" {
			return missing("joinTable")
		}
		if strings.TrimSpace(node.Join.JoinField) == "" {
			return missing("joinField")
		}
		if strings.TrimSpace(node.Join.TargetField) == "" {
			return missing("targetField")
		}
	case domain.NodeKindWebhook:
		if node.Webhook == nil {
			return missing("a url")
		}
	default:
		return &domain.InvalidGraphError{NodeID: node.ID, Reason: fmt.Sprintf("unsupported node kind %q", node.Kind)}
	}
	return nil
}

// topologicalOrder runs Kahn's algorithm with the ready set kept sorted by node
// id, so identical canvases always execute in the same order.
func topologicalOrder(p *plan) ([]domain.Node, error) {
	indegree := make(map[string]int, len(p.nodes))
	for id := range p.nodes {
		indegree[id] = len(p.inputs[id])
	}

	var ready []string
	for id, degree := range indegree {
		if degree == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	order := make([]domain.Node, 0, len(p.nodes))
	for len(ready) > 0 {
		current := ready[0]
		ready = ready[1:]
		order = append(order, p.nodes[current])
		for _, next := range p.outputs[current] {
			indegree[next]--
			if indegree[next] == 0 {
				ready = insertSorted(ready, next)
			}
		}
	}

	if len(order) != len(p.nodes) {
		return nil, &domain.CyclicGraphError{NodeID: findCycleNode(p, indegree)}
	}
	return order, nil
}

// findCycleNode walks unprocessed predecessors from the smallest blocked node.
// Every blocked node has a blocked predecessor, so the walk must revisit a
// node, and the first revisited node lies on a cycle.
func findCycleNode(p *plan, indegree map[string]int) string {
	var blocked []string
	for id, degree := range indegree {
		if degree > 0 {
			blocked = append(blocked, id)
		}
	}
	if len(blocked) == 0 {
		return ""
	}
	sort.Strings(blocked)

	visited := make(map[string]struct{})
	current := blocked[0]
	for {
		if _, seen := visited[current]; seen {
			return current
		}
		visited[current] = struct{}{}
		next := ""
		for _, source := range p.inputs[current] {
			if indegree[source] > 0 {
				next = source
				break
			}
		}
		if next == "" {
			return current
		}
		current = next
	}
}

func insertSorted(values []string, value string) []string {
	idx := sort.SearchStrings(values, value)
	values = append(values, "")
	copy(values[idx+1:], values[idx:])
	values[idx] = value
	return values
}
