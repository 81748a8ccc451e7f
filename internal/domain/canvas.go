package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type NodeKind string

const (
	NodeKindTable   NodeKind = "TABLE"
	NodeKindFilter  NodeKind = "FILTER"
	NodeKindJoin    NodeKind = "JOIN"
	NodeKindWebhook NodeKind = "WEBHOOK"
)

// editorNodeTypes maps the node type names written by the graph editor.
var editorNodeTypes = map[string]NodeKind{
	"tableNode":   NodeKindTable,
	"filterNode":  NodeKindFilter,
	"joinNode":    NodeKindJoin,
	"webhookNode": NodeKindWebhook,
}

// EditorType returns the graph editor's name for the kind.
func (k NodeKind) EditorType() string {
	for name, kind := range editorNodeTypes {
		if kind == k {
			return name
		}
	}
	return string(k)
}

// Valid reports whether the kind is one of the four supported node kinds.
func (k NodeKind) Valid() bool {
	switch k {
	case NodeKindTable, NodeKindFilter, NodeKindJoin, NodeKindWebhook:
		return true
	default:
		return false
	}
}

// ParseNodeKind accepts canonical kinds ("FILTER", "filter") and editor type
// names ("filterNode").
func ParseNodeKind(value string) NodeKind {
	if kind, ok := editorNodeTypes[value]; ok {
		return kind
	}
	return NodeKind(strings.ToUpper(strings.TrimSpace(value)))
}

type Canvas struct {
	ID          uuid.UUID  `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Nodes       []Node     `json:"nodes"`
	Edges       []Edge     `json:"edges"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
}

type Position struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Node is a closed tagged union: Kind selects which config pointer is set.
type Node struct {
	ID       string
	Kind     NodeKind
	Label    string
	Position *Position

	Table   *TableNodeConfig
	Filter  *FilterNodeConfig
	Join    *JoinNodeConfig
	Webhook *WebhookNodeConfig
}

type TableNodeConfig struct {
	TableName string `json:"tableName" yaml:"tableName"`
}

type FilterNodeConfig struct {
	Condition string `json:"condition" yaml:"condition"`
}

// JoinNodeConfig joins the node's input (left) against JoinTable (right) on
// left[JoinField] == right[TargetField].
type JoinNodeConfig struct {
	JoinTable   string `json:"joinTable" yaml:"joinTable"`
	JoinField   string `json:"joinField" yaml:"joinField"`
	TargetField string `json:"targetField" yaml:"targetField"`
}

type WebhookNodeConfig struct {
	URL string `json:"url" yaml:"url"`
}

type Edge struct {
	ID     string `json:"id,omitempty" yaml:"id,omitempty"`
	Source string `json:"source" yaml:"source"`
	Target string `json:"target" yaml:"target"`
	Type   string `json:"type,omitempty" yaml:"type,omitempty"`
}

// nodeData is the editor's free-form "data" object.
type nodeData struct {
	Label       string `json:"label,omitempty"`
	TableName   string `json:"tableName,omitempty"`
	Condition   string `json:"condition,omitempty"`
	JoinTable   string `json:"joinTable,omitempty"`
	JoinField   string `json:"joinField,omitempty"`
	TargetField string `json:"targetField,omitempty"`
	URL         string `json:"url,omitempty"`
	WebhookURL  string `json:"webhookUrl,omitempty"`
}

type nodeJSON struct {
	ID       string          `json:"id"`
	Kind     string          `json:"kind,omitempty"`
	Type     string          `json:"type,omitempty"`
	Label    string          `json:"label,omitempty"`
	Position *Position       `json:"position,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`

	Table   *TableNodeConfig   `json:"table,omitempty"`
	Filter  *FilterNodeConfig  `json:"filter,omitempty"`
	Join    *JoinNodeConfig    `json:"join,omitempty"`
	Webhook *WebhookNodeConfig `json:"webhook,omitempty"`
}

// UnmarshalJSON accepts both the canonical form ({"kind": "FILTER", "filter":
// {...}}) and the editor form ({"type": "filterNode", "data": {...}}).
func (n *Node) UnmarshalJSON(raw []byte) error {
	var payload nodeJSON
	if err := json.Unmarshal(raw, &payload); err != nil {
		return err
	}
	kindName := payload.Kind
	if kindName == "" {
		kindName = payload.Type
	}
	node := Node{
		ID:       payload.ID,
		Kind:     ParseNodeKind(kindName),
		Label:    payload.Label,
		Position: payload.Position,
		Table:    payload.Table,
		Filter:   payload.Filter,
		Join:     payload.Join,
		Webhook:  payload.Webhook,
	}
	if len(payload.Data) > 0 && string(payload.Data) != "null" {
		var data nodeData
		if err := json.Unmarshal(payload.Data, &data); err != nil {
			return fmt.Errorf("decode data of node %s: %w", payload.ID, err)
		}
		node.applyData(data)
	}
	*n = node
	return nil
}

func (n *Node) applyData(data nodeData) {
	if n.Label == "" {
		n.Label = data.Label
	}
	switch n.Kind {
	case NodeKindTable:
		if n.Table == nil {
			n.Table = &TableNodeConfig{TableName: data.TableName}
		}
	case NodeKindFilter:
		if n.Filter == nil {
			n.Filter = &FilterNodeConfig{Condition: data.Condition}
		}
	case NodeKindJoin:
		if n.Join == nil {
			n.Join = &JoinNodeConfig{JoinTable: data.JoinTable, JoinField: data.JoinField, TargetField: data.TargetField}
		}
	case NodeKindWebhook:
		if n.Webhook == nil {
			url := data.URL
			if url == "" {
				url = data.WebhookURL
			}
			n.Webhook = &WebhookNodeConfig{URL: url}
		}
	}
}

// MarshalJSON writes the editor form so saved canvases round-trip through the
// graph editor.
func (n Node) MarshalJSON() ([]byte, error) {
	data := nodeData{Label: n.Label}
	switch n.Kind {
	case NodeKindTable:
		if n.Table != nil {
			data.TableName = n.Table.TableName
		}
	case NodeKindFilter:
		if n.Filter != nil {
			data.Condition = n.Filter.Condition
		}
	case NodeKindJoin:
		if n.Join != nil {
			data.JoinTable = n.Join.JoinTable
			data.JoinField = n.Join.JoinField
			data.TargetField = n.Join.TargetField
		}
	case NodeKindWebhook:
		if n.Webhook != nil {
			data.URL = n.Webhook.URL
		}
	}
	encodedData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(nodeJSON{
		ID:       n.ID,
		Type:     n.Kind.EditorType(),
		Position: n.Position,
		Data:     encodedData,
	})
}

// NodeByID returns the node with the given id.
func (c Canvas) NodeByID(id string) (Node, bool) {
	for _, node := range c.Nodes {
		if node.ID == id {
			return node, true
		}
	}
	return Node{}, false
}

// TableNames lists every table referenced by Table and Join nodes, in node
// order and without duplicates.
func (c Canvas) TableNames() []string {
	seen := make(map[string]struct{})
	var names []string
	add := func(name string) {
		name = strings.TrimSpace(name)
		if name == "" {
			return
		}
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	for _, node := range c.Nodes {
		switch node.Kind {
		case NodeKindTable:
			if node.Table != nil {
				add(node.Table.TableName)
			}
		case NodeKindJoin:
			if node.Join != nil {
				add(node.Join.JoinTable)
			}
		}
	}
	return names
}

func CanvasNodesToJSON(nodes []Node) (json.RawMessage, error) {
	if nodes == nil {
		nodes = []Node{}
	}
	return json.Marshal(nodes)
}

func CanvasNodesFromJSON(data json.RawMessage) ([]Node, error) {
	if len(data) == 0 {
		return []Node{}, nil
	}
	var nodes []Node
	if err := json.Unmarshal(data, &nodes); err != nil {
		return nil, err
	}
	if nodes == nil {
		nodes = []Node{}
	}
	return nodes, nil
}

func CanvasEdgesToJSON(edges []Edge) (json.RawMessage, error) {
	if edges == nil {
		edges = []Edge{}
	}
	return json.Marshal(edges)
}

func CanvasEdgesFromJSON(data json.RawMessage) ([]Edge, error) {
	if len(data) == 0 {
		return []Edge{}, nil
	}
	var edges []Edge
	if err := json.Unmarshal(data, &edges); err != nil {
		return nil, err
	}
	if edges == nil {
		edges = []Edge{}
	}
	return edges, nil
}
