package domain

import (
	"encoding/json"
	"fmt"

	"github.com/robfig/cron"
)

type NodeType string

const (
	NodeTypeTriggerEmail    NodeType = "trigger:email"
	NodeTypeTriggerSchedule NodeType = "trigger:schedule"
	NodeTypeTriggerManual   NodeType = "trigger:manual"

	NodeTypeConditionMatch        NodeType = "condition:match"
	NodeTypeConditionAIClassifier NodeType = "condition:ai_classifier"

	NodeTypeActionAIRewrite NodeType = "action:ai_rewrite"

	NodeTypeForwardEmail    NodeType = "forward:email"
	NodeTypeForwardTelegram NodeType = "forward:telegram"
	NodeTypeForwardDiscord  NodeType = "forward:discord"
	NodeTypeForwardSlack    NodeType = "forward:slack"
	NodeTypeForwardWebhook  NodeType = "forward:webhook"
)

var knownNodeTypes = map[NodeType]struct{}{
	NodeTypeTriggerEmail:          {},
	NodeTypeTriggerSchedule:       {},
	NodeTypeTriggerManual:         {},
	NodeTypeConditionMatch:        {},
	NodeTypeConditionAIClassifier: {},
	NodeTypeActionAIRewrite:       {},
	NodeTypeForwardEmail:          {},
	NodeTypeForwardTelegram:       {},
	NodeTypeForwardDiscord:        {},
	NodeTypeForwardSlack:          {},
	NodeTypeForwardWebhook:        {},
}

func (t NodeType) IsTrigger() bool {
	return t == NodeTypeTriggerEmail || t == NodeTypeTriggerSchedule || t == NodeTypeTriggerManual
}

func (t NodeType) IsCondition() bool {
	return t == NodeTypeConditionMatch || t == NodeTypeConditionAIClassifier
}

func (t NodeType) IsForward() bool {
	switch t {
	case NodeTypeForwardEmail, NodeTypeForwardTelegram, NodeTypeForwardDiscord,
		NodeTypeForwardSlack, NodeTypeForwardWebhook:
		return true
	}
	return false
}

// Node is one step in a workflow graph. Data carries the type-specific
// payload and is decoded by the package that executes the node.
type Node struct {
	ID   string          `json:"id"`
	Type NodeType        `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Edge connects two nodes. Label selects which outgoing edge a condition or
// classifier node activates ("true"/"false", or a category name).
type Edge struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Label  string `json:"label,omitempty"`
}

type WorkflowConfig struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// ParseWorkflowConfig decodes and validates a workflow config snapshot.
// Unknown node types and malformed node payloads are rejected here, never at
// execution time.
func ParseWorkflowConfig(raw []byte) (WorkflowConfig, error) {
	var config WorkflowConfig

	if err := json.Unmarshal(raw, &config); err != nil {
		return WorkflowConfig{}, fmt.Errorf("%w: %v", ErrConfigValidation, err)
	}

	if err := config.Validate(); err != nil {
		return WorkflowConfig{}, err
	}

	return config, nil
}

func (c WorkflowConfig) Validate() error {
	nodeIDs := make(map[string]struct{}, len(c.Nodes))
	triggerCount := 0

	for _, node := range c.Nodes {
		if node.ID == "" {
			return fmt.Errorf("%w: node with empty id", ErrConfigValidation)
		}

		if _, exists := nodeIDs[node.ID]; exists {
			return fmt.Errorf("%w: duplicate node id %q", ErrConfigValidation, node.ID)
		}
		nodeIDs[node.ID] = struct{}{}

		if _, known := knownNodeTypes[node.Type]; !known {
			return fmt.Errorf("%w: unknown node type %q", ErrConfigValidation, node.Type)
		}

		if node.Type.IsTrigger() {
			triggerCount++
		}

		if err := validateNodeData(node); err != nil {
			return err
		}
	}

	if triggerCount != 1 {
		return fmt.Errorf("%w: workflow must have exactly one trigger node, found %d", ErrConfigValidation, triggerCount)
	}

	for _, edge := range c.Edges {
		if _, exists := nodeIDs[edge.Source]; !exists {
			return fmt.Errorf("%w: edge source %q references unknown node", ErrConfigValidation, edge.Source)
		}
		if _, exists := nodeIDs[edge.Target]; !exists {
			return fmt.Errorf("%w: edge target %q references unknown node", ErrConfigValidation, edge.Target)
		}
	}

	return nil
}

func (c WorkflowConfig) TriggerNode() (Node, bool) {
	for _, node := range c.Nodes {
		if node.Type.IsTrigger() {
			return node, true
		}
	}

	return Node{}, false
}

func (c WorkflowConfig) NodeByID(id string) (Node, bool) {
	for _, node := range c.Nodes {
		if node.ID == id {
			return node, true
		}
	}

	return Node{}, false
}

func (c WorkflowConfig) OutgoingEdges(nodeID string) []Edge {
	var edges []Edge

	for _, edge := range c.Edges {
		if edge.Source == nodeID {
			edges = append(edges, edge)
		}
	}

	return edges
}

// ReachableNodeIDs walks edges from the trigger node and returns every node
// reachable from it. Nodes outside this set are never invoked.
func (c WorkflowConfig) ReachableNodeIDs() map[string]struct{} {
	reachable := map[string]struct{}{}

	trigger, ok := c.TriggerNode()
	if !ok {
		return reachable
	}

	stack := []string{trigger.ID}

	for len(stack) > 0 {
		nodeID := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if _, seen := reachable[nodeID]; seen {
			continue
		}
		reachable[nodeID] = struct{}{}

		for _, edge := range c.OutgoingEdges(nodeID) {
			stack = append(stack, edge.Target)
		}
	}

	return reachable
}

// MatchNodeData is the payload of a condition:match node.
type MatchNodeData struct {
	Condition Condition `json:"condition"`
}

// ClassifierNodeData is the payload of a condition:ai_classifier node.
type ClassifierNodeData struct {
	Categories          []string `json:"categories"`
	DefaultCategory     string   `json:"defaultCategory"`
	ConfidenceThreshold float64  `json:"confidenceThreshold,omitempty"`
	CustomPrompt        string   `json:"customPrompt,omitempty"`
}

type RewriteTarget string

const (
	RewriteTargetEmail     RewriteTarget = "email"
	RewriteTargetVariables RewriteTarget = "variables"
	RewriteTargetBoth      RewriteTarget = "both"
)

// RewriteNodeData is the payload of an action:ai_rewrite node.
type RewriteNodeData struct {
	Fields      []string      `json:"fields"`
	Prompt      string        `json:"prompt"`
	WriteTarget RewriteTarget `json:"writeTarget"`
}

// ScheduleTriggerData is the payload of a trigger:schedule node. The cron
// spec is validated at config time; the scheduler itself lives outside the
// engine.
type ScheduleTriggerData struct {
	Cron string `json:"cron"`
}

// ForwardNodeData is the payload of a forward:* node: the destination fields
// for that channel plus an optional body template.
type ForwardNodeData struct {
	Destination
	Template string `json:"template,omitempty"`
}

func validateNodeData(node Node) error {
	switch node.Type {
	case NodeTypeConditionMatch:
		var data MatchNodeData
		if err := json.Unmarshal(node.Data, &data); err != nil {
			return fmt.Errorf("%w: node %q: %v", ErrConfigValidation, node.ID, err)
		}
		if err := data.Condition.Validate(); err != nil {
			return fmt.Errorf("node %q: %w", node.ID, err)
		}

	case NodeTypeConditionAIClassifier:
		var data ClassifierNodeData
		if err := json.Unmarshal(node.Data, &data); err != nil {
			return fmt.Errorf("%w: node %q: %v", ErrConfigValidation, node.ID, err)
		}
		if len(data.Categories) == 0 {
			return fmt.Errorf("%w: node %q: classifier requires at least one category", ErrConfigValidation, node.ID)
		}
		if data.DefaultCategory == "" {
			return fmt.Errorf("%w: node %q: classifier requires a default category", ErrConfigValidation, node.ID)
		}

	case NodeTypeActionAIRewrite:
		var data RewriteNodeData
		if err := json.Unmarshal(node.Data, &data); err != nil {
			return fmt.Errorf("%w: node %q: %v", ErrConfigValidation, node.ID, err)
		}
		switch data.WriteTarget {
		case RewriteTargetEmail, RewriteTargetVariables, RewriteTargetBoth:
		default:
			return fmt.Errorf("%w: node %q: unknown write target %q", ErrConfigValidation, node.ID, data.WriteTarget)
		}

	case NodeTypeTriggerSchedule:
		var data ScheduleTriggerData
		if err := json.Unmarshal(node.Data, &data); err != nil {
			return fmt.Errorf("%w: node %q: %v", ErrConfigValidation, node.ID, err)
		}
		if _, err := cron.Parse(data.Cron); err != nil {
			return fmt.Errorf("%w: node %q: invalid cron spec %q: %v", ErrConfigValidation, node.ID, data.Cron, err)
		}

	case NodeTypeForwardEmail, NodeTypeForwardTelegram, NodeTypeForwardDiscord,
		NodeTypeForwardSlack, NodeTypeForwardWebhook:
		var data ForwardNodeData
		if err := json.Unmarshal(node.Data, &data); err != nil {
			return fmt.Errorf("%w: node %q: %v", ErrConfigValidation, node.ID, err)
		}
		data.Destination.Type = DestinationTypeForNode(node.Type)
		if err := data.Destination.Validate(); err != nil {
			return fmt.Errorf("%w: node %q: %v", ErrConfigValidation, node.ID, err)
		}
	}

	return nil
}

// DestinationTypeForNode maps a forward:* node type to its destination type.
func DestinationTypeForNode(t NodeType) DestinationType {
	switch t {
	case NodeTypeForwardEmail:
		return DestinationEmail
	case NodeTypeForwardTelegram:
		return DestinationTelegram
	case NodeTypeForwardDiscord:
		return DestinationDiscord
	case NodeTypeForwardSlack:
		return DestinationSlack
	default:
		return DestinationWebhook
	}
}
