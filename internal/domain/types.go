package domain

import (
	"encoding/json"
	"time"
)

// ============================================================================
// Entity kind constants
// ============================================================================

const (
	KindDocument    = "document"
	KindEmployee    = "employee"
	KindProduct     = "product"
	KindCustomer    = "customer"
	KindTransaction = "transaction"
)

// Kinds lists every entity kind the system indexes.
var Kinds = []string{KindDocument, KindEmployee, KindProduct, KindCustomer, KindTransaction}

// ValidKind reports whether s names a known entity kind.
func ValidKind(s string) bool {
	for _, k := range Kinds {
		if k == s {
			return true
		}
	}
	return false
}

// ============================================================================
// Agent type constants
// ============================================================================

const (
	AgentFinance     = "finance"
	AgentHR          = "hr"
	AgentSupplyChain = "supply_chain"
)

// ============================================================================
// Role constants for agent conversations
// ============================================================================

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// ============================================================================
// Business entities
// ============================================================================

// Employee is a staff record.
type Employee struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Email      string    `json:"email,omitempty"`
	Department string    `json:"department,omitempty"`
	Position   string    `json:"position,omitempty"`
	Skills     []string  `json:"skills,omitempty"`
	HiredAt    time.Time `json:"hired_at,omitempty"`
	Embedding  []float32 `json:"embedding,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Product is an inventory item.
type Product struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	SKU          string    `json:"sku,omitempty"`
	Description  string    `json:"description,omitempty"`
	Category     string    `json:"category,omitempty"`
	Price        float64   `json:"price"`
	Stock        int       `json:"stock"`
	ReorderLevel int       `json:"reorder_level,omitempty"`
	Embedding    []float32 `json:"embedding,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Customer is a client record.
type Customer struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	Segment   string    `json:"segment,omitempty"`
	Address   string    `json:"address,omitempty"`
	Embedding []float32 `json:"embedding,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Transaction is a financial movement (sale, purchase, refund, expense).
type Transaction struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Amount      float64   `json:"amount"`
	Currency    string    `json:"currency,omitempty"`
	CustomerID  string    `json:"customer_id,omitempty"`
	ProductID   string    `json:"product_id,omitempty"`
	Quantity    int       `json:"quantity,omitempty"`
	Description string    `json:"description,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
	Embedding   []float32 `json:"embedding,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ToDoc flattens an entity into the map shape used by the vector index and
// the fabric. Zero-value optional fields are omitted by the json tags.
func ToDoc(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// ============================================================================
// Message - agent conversation turn
// ============================================================================

// Message is one turn in an agent conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

// Messages is an ordered conversation.
type Messages []Message

// Format renders the conversation as plain text for LLM prompts.
func (m Messages) Format() string {
	var result string
	for _, msg := range m {
		name := msg.Name
		if name == "" {
			name = msg.Role
		}
		result += name + ": " + msg.Content + "\n"
	}
	return result
}

// ============================================================================
// API Request/Response
// ============================================================================

// AskRequest is a natural-language request routed to an agent.
type AskRequest struct {
	Query     string         `json:"query"`
	SessionID string         `json:"session_id,omitempty"`
	Params    map[string]any `json:"params,omitempty"`
}

// AskResponse is the agent's answer.
type AskResponse struct {
	Agent      string         `json:"agent"`
	Answer     string         `json:"answer"`
	Data       map[string]any `json:"data,omitempty"`
	Confidence float64        `json:"confidence,omitempty"`
	Model      string         `json:"model,omitempty"`
}

// NodeRequest creates or updates a fabric node.
type NodeRequest struct {
	Type       string         `json:"type"`
	Name       string         `json:"name"`
	Properties map[string]any `json:"properties,omitempty"`
}

// ConnectRequest links two fabric nodes.
type ConnectRequest struct {
	SourceID     string         `json:"source_id"`
	TargetID     string         `json:"target_id"`
	RelationType string         `json:"relation_type"`
	Properties   map[string]any `json:"properties,omitempty"`
}

// SearchRequest is a semantic search over fabric nodes.
type SearchRequest struct {
	Query    string `json:"query"`
	NodeType string `json:"node_type,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

// WorkflowRequest starts a workflow, either from a registered template or
// generated by the LLM from a natural-language description.
type WorkflowRequest struct {
	Template    string         `json:"template,omitempty"`
	Description string         `json:"description,omitempty"`
	Params      map[string]any `json:"params,omitempty"`
}

// TokenRequest exchanges credentials for a JWT.
type TokenRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// TokenResponse carries the issued JWT.
type TokenResponse struct {
	Token string `json:"token"`
}
