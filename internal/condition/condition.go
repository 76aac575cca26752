package condition

import "encoding/json"

// Operator names one leaf comparison.
type Operator string

const (
	OpEq       Operator = "eq"
	OpNeq      Operator = "neq"
	OpGt       Operator = "gt"
	OpGte      Operator = "gte"
	OpLt       Operator = "lt"
	OpLte      Operator = "lte"
	OpIncludes Operator = "includes"
	OpExcludes Operator = "excludes"
	OpExists   Operator = "exists"
	OpMissing  Operator = "missing"
)

// Condition is one node of a boolean tree. A node is either a
// combinator (All or Any populated, at most one of the two) or a leaf
// comparison of a dot-path in the context against a value.
type Condition struct {
	All []Condition `json:"all,omitempty"`
	Any []Condition `json:"any,omitempty"`

	Field string      `json:"field,omitempty"`
	Op    Operator    `json:"op,omitempty"`
	Value interface{} `json:"value,omitempty"`
}

// Parse decodes a condition tree from its JSON form.
func Parse(raw json.RawMessage) (Condition, error) {
	var c Condition
	if len(raw) == 0 {
		return c, nil
	}
	if err := json.Unmarshal(raw, &c); err != nil {
		return Condition{}, err
	}
	return c, nil
}

// NodeResult records the outcome of one node during a traced evaluation.
type NodeResult struct {
	Condition Condition `json:"condition"`
	Result    bool      `json:"result"`
}
