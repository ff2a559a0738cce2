package cypher

import "github.com/latticedb/graphcore/pkg/columnar"

// ExecuteResult holds one statement's execution results. Columnar is the
// same result set as Rows, materialized as a page-backed columnar.Table
// (spec §4.8: "a result set is a set of named columns plus a row
// count") — Rows stays the row-major view every caller already consumes
// (session responses, Bolt-style wire encoding), Columnar is the
// column-major view EXPLAIN-style tooling and any future batch consumer
// reads instead of re-transposing Rows by hand.
type ExecuteResult struct {
	Columns  []string
	Rows     [][]interface{}
	Columnar *columnar.Table
	Stats    *QueryStats
	Metadata map[string]interface{}
}

// QueryStats holds query execution statistics (spec §4.9's response
// contract: nodes_created, nodes_deleted, relationships_created,
// relationships_deleted, properties_set, plus labels_added, counted for
// SET label assignments only) plus the columnar runtime's join-planning
// decision (spec §4.8), recorded for EXPLAIN-style introspection.
type QueryStats struct {
	NodesCreated         int `json:"nodes_created"`
	NodesDeleted         int `json:"nodes_deleted"`
	RelationshipsCreated int `json:"relationships_created"`
	RelationshipsDeleted int `json:"relationships_deleted"`
	PropertiesSet        int `json:"properties_set"`
	LabelsAdded          int `json:"labels_added"`
	ExecutionTimeMs      int64   `json:"execution_time_ms"`
	JoinAlgorithm        string  `json:"join_algorithm,omitempty"`
	JoinCost             float64 `json:"join_cost,omitempty"`
}
