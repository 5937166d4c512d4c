package models

// ServiceNode is a vertex of the service dependency graph.
type ServiceNode struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
	Type string `json:"type" yaml:"type"`
	Tier string `json:"tier" yaml:"tier"`
}

// DependencyEdge points from a provider to the service that depends on it,
// i.e. the direction in which a failure propagates.
type DependencyEdge struct {
	From     string `json:"from" yaml:"from"`
	To       string `json:"to" yaml:"to"`
	Relation string `json:"relation" yaml:"relation"`
}

// GraphSnapshot is a serialisable copy of the whole graph.
type GraphSnapshot struct {
	Services     []ServiceNode    `json:"services" yaml:"services"`
	Dependencies []DependencyEdge `json:"dependencies" yaml:"dependencies"`
}
