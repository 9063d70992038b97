package adflow

// Edge is a directed connection between two node ports.
type Edge struct {
	ID     string
	Source string // source node ID
	Target string // target node ID

	// SourceHandle and TargetHandle discriminate ports on nodes with more
	// than one input or output. Empty for single-port nodes.
	SourceHandle string
	TargetHandle string

	// Selected mirrors the canvas selection state.
	Selected bool
}

// Connection is the user gesture of dragging a wire between two ports.
type Connection struct {
	Source       string
	Target       string
	SourceHandle string
	TargetHandle string
}
