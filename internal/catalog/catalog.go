// Package catalog holds the known MCP method, chess tool and chess resource
// names with their human-readable descriptions.
package catalog

// Kind tells which table a descriptor belongs to.
type Kind int

const (
	KindUnknown Kind = iota
	KindMethod
	KindTool
	KindResource
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindMethod:
		return "method"
	case KindTool:
		return "tool"
	case KindResource:
		return "resource"
	default:
		return "unknown"
	}
}

// Descriptor pairs a name with its description.
type Descriptor struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Kind        Kind   `json:"-"`
}

var methods = []Descriptor{
	{"initialize", "Initialize MCP connection", KindMethod},
	{"tools/list", "List available tools", KindMethod},
	{"resources/list", "List available resources", KindMethod},
	{"tools/call", "Call a tool", KindMethod},
	{"resources/read", "Read a resource", KindMethod},
	{"notifications/initialized", "Connection initialized notification", KindMethod},
	{"notifications/chess/game_state", "Chess game state notification", KindMethod},
	{"notifications/chess/ai_move", "AI move notification", KindMethod},
	{"notifications/chess/training_progress", "Training progress notification", KindMethod},
}

var tools = []Descriptor{
	{"create_chess_game", "Create new chess game", KindTool},
	{"make_chess_move", "Make a chess move", KindTool},
	{"get_board_state", "Get current board state", KindTool},
	{"analyze_position", "Analyze chess position", KindTool},
	{"get_legal_moves", "Get legal moves", KindTool},
	{"get_move_hint", "Get move hint", KindTool},
	{"create_tournament", "Create tournament", KindTool},
	{"get_tournament_status", "Get tournament status", KindTool},
}

var resources = []Descriptor{
	{"chess://ai-systems", "AI systems information", KindResource},
	{"chess://opening-book", "Opening book database", KindResource},
	{"chess://game-history", "Game history", KindResource},
	{"chess://training-data", "Training data", KindResource},
	{"chess://performance-metrics", "Performance metrics", KindResource},
}

// lookup order: protocol methods, then tools, then resources.
var tables = [][]Descriptor{methods, tools, resources}

// Describe returns the description of a method, tool or resource name.
// Matching is exact and case-sensitive; the first table hit wins.
func Describe(name string) (string, bool) {
	d, ok := Lookup(name)
	if !ok {
		return "", false
	}
	return d.Description, true
}

// Lookup returns the full descriptor for name.
func Lookup(name string) (Descriptor, bool) {
	for _, table := range tables {
		for _, d := range table {
			if d.Name == name {
				return d, true
			}
		}
	}
	return Descriptor{}, false
}

// Methods returns a copy of the protocol method table.
func Methods() []Descriptor { return clone(methods) }

// Tools returns a copy of the chess tool table.
func Tools() []Descriptor { return clone(tools) }

// Resources returns a copy of the chess resource table.
func Resources() []Descriptor { return clone(resources) }

// All returns every descriptor in lookup order.
func All() []Descriptor {
	all := make([]Descriptor, 0, len(methods)+len(tools)+len(resources))
	for _, table := range tables {
		all = append(all, table...)
	}
	return all
}

func clone(ds []Descriptor) []Descriptor {
	out := make([]Descriptor, len(ds))
	copy(out, ds)
	return out
}
