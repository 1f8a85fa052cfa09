package engine

import (
	"encoding/json"
)

// DrawCommand is a single drawing operation for the frontend to execute on a
// Canvas2D context. Transform already includes the view transform.
type DrawCommand struct {
	Op          string    `json:"op"`                    // "document" or "marker"
	ObjectID    string    `json:"objectId,omitempty"`    // For hit correlation
	Transform   []float64 `json:"transform,omitempty"`   // [a, b, c, d, e, f] affine matrix
	Source      string    `json:"source,omitempty"`      // Document URL
	SourceType  string    `json:"sourceType,omitempty"`  // "image" or "pdf"
	Page        int       `json:"page,omitempty"`        // PDF page, 1-based
	Width       float64   `json:"width,omitempty"`       // Document natural width
	Height      float64   `json:"height,omitempty"`      // Document natural height
	Radius      float64   `json:"radius,omitempty"`      // Marker radius
	Fill        string    `json:"fill,omitempty"`        // Fill color
	Stroke      string    `json:"stroke,omitempty"`      // Stroke color
	StrokeWidth float64   `json:"strokeWidth,omitempty"` // Stroke width
	Label       string    `json:"label,omitempty"`       // Marker ordinal
}

// CompileDrawCommands generates the command buffer in painter's order.
func CompileDrawCommands(view Matrix2D, objects []*Object) []DrawCommand {
	commands := make([]DrawCommand, 0, len(objects))
	for _, o := range objects {
		world := view.Multiply(o.Transform).ToSlice()
		switch o.Kind {
		case KindDocument:
			commands = append(commands, DrawCommand{
				Op:         "document",
				ObjectID:   o.ID,
				Transform:  world,
				Source:     o.Source,
				SourceType: string(o.SourceType),
				Page:       o.Page,
				Width:      o.Width,
				Height:     o.Height,
			})
		case KindMarker:
			commands = append(commands, DrawCommand{
				Op:          "marker",
				ObjectID:    o.ID,
				Transform:   world,
				Radius:      o.Radius,
				Fill:        o.Fill,
				Stroke:      o.Stroke,
				StrokeWidth: o.StrokeWidth,
				Label:       o.Label,
			})
		}
	}
	return commands
}

// DrawCommandsToJSON serializes draw commands to JSON.
func DrawCommandsToJSON(commands []DrawCommand) (string, error) {
	if commands == nil {
		commands = []DrawCommand{}
	}
	data, err := json.Marshal(commands)
	if err != nil {
		return "[]", err
	}
	return string(data), nil
}
