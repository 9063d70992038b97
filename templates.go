package adflow

import (
	"github.com/google/uuid"

	"github.com/adflow-labs/adflow/core"
)

// Template is a prebuilt pipeline the user can instantiate onto a canvas.
// Template node ids are conceptual; Instantiate mints fresh stable ids and
// rewires the edges, so a template can be placed any number of times.
type Template struct {
	Name  string
	Nodes []Node
	Edges []Edge
}

// Instantiate returns deep copies of the template's nodes and edges with
// freshly generated ids. Edge endpoints are rewritten through the node id
// mapping; selection flags are cleared.
func (t Template) Instantiate() ([]Node, []Edge) {
	idMap := make(map[string]string, len(t.Nodes))
	nodes := make([]Node, 0, len(t.Nodes))
	for _, n := range t.Nodes {
		fresh := n.Clone()
		idMap[n.ID] = uuid.NewString()
		fresh.ID = idMap[n.ID]
		fresh.Selected = false
		nodes = append(nodes, fresh)
	}

	edges := make([]Edge, 0, len(t.Edges))
	for _, e := range t.Edges {
		edges = append(edges, Edge{
			ID:           uuid.NewString(),
			Source:       idMap[e.Source],
			Target:       idMap[e.Target],
			SourceHandle: e.SourceHandle,
			TargetHandle: e.TargetHandle,
		})
	}
	return nodes, edges
}

// Templates returns the built-in pipeline templates.
func Templates() []Template {
	return []Template{
		{
			Name: "Social Trends Ad",
			Nodes: []Node{
				{ID: "text", Type: core.NodeTextInput, Label: "Product",
					Config:   map[string]any{"value": "Dyson Airwrap"},
					Position: core.Position{X: 50, Y: 100}},
				{ID: "social", Type: core.NodeSocialMedia, Label: "TikTok Trends",
					Config:   map[string]any{"subreddit": "skincare", "limit": 3},
					Position: core.Position{X: 50, Y: 250}},
				{ID: "prompt", Type: core.NodePrompt, Label: "Viral Prompt",
					Config: map[string]any{
						"template": "A cinematic high-end ad for {{text}}, style inspired by {{trends}} aesthetic. Soft luxury lighting, studio photography.",
					},
					Position: core.Position{X: 350, Y: 175}},
				{ID: "model", Type: core.NodeImageModel, Label: "Flux Engine",
					Config:   map[string]any{"model": "fal-ai/flux/schnell"},
					Position: core.Position{X: 750, Y: 175}},
				{ID: "output", Type: core.NodeOutput, Label: "Final Ad",
					Config:   map[string]any{},
					Position: core.Position{X: 1050, Y: 175}},
			},
			Edges: []Edge{
				{Source: "text", Target: "prompt"},
				{Source: "social", Target: "prompt"},
				{Source: "prompt", Target: "model"},
				{Source: "model", Target: "output"},
			},
		},
		{
			Name: "Pro E-commerce",
			Nodes: []Node{
				{ID: "text", Type: core.NodeTextInput, Label: "Specs",
					Config:   map[string]any{"value": "Minimalist Coffee Machine, Matte Black"},
					Position: core.Position{X: 50, Y: 150}},
				{ID: "prompt", Type: core.NodePrompt, Label: "Ecom Writer",
					Config: map[string]any{
						"template": "Commercial product photography of {{text}} on a kitchen counter, daylight, 8k, bokeh background.",
					},
					Position: core.Position{X: 350, Y: 150}},
				{ID: "model", Type: core.NodeImageModel, Label: "Premium GPU",
					Config:   map[string]any{"model": "fal-ai/flux/pro"},
					Position: core.Position{X: 650, Y: 150}},
				{ID: "output", Type: core.NodeOutput, Label: "Store Listing",
					Config:   map[string]any{},
					Position: core.Position{X: 950, Y: 150}},
			},
			Edges: []Edge{
				{Source: "text", Target: "prompt"},
				{Source: "prompt", Target: "model"},
				{Source: "model", Target: "output"},
			},
		},
		{
			Name: "Image Remix",
			Nodes: []Node{
				{ID: "image", Type: core.NodeImageInput, Label: "Reference Shot",
					Config:   map[string]any{},
					Position: core.Position{X: 50, Y: 150}},
				{ID: "prompt", Type: core.NodePrompt, Label: "Remix Prompt",
					Config: map[string]any{
						"template": "Rework {{image}} as a bold street-style campaign visual, high contrast, grain.",
					},
					Position: core.Position{X: 350, Y: 150}},
				{ID: "model", Type: core.NodeImageModel, Label: "Flux Engine",
					Config:   map[string]any{"model": "fal-ai/flux/schnell", "aspect_ratio": "9:16"},
					Position: core.Position{X: 650, Y: 150}},
				{ID: "output", Type: core.NodeOutput, Label: "Campaign Visual",
					Config:   map[string]any{},
					Position: core.Position{X: 950, Y: 150}},
			},
			Edges: []Edge{
				{Source: "image", Target: "prompt"},
				{Source: "prompt", Target: "model"},
				{Source: "model", Target: "output"},
			},
		},
	}
}

// TemplateByName looks up a built-in template by its display name.
func TemplateByName(name string) (Template, bool) {
	for _, t := range Templates() {
		if t.Name == name {
			return t, true
		}
	}
	return Template{}, false
}
