package adflow

import (
	"testing"

	"github.com/google/uuid"
)

func TestTemplate_Instantiate(t *testing.T) {
	tpl, ok := TemplateByName("Social Trends Ad")
	if !ok {
		t.Fatal("built-in template missing")
	}

	nodes, edges := tpl.Instantiate()
	if len(nodes) != len(tpl.Nodes) || len(edges) != len(tpl.Edges) {
		t.Fatalf("got %d nodes / %d edges", len(nodes), len(edges))
	}

	ids := make(map[string]bool)
	for _, n := range nodes {
		if err := uuid.Validate(n.ID); err != nil {
			t.Errorf("node id %q is not a UUID: %v", n.ID, err)
		}
		ids[n.ID] = true
	}
	for _, e := range edges {
		if !ids[e.Source] || !ids[e.Target] {
			t.Errorf("edge %s -> %s does not reference instantiated nodes", e.Source, e.Target)
		}
	}
}

func TestTemplate_InstantiateTwiceDistinct(t *testing.T) {
	tpl := Templates()[0]
	first, _ := tpl.Instantiate()
	second, _ := tpl.Instantiate()

	for i := range first {
		if first[i].ID == second[i].ID {
			t.Errorf("instantiations share node id %s", first[i].ID)
		}
	}
}

func TestTemplate_InstantiateDoesNotAliasConfig(t *testing.T) {
	tpl := Templates()[0]
	nodes, _ := tpl.Instantiate()
	nodes[0].Config["value"] = "mutated"

	again, _ := tpl.Instantiate()
	if again[0].Config["value"] == "mutated" {
		t.Error("template config leaked between instantiations")
	}
}
