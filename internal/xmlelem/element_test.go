package xmlelem

import "testing"

func TestElementToMap(t *testing.T) {
	comment := NewElement("comment")
	comment.SetAttr("type", "function")
	text := NewElement("text")
	text.Text = "Binds calcium."
	comment.AddChild(text)

	m := comment.ToMap()
	if m["@type"] != "function" {
		t.Fatalf("expected @type=function, got %v", m["@type"])
	}
	textMap, ok := m["text"].(map[string]any)
	if !ok {
		t.Fatalf("expected nested text map, got %T", m["text"])
	}
	if textMap["#text"] != "Binds calcium." {
		t.Fatalf("expected text content preserved, got %v", textMap["#text"])
	}
}

func TestElementToMapRepeatedChildrenBecomeArray(t *testing.T) {
	root := NewElement("entry")
	for _, v := range []string{"P11111", "P22222"} {
		acc := NewElement("accession")
		acc.Text = v
		root.AddChild(acc)
	}
	m := root.ToMap()
	arr, ok := m["accession"].([]any)
	if !ok {
		t.Fatalf("expected array for repeated child, got %T", m["accession"])
	}
	if len(arr) != 2 {
		t.Fatalf("expected 2 accessions, got %d", len(arr))
	}
}

func TestChildrenByTagAndFirstChild(t *testing.T) {
	root := NewElement("organism")
	name1 := NewElement("name")
	name1.SetAttr("type", "scientific")
	name1.Text = "Homo sapiens"
	name2 := NewElement("name")
	name2.SetAttr("type", "common")
	name2.Text = "Human"
	root.AddChild(name1)
	root.AddChild(name2)

	if got := len(root.ChildrenByTag("name")); got != 2 {
		t.Fatalf("expected 2 name children, got %d", got)
	}
	first := root.FirstChild("name")
	if first == nil || first.Text != "Homo sapiens" {
		t.Fatalf("expected first child to be the scientific name, got %+v", first)
	}
}
